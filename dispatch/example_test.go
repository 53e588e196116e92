package dispatch_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/panelsync/panelsync/dispatch"
)

func ExampleDispatcher() {
	// One worker keeps completion order deterministic
	d := dispatch.New(1, zerolog.Nop())

	results := make(chan dispatch.Result, 2)
	d.Submit(func(ctx context.Context) (any, error) {
		return "versions fetched", nil
	}, func(r dispatch.Result) { results <- r })
	d.Submit(func(ctx context.Context) (any, error) {
		return nil, errors.New("panel unreachable")
	}, func(r dispatch.Result) { results <- r })

	// Close lets queued tasks finish before returning
	d.Close()
	close(results)

	for r := range results {
		if r.Err != nil {
			fmt.Printf("task failed: %v\n", r.Err)
			continue
		}
		fmt.Println(r.Value)
	}
	// Output:
	// versions fetched
	// task failed: panel unreachable
}
