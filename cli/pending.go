package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// pending lists the offline submission queue. --retry drains it now;
// --clear drops one entry, the only way an entry leaves the queue without
// the panel accepting it.
func (a *App) pending(ctx *cli.Context) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return configExit(err)
	}

	if id := ctx.String("clear"); id != "" {
		if !s.store.Remove(id) {
			fmt.Printf("✗ No pending submission with id %s\n", id)
			return cli.Exit("", 1)
		}
		fmt.Printf("Removed pending submission %s\n", id)
		return nil
	}

	if ctx.Bool("retry") {
		delivered := s.pipeline.Drain(ctx.Context)
		fmt.Printf("Delivered %d queued submission(s)\n", delivered)
	}

	entries := s.store.Pending()
	if len(entries) == 0 {
		fmt.Println("No pending submissions.")
		return nil
	}

	fmt.Printf("%d pending submission(s):\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %s  queued %s  attempts=%d\n",
			e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Attempts)
		if e.SourceRef != "" {
			fmt.Printf("      source: %s\n", e.SourceRef)
		}
		if e.LastError != "" {
			fmt.Printf("      last error: %s\n", e.LastError)
		}
	}
	return nil
}
