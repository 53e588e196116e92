package cli

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/panelsync/panelsync/submit"
)

func (a *App) submit(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("usage: panelsync submit FILE", 1)
	}
	path := ctx.Args().First()

	s, err := a.openSession(ctx)
	if err != nil {
		return configExit(err)
	}

	fmt.Printf("Submitting report: %s\n", path)
	outcome, err := s.pipeline.SubmitFile(ctx.Context, path)
	if err != nil {
		var queued *submit.QueuedError
		if errors.As(err, &queued) {
			fmt.Printf("\n✗ Submission failed: %s\n", queued.Error())
			fmt.Printf("  Queued as: %s (%d pending)\n", queued.ID, s.store.PendingCount())
			return cli.Exit("", 1)
		}
		fmt.Printf("\n✗ Submission failed: %v\n", err)
		return cli.Exit("", 1)
	}

	fmt.Println("\n✓ Report submitted successfully!")
	if ack := outcome.Ack; ack != nil {
		fmt.Printf("  Report ID: %d\n", ack.ReportID)
		if ack.ClientVersion != "" {
			fmt.Printf("  Client Version: %s\n", ack.ClientVersion)
		}
		fmt.Printf("  Tests Recorded: %d\n", ack.TestsRecorded)
		if ack.ViewURL != "" {
			fmt.Printf("  View URL: %s\n", ack.ViewURL)
		}
	} else {
		fmt.Printf("  Panel already has this content (%d version(s) unchanged)\n", len(outcome.Skipped))
	}
	return nil
}

// configExit turns a config load or validation failure into the exit-1
// message the original tool printed.
func configExit(err error) error {
	fmt.Printf("Config error: %v\n", err)
	fmt.Printf("\nRun '%s create-config' to create a template.\n", AppName)
	return cli.Exit("", 1)
}
