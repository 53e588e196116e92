package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/panelsync/panelsync/model"
)

func (a *App) checkRetests(ctx *cli.Context) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return configExit(err)
	}

	fmt.Println("Checking for pending retests...")
	items, err := s.client.RetestQueue(ctx.Context, ctx.String("version"))
	if err != nil {
		fmt.Printf("✗ Could not fetch retests: %v\n", err)
		return cli.Exit("", 1)
	}
	printRetests(items)
	return nil
}

// printRetests renders the retest queue the way testers are used to
// reading it. Also used by the daemon's check callback.
func printRetests(items []model.RetestItem) {
	renderRetests(os.Stdout, items)
}

func renderRetests(w io.Writer, items []model.RetestItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No pending retests.")
		return
	}

	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\n", rule)
	fmt.Fprintf(w, "RETEST QUEUE (%d items)\n", len(items))
	fmt.Fprintln(w, rule)

	for _, item := range items {
		fmt.Fprintf(w, "\n[%s] Test %s: %s\n", strings.ToUpper(item.Type), item.TestKey, item.TestName)
		fmt.Fprintf(w, "  Version: %s\n", item.ClientVersion)
		fmt.Fprintf(w, "  Reason: %s\n", item.Reason)
		if item.Notes != "" {
			fmt.Fprintf(w, "  Admin Notes: %s\n", item.Notes)
		}
		if item.ReportID != 0 {
			revisionInfo := ""
			if item.ReportRevision != nil {
				revisionInfo = fmt.Sprintf(" (revision %d)", *item.ReportRevision)
			}
			fmt.Fprintf(w, "  Report ID: %d%s\n", item.ReportID, revisionInfo)
		}
		if item.LatestRevision {
			fmt.Fprintln(w, "  ** Uses LATEST REVISION **")
		}
		if item.CommitHash != "" {
			fmt.Fprintf(w, "  Fix commit: %s\n", item.CommitHash)
		}
	}

	fmt.Fprintf(w, "\n%s\n\n", rule)
}
