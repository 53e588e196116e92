package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/panelsync/panelsync/panel"
)

// daemon runs the retest watcher in the foreground until SIGINT/SIGTERM.
// Each check cycle prints whatever the panel's retest queue holds.
func (a *App) daemon(ctx *cli.Context) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return configExit(err)
	}

	interval := s.cfg.Interval()
	if ctx.IsSet("interval") {
		interval = time.Duration(ctx.Int("interval")) * time.Second
	}

	fmt.Printf("Starting daemon mode (checking every %ds)\n", int(interval.Seconds()))
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	// Establish online state up front; a reachable panel also triggers the
	// pending-queue drain through the reconnect hook.
	if _, err := s.client.Versions(ctx.Context, panel.VersionOptions{}); err != nil {
		a.logger.Warn().Err(err).Msg("Panel not reachable yet, will keep checking")
	}

	watcher := panel.NewWatcher(s.client, interval, ctx.String("version"), a.logger)
	watcher.OnRetests(printRetests)

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher.Start(runCtx)
	<-runCtx.Done()

	fmt.Println("\nStopping...")
	watcher.Stop()
	if err := s.store.Save(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to save cache on shutdown")
	}
	return nil
}
