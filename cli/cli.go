// Package cli wires the panelsync commands: submitting report files,
// checking the retest queue, probing connectivity, managing the offline
// queue, and running the background watcher as a foreground daemon.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/panelsync/panelsync/config"
)

const AppName = "panelsync"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Sync emulator test results with the test panel",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "Path to the config file (searched for when omitted)",
				},
				&cli.StringFlag{
					Name:  "cache",
					Usage: "Path to the cache file",
				},
				&cli.BoolFlag{
					Name:    "verbose",
					Aliases: []string{"v"},
					Usage:   "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "submit",
		Usage:     "Submit a session results file to the panel",
		ArgsUsage: "FILE",
		Action:    app.submit,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "check-retests",
		Usage:  "Check for pending retests",
		Action: app.checkRetests,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "version",
				Aliases: []string{"V"},
				Usage:   "Filter by client version",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "test-connection",
		Usage:  "Test API connection",
		Action: app.testConnection,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "create-config",
		Usage:  "Create template config file",
		Action: app.createConfig,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output path",
				Value:   config.DefaultFile,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "daemon",
		Usage:  "Run as daemon checking retests",
		Action: app.daemon,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Check interval in seconds",
				Value:   config.DefaultCheckInterval,
			},
			&cli.StringFlag{
				Name:    "version",
				Aliases: []string{"V"},
				Usage:   "Filter by client version",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "pending",
		Usage:  "List queued submissions waiting for the panel",
		Action: app.pending,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "retry",
				Usage: "Try to deliver queued submissions now",
			},
			&cli.StringFlag{
				Name:  "clear",
				Usage: "Drop one queued submission by id",
			},
		},
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
