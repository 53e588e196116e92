package cli

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/panelsync/panelsync/cache"
	"github.com/panelsync/panelsync/config"
	"github.com/panelsync/panelsync/panel"
	"github.com/panelsync/panelsync/submit"
)

// session is the wired-up client stack every networked command runs on.
type session struct {
	cfg      *config.Config
	store    *cache.Store
	client   *panel.Client
	pipeline *submit.Pipeline
}

// openSession loads the config, opens the cache and connects the pipeline's
// drain to the client's reconnect transition, so any command that brings
// the client online also delivers queued reports.
func (a *App) openSession(ctx *cli.Context) (*session, error) {
	path := ctx.String("config")
	if path == "" {
		found, err := config.Search()
		if err != nil {
			return nil, err
		}
		path = found
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a.logger.Debug().Str("config", path).Str("api_url", cfg.APIURL).Msg("Loaded config")

	cachePath := ctx.String("cache")
	if cachePath == "" {
		cachePath = cache.DefaultPath()
	}
	store := cache.Open(cachePath, a.logger)
	client := panel.New(cfg, store, a.logger)
	pipeline := submit.New(client, store, a.logger)
	client.SetDrainHook(func() { pipeline.Drain(context.Background()) })

	return &session{cfg: cfg, store: store, client: client, pipeline: pipeline}, nil
}
