// Package app composes the sync core into a runnable daemon: it owns the
// account context, opens the cache, wires the engines together, and serves
// the local read API the presentation layer queries.
package app

import (
	"context"
	"fmt"
	"net/http"

	"skymirror/internal/retention"
	"skymirror/pkg/cache"
	"skymirror/pkg/config"
	"skymirror/pkg/logger"
	"skymirror/pkg/mutate"
	"skymirror/pkg/notify"
	"skymirror/pkg/remote"
	"skymirror/pkg/state"
	"skymirror/pkg/stream"
	"skymirror/pkg/syncer"
	"skymirror/pkg/telemetry"
)

// App encapsulates the daemon components and lifecycle.
type App struct {
	cfg     *config.Config
	version string

	store    *cache.Store
	index    *stream.Index
	syncer   *syncer.Synchronizer
	mutator  *mutate.Engine
	notifier *notify.Pipeline
	sweeper  *retention.Sweeper

	srv *http.Server
}

// New opens the cache and wires every component. It does not start the
// scheduler or the HTTP server; call Run for that.
func New(cfg *config.Config, version string) (*App, error) {
	if cfg.Account.Identity == "" {
		return nil, fmt.Errorf("account.identity must be configured")
	}

	paths, err := state.EnsureDirs(cfg.Server.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare cache layout at %s: %w", cfg.Server.DBPath, err)
	}
	telemetry.SetOutputDir(paths.Telemetry)

	st, err := cache.Open(paths.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %s: %w", paths.Store, err)
	}

	idx := stream.New(st)
	indexClient := remote.NewHTTPClient(remote.HTTPOptions{
		BaseURL: cfg.Remote.IndexURL,
		APIKey:  cfg.Remote.APIKey,
		RPS:     cfg.Remote.RPS,
		Burst:   cfg.Remote.Burst,
	})
	storeClient := remote.NewHTTPClient(remote.HTTPOptions{
		BaseURL: cfg.Remote.StoreURL,
		APIKey:  cfg.Remote.APIKey,
	})

	sy := syncer.New(st, idx, indexClient)
	a := &App{
		cfg:      cfg,
		version:  version,
		store:    st,
		index:    idx,
		syncer:   sy,
		mutator:  mutate.New(st, storeClient, cfg.Account.Identity),
		notifier: notify.New(st, idx, sy, storeClient),
		sweeper:  retention.New(st, idx, cfg.Retention),
	}
	return a, nil
}

// Run starts the retention scheduler and the HTTP server, blocking until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	stopRetention, err := a.sweeper.Start(ctx)
	if err != nil {
		return err
	}
	defer stopRetention()

	errCh := a.startHTTP()
	logger.Info("skymirror_started", "addr", a.cfg.Addr(), "identity", a.cfg.Account.Identity, "version", a.version)

	select {
	case <-ctx.Done():
		_ = a.srv.Shutdown(context.Background())
		return a.store.Close()
	case err := <-errCh:
		_ = a.store.Close()
		return err
	}
}
