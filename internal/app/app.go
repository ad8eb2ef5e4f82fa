// Package app wires the ledger daemon together and runs one of its modes:
// serve the HTTP API, archive finalized wishes once, or apply migrations.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/wishledger/internal/config"
)

// App owns the resources Wire opened and releases them in Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"serve":   (*App).ServeMode,
	"archive": (*App).ArchiveMode,
	"migrate": (*App).MigrateMode,
}

// Run wires dependencies for the configured mode and blocks until that mode
// returns. Resources stay open until Close.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	started := time.Now()
	a.logger.InfoContext(ctx, "wiring",
		slog.String("mode", mode),
		slog.String("storage", a.cfg.Storage.Backend),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("archive", a.cfg.Archive.Enabled),
	)
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	err = run(a, ctx, deps)
	a.logger.InfoContext(ctx, "mode finished",
		slog.String("mode", mode),
		slog.Duration("elapsed", time.Since(started)),
	)
	return err
}

// Close runs the registered cleanups newest first. Later calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("count", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
