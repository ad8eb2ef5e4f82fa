package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wishledger/internal/crypto"
	"github.com/alanyoungcy/wishledger/internal/server"
	"github.com/alanyoungcy/wishledger/internal/server/handler"
	"github.com/alanyoungcy/wishledger/internal/server/middleware"
)

// ServeMode runs the HTTP API and, when enabled, the periodic archive loop.
// It blocks until ctx is cancelled or a component fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	srv := a.newServer(deps)

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)),
			slog.Bool("signatures", a.cfg.Auth.RequireSignatures))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			a.archiveLoop(ctx, deps)
			return nil
		})
	}

	return g.Wait()
}

// ArchiveMode runs a single archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode: s3 is not configured")
	}
	n, err := a.archiveOnce(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("wishes", n))
	return nil
}

// MigrateMode exits once Wire has applied the schema migrations.
func (a *App) MigrateMode(ctx context.Context, _ *Dependencies) error {
	if a.cfg.Storage.Backend != "postgres" {
		a.logger.InfoContext(ctx, "nothing to migrate", slog.String("storage", a.cfg.Storage.Backend))
		return nil
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}

func (a *App) newServer(deps *Dependencies) *server.Server {
	// A nil verifier makes the caller middleware trust X-Wish-Caller.
	var verifier middleware.CallVerifier
	if a.cfg.Auth.RequireSignatures {
		verifier = crypto.NewVerifier(a.cfg.Auth.ChainID, a.cfg.Auth.MaxSkew.Duration, deps.NonceGuard)
	} else {
		a.logger.Warn("request signatures disabled; X-Wish-Caller is trusted as sent")
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Wishes:   handler.NewWishHandler(deps.Service, a.logger),
		Accounts: handler.NewAccountHandler(deps.Service, a.logger),
		Archive:  handler.NewArchiveHandler(deps.Archiver, deps.BlobReader, a.logger),
	}

	return server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		AdminKey:        a.cfg.Auth.AdminKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		ReadTimeout:     a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:    a.cfg.Server.WriteTimeout.Duration,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration,
	}, handlers, server.Deps{
		Caller:   middleware.NewCallerAuth(verifier, a.logger),
		Limiter:  deps.RateLimiter,
		Metrics:  middleware.NewHTTPMetrics(deps.Registry),
		Gatherer: deps.Registry,
	}, a.logger)
}

func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	a.logger.InfoContext(ctx, "archive loop started", slog.Duration("interval", interval))

	runOnce := func() {
		n, err := a.archiveOnce(ctx, deps)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			if deps.Notifier != nil {
				_ = deps.Notifier.Error(ctx, "archive", err)
			}
			return
		}
		a.logger.InfoContext(ctx, "archive run complete", slog.Int64("wishes", n))
	}

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) (int64, error) {
	before := time.Now().UTC().Add(-a.cfg.Archive.MinAge.Duration)
	return deps.Archiver.ArchiveFinalized(ctx, before)
}
