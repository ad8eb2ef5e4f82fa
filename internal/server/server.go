// Package server exposes the wish ledger over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/server/handler"
	"github.com/alanyoungcy/wishledger/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminKey    string // if empty, admin routes answer 403

	RateLimit       int // requests per RateLimitWindow; 0 disables
	RateLimitWindow time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Wishes   *handler.WishHandler
	Accounts *handler.AccountHandler
	Archive  *handler.ArchiveHandler
}

// Deps are the cross-cutting collaborators of the middleware chain.
type Deps struct {
	Caller   *middleware.CallerAuth
	Limiter  domain.RateLimiter // nil disables rate limiting
	Metrics  *middleware.HTTPMetrics
	Gatherer prometheus.Gatherer // served on /metrics when non-nil
}

// Server is the HTTP API server for the wish ledger.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	caller := deps.Caller
	if caller == nil {
		caller = middleware.NewCallerAuth(nil, logger)
	}
	admin := middleware.AdminAuth(cfg.AdminKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("POST /api/wishes", caller.Required(http.HandlerFunc(handlers.Wishes.CreateWish)))
	mux.HandleFunc("GET /api/wishes", handlers.Wishes.ListWishes)
	mux.HandleFunc("GET /api/wishes/{id}", handlers.Wishes.GetWish)
	mux.Handle("POST /api/wishes/{id}/fund", caller.Required(http.HandlerFunc(handlers.Wishes.FundWish)))
	mux.Handle("POST /api/wishes/{id}/claim", caller.Required(http.HandlerFunc(handlers.Wishes.Claim)))
	mux.Handle("POST /api/wishes/{id}/settle", caller.Optional(http.HandlerFunc(handlers.Wishes.Settle)))

	mux.HandleFunc("GET /api/accounts/{address}", handlers.Accounts.Balance)
	mux.Handle("POST /api/accounts/withdraw", caller.Required(http.HandlerFunc(handlers.Accounts.Withdraw)))

	mux.Handle("POST /api/admin/accounts/{address}/deposit", admin(http.HandlerFunc(handlers.Accounts.Deposit)))
	if handlers.Archive != nil {
		mux.Handle("POST /api/admin/archive", admin(http.HandlerFunc(handlers.Archive.RunArchive)))
		mux.Handle("GET /api/admin/archive", admin(http.HandlerFunc(handlers.Archive.ListArchive)))
	}

	// The metrics middleware reads r.Pattern, which the mux sets on the
	// request it is handed, so it must sit directly on the mux.
	var h http.Handler = mux
	if deps.Metrics != nil {
		h = deps.Metrics.Middleware(h)
	}
	if deps.Limiter != nil && cfg.RateLimit > 0 && cfg.RateLimitWindow > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       durationOr(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
