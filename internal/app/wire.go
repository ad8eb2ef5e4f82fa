package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/wishledger/internal/blob/s3"
	"github.com/alanyoungcy/wishledger/internal/cache/local"
	"github.com/alanyoungcy/wishledger/internal/cache/redis"
	"github.com/alanyoungcy/wishledger/internal/config"
	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/ledger"
	"github.com/alanyoungcy/wishledger/internal/notify"
	"github.com/alanyoungcy/wishledger/internal/server/handler"
	"github.com/alanyoungcy/wishledger/internal/service"
	"github.com/alanyoungcy/wishledger/internal/store/boltdb"
	"github.com/alanyoungcy/wishledger/internal/store/memory"
	"github.com/alanyoungcy/wishledger/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	LedgerStore domain.LedgerStore
	AuditStore  domain.AuditStore

	// Caches
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	NonceGuard  domain.NonceGuard
	WishCache   domain.WishCache // nil without redis

	// Blob storage, nil unless archiving is configured.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Ledger   *ledger.Ledger
	Service  *service.WishService
	Notifier *notify.Notifier

	Registry     *prometheus.Registry
	HealthChecks map[string]handler.HealthCheck
}

// needsS3 reports whether the configuration uses object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || strings.EqualFold(cfg.Mode, "archive")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry:     prometheus.NewRegistry(),
		HealthChecks: map[string]handler.HealthCheck{},
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Ledger store ---
	switch strings.ToLower(cfg.Storage.Backend) {
	case "memory":
		logger.WarnContext(ctx, "using in-memory storage; state is lost on exit")
		deps.LedgerStore = memory.NewLedgerStore()
		deps.AuditStore = memory.NewAuditStore()

	case "bolt":
		db, err := boltdb.Open(cfg.Storage.BoltPath, cfg.Storage.BoltTimeout.Duration)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: bolt: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.LedgerStore = db.Ledger()
		deps.AuditStore = db.Audit()

	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations || strings.EqualFold(cfg.Mode, "migrate") {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown storage backend %q", cfg.Storage.Backend)
	}

	// --- Redis, or in-process fallbacks for a single instance ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.NonceGuard = redis.NewNonceGuard(redisClient)
		deps.WishCache = redis.NewWishCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.LockManager = local.NewLockManager()
		deps.RateLimiter = local.NewRateLimiter()
		deps.NonceGuard = local.NewNonceGuard()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Ledger and service ---
	deps.Ledger = ledger.New(deps.LedgerStore, domain.SystemClock{},
		ledger.WithMaxDescriptionLen(cfg.Ledger.MaxDescriptionLen))
	deps.Service = service.NewWishService(deps.Ledger, service.Deps{
		Locks:    deps.LockManager,
		Cache:    deps.WishCache,
		Audit:    deps.AuditStore,
		Notifier: deps.Notifier,
		Metrics:  service.NewMetrics(deps.Registry),
		LockTTL:  cfg.Ledger.LockTTL.Duration,
	}, logger)

	// --- S3 archive ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.Ledger, deps.BlobWriter, deps.AuditStore,
			cfg.Archive.MultipartThreshold)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}
