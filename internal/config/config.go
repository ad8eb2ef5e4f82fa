// Package config defines the top-level configuration for the wishledger
// daemon and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WISHLEDGER_* environment variables.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Auth     AuthConfig     `toml:"auth"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StorageConfig picks the ledger backend.
type StorageConfig struct {
	// Backend is one of "memory", "bolt" or "postgres".
	Backend     string   `toml:"backend"`
	BoltPath    string   `toml:"bolt_path"`
	BoltTimeout duration `toml:"bolt_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the daemon
// uses in-process locks, rate limiting and nonce tracking, which is only
// correct for a single instance.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	CacheTTL    duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls exporting finalized wishes to S3.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// Interval between archive runs in serve mode.
	Interval duration `toml:"interval"`
	// MinAge is how long a wish must have been finalized before it is
	// included.
	MinAge             duration `toml:"min_age"`
	MultipartThreshold int64    `toml:"multipart_threshold"`
}

// LedgerConfig holds ledger limits.
type LedgerConfig struct {
	MaxDescriptionLen int      `toml:"max_description_len"`
	LockTTL           duration `toml:"lock_ttl"`
}

// AuthConfig controls how callers prove their identity.
type AuthConfig struct {
	// RequireSignatures turns on EIP-712 request signatures. With it off the
	// X-Wish-Caller header is trusted, which is only for development.
	RequireSignatures bool     `toml:"require_signatures"`
	ChainID           int64    `toml:"chain_id"`
	MaxSkew           duration `toml:"max_skew"`
	AdminKey          string   `toml:"admin_key"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend:     "bolt",
			BoltPath:    "wishledger.db",
			BoltTimeout: duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wishledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
			CacheTTL:    duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wishledger-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:            false,
			Interval:           duration{24 * time.Hour},
			MinAge:             duration{30 * 24 * time.Hour},
			MultipartThreshold: 8 << 20,
		},
		Ledger: LedgerConfig{
			MaxDescriptionLen: 512,
			LockTTL:           duration{10 * time.Second},
		},
		Auth: AuthConfig{
			RequireSignatures: true,
			ChainID:           1,
			MaxSkew:           duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{30 * time.Second},
			ShutdownTimeout: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"wish_claimed", "wish_settled", "error"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
	"migrate": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"bolt":     true,
	"postgres": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvents = map[string]bool{
	"wish_claimed": true,
	"wish_settled": true,
	"error":        true,
}

// Validate checks Config for obviously invalid or missing values and returns
// every problem found joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: serve, archive, migrate)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Storage
	backend := strings.ToLower(c.Storage.Backend)
	switch {
	case !validBackends[backend]:
		add("storage: unknown backend %q (valid: memory, bolt, postgres)", c.Storage.Backend)
	case backend == "bolt" && c.Storage.BoltPath == "":
		add("storage: bolt_path must not be empty for the bolt backend")
	case backend == "postgres":
		errs = append(errs, c.Postgres.validate()...)
	}
	if mode == "migrate" && backend != "postgres" {
		add("mode migrate requires storage.backend = postgres")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archiving")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty when archiving")
		}
		if c.Archive.MinAge.Duration < 0 {
			add("archive: min_age must not be negative")
		}
	}
	if c.Archive.Enabled && c.Archive.Interval.Duration <= 0 {
		add("archive: interval must be > 0 when enabled")
	}

	// Ledger
	if c.Ledger.MaxDescriptionLen < 1 {
		add("ledger: max_description_len must be >= 1")
	}
	if c.Ledger.LockTTL.Duration <= 0 {
		add("ledger: lock_ttl must be > 0")
	}

	// Auth
	if c.Auth.RequireSignatures {
		if c.Auth.ChainID <= 0 {
			add("auth: chain_id must be positive")
		}
		if c.Auth.MaxSkew.Duration <= 0 {
			add("auth: max_skew must be > 0")
		}
	}

	// Server
	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			add("server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validEvents[ev] {
			add("notify: unknown event %q", ev)
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func (p PostgresConfig) validate() []error {
	var errs []error
	if strings.TrimSpace(p.DSN) == "" {
		if p.Host == "" {
			errs = append(errs, errors.New("postgres: host must not be empty (or set postgres.dsn)"))
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Errorf("postgres: port must be 1-65535, got %d", p.Port))
		}
		if p.Database == "" {
			errs = append(errs, errors.New("postgres: database must not be empty"))
		}
	}
	if p.PoolMaxConns < 1 {
		errs = append(errs, errors.New("postgres: pool_max_conns must be >= 1"))
	}
	if p.PoolMinConns < 0 {
		errs = append(errs, errors.New("postgres: pool_min_conns must be >= 0"))
	}
	if p.PoolMinConns > p.PoolMaxConns {
		errs = append(errs, errors.New("postgres: pool_min_conns must not exceed pool_max_conns"))
	}
	return errs
}
