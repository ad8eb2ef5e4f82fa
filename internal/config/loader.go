package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WISHLEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WISHLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "WISHLEDGER_STORAGE_BACKEND")
	setStr(&cfg.Storage.BoltPath, "WISHLEDGER_STORAGE_BOLT_PATH")
	setDuration(&cfg.Storage.BoltTimeout, "WISHLEDGER_STORAGE_BOLT_TIMEOUT")

	// ── Postgres ──
	// DATABASE_URL is an alias; the canonical variable wins when both are set.
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "WISHLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WISHLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WISHLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WISHLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WISHLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WISHLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WISHLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WISHLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WISHLEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WISHLEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WISHLEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WISHLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WISHLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WISHLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WISHLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WISHLEDGER_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "WISHLEDGER_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "WISHLEDGER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "WISHLEDGER_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WISHLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WISHLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "WISHLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WISHLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WISHLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WISHLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WISHLEDGER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WISHLEDGER_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "WISHLEDGER_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.MinAge, "WISHLEDGER_ARCHIVE_MIN_AGE")
	setInt64(&cfg.Archive.MultipartThreshold, "WISHLEDGER_ARCHIVE_MULTIPART_THRESHOLD")

	// ── Ledger ──
	setInt(&cfg.Ledger.MaxDescriptionLen, "WISHLEDGER_LEDGER_MAX_DESCRIPTION_LEN")
	setDuration(&cfg.Ledger.LockTTL, "WISHLEDGER_LEDGER_LOCK_TTL")

	// ── Auth ──
	setBool(&cfg.Auth.RequireSignatures, "WISHLEDGER_AUTH_REQUIRE_SIGNATURES")
	setInt64(&cfg.Auth.ChainID, "WISHLEDGER_AUTH_CHAIN_ID")
	setDuration(&cfg.Auth.MaxSkew, "WISHLEDGER_AUTH_MAX_SKEW")
	setStr(&cfg.Auth.AdminKey, "WISHLEDGER_AUTH_ADMIN_KEY")

	// ── Server ──
	setInt(&cfg.Server.Port, "WISHLEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WISHLEDGER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "WISHLEDGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "WISHLEDGER_SERVER_RATE_LIMIT_WINDOW")
	setDuration(&cfg.Server.ReadTimeout, "WISHLEDGER_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "WISHLEDGER_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "WISHLEDGER_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WISHLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WISHLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WISHLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WISHLEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WISHLEDGER_MODE")
	setStr(&cfg.LogLevel, "WISHLEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
