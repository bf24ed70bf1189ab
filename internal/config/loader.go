package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MANDI_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the defaults
// plus environment overrides are used. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MANDI_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// --- Postgres ---
	setStr(&cfg.Postgres.DSN, "MANDI_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MANDI_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MANDI_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MANDI_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MANDI_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MANDI_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MANDI_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MANDI_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MANDI_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MANDI_POSTGRES_RUN_MIGRATIONS")

	// --- Redis ---
	setStr(&cfg.Redis.Addr, "MANDI_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MANDI_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MANDI_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MANDI_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MANDI_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MANDI_REDIS_TLS_ENABLED")

	// --- S3 ---
	setBool(&cfg.S3.Enabled, "MANDI_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MANDI_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MANDI_S3_REGION")
	setStr(&cfg.S3.Bucket, "MANDI_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MANDI_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MANDI_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MANDI_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MANDI_S3_FORCE_PATH_STYLE")

	// --- Agmark ---
	setStr(&cfg.Agmark.BaseURL, "MANDI_AGMARK_BASE_URL")
	setStr(&cfg.Agmark.ResourceID, "MANDI_AGMARK_RESOURCE_ID")
	setStr(&cfg.Agmark.ApiKey, "MANDI_AGMARK_API_KEY")
	setStr(&cfg.Agmark.StateFilter, "MANDI_AGMARK_STATE_FILTER")

	// --- Pricing ---
	setFloat64(&cfg.Pricing.NationalBaseline, "MANDI_PRICING_NATIONAL_BASELINE")
	setDuration(&cfg.Pricing.RegionalTimeout, "MANDI_PRICING_REGIONAL_TIMEOUT")
	setInt(&cfg.Pricing.CandidateLimit, "MANDI_PRICING_CANDIDATE_LIMIT")
	setDuration(&cfg.Pricing.CacheTTL, "MANDI_PRICING_CACHE_TTL")
	setFloat64(&cfg.Pricing.BulkMinimum, "MANDI_PRICING_BULK_MINIMUM")

	// --- Ingest ---
	setBool(&cfg.Ingest.Enabled, "MANDI_INGEST_ENABLED")
	setDuration(&cfg.Ingest.SyncInterval, "MANDI_INGEST_SYNC_INTERVAL")
	setInt(&cfg.Ingest.ArchiveRetentionDays, "MANDI_INGEST_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Ingest.ArchiveCron, "MANDI_INGEST_ARCHIVE_CRON")

	// --- Server ---
	setBool(&cfg.Server.Enabled, "MANDI_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MANDI_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MANDI_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MANDI_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MANDI_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MANDI_SERVER_RATE_WINDOW")

	// --- Top-level ---
	setStr(&cfg.Mode, "MANDI_MODE")
	setStr(&cfg.LogLevel, "MANDI_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
