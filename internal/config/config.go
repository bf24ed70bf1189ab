// Package config defines the top-level configuration for the marketplace
// backend and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MANDI_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Agmark   AgmarkConfig   `toml:"agmark"`
	Pricing  PricingConfig  `toml:"pricing"`
	Ingest   IngestConfig   `toml:"ingest"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AgmarkConfig holds the mandi price feed endpoint and credentials.
type AgmarkConfig struct {
	BaseURL    string `toml:"base_url"`
	ResourceID string `toml:"resource_id"`
	ApiKey     string `toml:"api_key"`
	// StateFilter limits ingestion to one state's mandis, spelled the way
	// the feed spells it. Empty syncs the whole country.
	StateFilter string `toml:"state_filter"`
}

// PricingConfig holds reference price resolution and band parameters.
type PricingConfig struct {
	// NationalBaseline is the last-resort reference price in ₹/quintal.
	NationalBaseline float64 `toml:"national_baseline"`
	// RegionalTimeout bounds the store scan in the first resolver rung.
	RegionalTimeout duration `toml:"regional_timeout"`
	// CandidateLimit caps how many regional records the resolver scans.
	CandidateLimit int `toml:"candidate_limit"`
	// CacheTTL controls how long resolved prices stay in Redis.
	CacheTTL duration `toml:"cache_ttl"`
	// BulkMinimum is the smallest negotiable quantity in kg.
	BulkMinimum float64 `toml:"bulk_minimum"`
}

// IngestConfig holds data-pipeline parameters.
type IngestConfig struct {
	Enabled              bool     `toml:"enabled"`
	SyncInterval         duration `toml:"sync_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "mandicore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "ap-south-1",
			Bucket:         "mandicore-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Agmark: AgmarkConfig{
			BaseURL:    "https://api.data.gov.in",
			ResourceID: "9ef84268-d588-465a-a308-a864a43d0070",
		},
		Pricing: PricingConfig{
			NationalBaseline: 2500.0,
			RegionalTimeout:  duration{2 * time.Second},
			CandidateLimit:   20,
			CacheTTL:         duration{15 * time.Minute},
			BulkMinimum:      50.0,
		},
		Ingest: IngestConfig{
			Enabled:              true,
			SyncInterval:         duration{6 * time.Hour},
			ArchiveRetentionDays: 365,
			ArchiveCron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   300,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sync":  true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sync, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 only matters when archival is on.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// The feed client is only required for ingestion modes.
	needsFeed := c.Ingest.Enabled && (c.Mode == "sync" || c.Mode == "full")
	if needsFeed {
		if c.Agmark.BaseURL == "" {
			errs = append(errs, "agmark: base_url must not be empty when ingest is enabled")
		}
		if c.Agmark.ResourceID == "" {
			errs = append(errs, "agmark: resource_id must not be empty when ingest is enabled")
		}
		if c.Agmark.ApiKey == "" {
			errs = append(errs, "agmark: api_key is required when ingest is enabled")
		}
	}

	// Pricing
	if c.Pricing.NationalBaseline <= 0 {
		errs = append(errs, "pricing: national_baseline must be > 0")
	}
	if c.Pricing.RegionalTimeout.Duration <= 0 {
		errs = append(errs, "pricing: regional_timeout must be > 0")
	}
	if c.Pricing.CandidateLimit < 1 {
		errs = append(errs, "pricing: candidate_limit must be >= 1")
	}
	if c.Pricing.BulkMinimum <= 0 {
		errs = append(errs, "pricing: bulk_minimum must be > 0")
	}

	// Ingest
	if c.Ingest.Enabled && c.Ingest.SyncInterval.Duration <= 0 {
		errs = append(errs, "ingest: sync_interval must be > 0 when enabled")
	}
	if c.Ingest.ArchiveRetentionDays < 0 {
		errs = append(errs, "ingest: archive_retention_days must be >= 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
