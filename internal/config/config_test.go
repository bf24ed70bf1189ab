package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// Defaults ship without a feed key; serve mode does not need one.
	cfg.Mode = "serve"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis"},
		{"pool bounds", func(c *Config) { c.Postgres.PoolMinConns = 50 }, "pool_min_conns"},
		{"missing feed key", func(c *Config) { c.Mode = "sync" }, "api_key"},
		{"zero baseline", func(c *Config) { c.Pricing.NationalBaseline = 0 }, "national_baseline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = "serve"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MANDI_MODE", "sync")
	t.Setenv("MANDI_POSTGRES_PASSWORD", "secret")
	t.Setenv("MANDI_PRICING_NATIONAL_BASELINE", "2750.5")
	t.Setenv("MANDI_PRICING_CACHE_TTL", "30m")
	t.Setenv("MANDI_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MANDI_INGEST_ENABLED", "false")
	t.Setenv("MANDI_AGMARK_STATE_FILTER", "Punjab")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "sync" {
		t.Errorf("Mode = %q, want sync", cfg.Mode)
	}
	if cfg.Postgres.Password != "secret" {
		t.Errorf("Postgres.Password = %q", cfg.Postgres.Password)
	}
	if cfg.Pricing.NationalBaseline != 2750.5 {
		t.Errorf("NationalBaseline = %v", cfg.Pricing.NationalBaseline)
	}
	if cfg.Pricing.CacheTTL.Duration != 30*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.Pricing.CacheTTL.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Ingest.Enabled {
		t.Error("Ingest.Enabled should be overridden to false")
	}
	if cfg.Agmark.StateFilter != "Punjab" {
		t.Errorf("Agmark.StateFilter = %q, want Punjab", cfg.Agmark.StateFilter)
	}
}

func TestEnvOverrideIgnoresUnsetAndMalformed(t *testing.T) {
	t.Setenv("MANDI_SERVER_PORT", "not-a-number")

	cfg := Defaults()
	want := cfg.Server.Port
	applyEnvOverrides(&cfg)

	if cfg.Server.Port != want {
		t.Errorf("Server.Port = %d, want unchanged %d", cfg.Server.Port, want)
	}
}
