package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 45
auth:
  enabled: true
  api_key: secret
ratelimit:
  max: 30
  window_seconds: 120
google:
  api_key: maps-key
search:
  default_radius_meters: 8000
  default_max_results: 50
enrich:
  timeout_seconds: 3
  max_body_bytes: 50000
storage:
  provider: postgres
  dsn: postgres://localhost/prospector
export:
  provider: gcs
  gcs_bucket: prospects
notify:
  provider: webhook
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.RateLimit.Max != 30 || cfg.RateLimit.WindowSeconds != 120 {
		t.Fatalf("expected ratelimit overrides to apply: %+v", cfg.RateLimit)
	}
	if cfg.Storage.Provider != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("expected postgres storage config: %+v", cfg.Storage)
	}
	if cfg.Export.Provider != "gcs" || cfg.Export.GCSBucket != "prospects" {
		t.Fatalf("expected gcs export config: %+v", cfg.Export)
	}
	if got := cfg.RateLimitWindow(); got != 120*time.Second {
		t.Fatalf("expected ratelimit window 120s, got %v", got)
	}
	if got := cfg.SearchTimeout(); got != 5*time.Second {
		t.Fatalf("expected default search timeout 5s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Max != 60 || cfg.RateLimit.WindowSeconds != 60 {
		t.Fatalf("expected default rate limit 60/60s, got %+v", cfg.RateLimit)
	}
	if cfg.Search.DefaultRadiusMeters != 16000 {
		t.Fatalf("expected default radius 16000, got %d", cfg.Search.DefaultRadiusMeters)
	}
	if cfg.Search.DefaultMaxResults != 100 {
		t.Fatalf("expected default max results 100, got %d", cfg.Search.DefaultMaxResults)
	}
	if cfg.Enrich.MaxBodyBytes != 100*1024 {
		t.Fatalf("expected default max body 100KB, got %d", cfg.Enrich.MaxBodyBytes)
	}
	if cfg.Storage.Provider != "memory" {
		t.Fatalf("expected default memory storage, got %s", cfg.Storage.Provider)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantMsg: "server.port",
		},
		{
			name:    "auth without key",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantMsg: "auth.api_key",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Provider = "postgres" },
			wantMsg: "storage.dsn",
		},
		{
			name:    "unknown export provider",
			mutate:  func(c *Config) { c.Export.Provider = "ftp" },
			wantMsg: "unknown export provider",
		},
		{
			name: "pubsub notify without topic",
			mutate: func(c *Config) {
				c.Notify.Provider = "pubsub"
			},
			wantMsg: "pubsub_topic",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("expected error containing %q, got %v", tc.wantMsg, err)
			}
		})
	}
}
