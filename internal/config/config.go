// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Google    GoogleConfig    `mapstructure:"google"`
	Search    SearchConfig    `mapstructure:"search"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Export    ExportConfig    `mapstructure:"export"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RateLimitConfig governs the job-creation admission controller.
type RateLimitConfig struct {
	Max           int `mapstructure:"max"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// GoogleConfig carries credentials for the Maps platform and service
// account APIs.
type GoogleConfig struct {
	APIKey          string `mapstructure:"api_key"`
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
}

// SearchConfig sets job parameter defaults and bounds.
type SearchConfig struct {
	DefaultRadiusMeters int `mapstructure:"default_radius_meters"`
	MaxRadiusMeters     int `mapstructure:"max_radius_meters"`
	DefaultMaxResults   int `mapstructure:"default_max_results"`
	MaxMaxResults       int `mapstructure:"max_max_results"`
	TimeoutSeconds      int `mapstructure:"timeout_seconds"`
}

// EnrichConfig bounds the enrichment page fetch.
type EnrichConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	HostRPS        float64 `mapstructure:"host_rps"`
}

// StorageConfig selects and configures the job/prospect store.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ExportConfig selects the export sink implementation.
type ExportConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// NotifyConfig selects the completion notifier implementation.
type NotifyConfig struct {
	Provider    string `mapstructure:"provider"`
	PubSubTopic string `mapstructure:"pubsub_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("ratelimit.max", 60)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("search.default_radius_meters", 16000)
	v.SetDefault("search.max_radius_meters", 50000)
	v.SetDefault("search.default_max_results", 100)
	v.SetDefault("search.max_max_results", 500)
	v.SetDefault("search.timeout_seconds", 5)
	v.SetDefault("enrich.user_agent", "Mozilla/5.0 (compatible; ProspectorBot/1.0)")
	v.SetDefault("enrich.timeout_seconds", 5)
	v.SetDefault("enrich.max_body_bytes", 100*1024)
	v.SetDefault("enrich.host_rps", 1)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("export.provider", "sheets")
	v.SetDefault("export.gcs_prefix", "exports")
	v.SetDefault("notify.provider", "webhook")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.RateLimit.Max <= 0 {
		return fmt.Errorf("ratelimit.max must be > 0")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("ratelimit.window_seconds must be > 0")
	}
	if c.Search.DefaultMaxResults <= 0 || c.Search.DefaultMaxResults > c.Search.MaxMaxResults {
		return fmt.Errorf("search.default_max_results must be in (0, %d]", c.Search.MaxMaxResults)
	}
	switch c.Storage.Provider {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	switch c.Export.Provider {
	case "sheets", "noop":
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket is required when export.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown export provider: %s", c.Export.Provider)
	}
	switch c.Notify.Provider {
	case "webhook", "noop":
	case "pubsub":
		if c.Google.ProjectID == "" || c.Notify.PubSubTopic == "" {
			return fmt.Errorf("google.project_id and notify.pubsub_topic are required when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify provider: %s", c.Notify.Provider)
	}
	return nil
}

// RateLimitWindow returns the admission window as a duration.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// SearchTimeout returns the per-call deadline for search provider requests.
func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}

// EnrichTimeout returns the per-fetch deadline for enrichment requests.
func (c Config) EnrichTimeout() time.Duration {
	return time.Duration(c.Enrich.TimeoutSeconds) * time.Second
}
