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
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Keys     KeysConfig     `mapstructure:"keys"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
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

// JobsConfig governs per-job execution limits and retention.
type JobsConfig struct {
	MaxURLs           int    `mapstructure:"max_urls"`
	MaxConcurrent     int    `mapstructure:"max_concurrent"`
	ItemTimeoutSec    int    `mapstructure:"item_timeout_seconds"`
	JobTimeoutSec     int    `mapstructure:"job_timeout_seconds"`
	RetentionMin      int    `mapstructure:"retention_minutes"`
	DefaultNamespace  string `mapstructure:"default_namespace"`
	WritePlaceholders bool   `mapstructure:"write_placeholders"`
}

// KeysConfig controls predicted key layout.
type KeysConfig struct {
	Prefix     string `mapstructure:"prefix"`
	MaxSlugLen int    `mapstructure:"max_slug_len"`
}

// FetchConfig configures the static page fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the browser-backed fetcher.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSec     int  `mapstructure:"nav_timeout_seconds"`
	ScreenshotQuality int  `mapstructure:"screenshot_quality"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // memory, local, gcs
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// WebhookConfig controls completion callback delivery.
type WebhookConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts"`
	BaseDelayMs       int `mapstructure:"base_delay_ms"`
	MaxDelayMs        int `mapstructure:"max_delay_ms"`
	RequestTimeoutSec int `mapstructure:"request_timeout_seconds"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig controls the Postgres job archive.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKVAULT")
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
	// Sits above jobs.job_timeout_seconds so sync requests can finish.
	v.SetDefault("server.timeout_seconds", 330)
	v.SetDefault("jobs.max_urls", 50)
	v.SetDefault("jobs.max_concurrent", 5)
	v.SetDefault("jobs.item_timeout_seconds", 30)
	v.SetDefault("jobs.job_timeout_seconds", 300)
	v.SetDefault("jobs.retention_minutes", 30)
	v.SetDefault("jobs.default_namespace", "default")
	v.SetDefault("jobs.write_placeholders", false)
	v.SetDefault("keys.prefix", "artifacts")
	v.SetDefault("keys.max_slug_len", 80)
	v.SetDefault("fetch.user_agent", "markvault-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.screenshot_quality", 90)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.base_delay_ms", 500)
	v.SetDefault("webhook.max_delay_ms", 5000)
	v.SetDefault("webhook.request_timeout_seconds", 10)
	v.SetDefault("archive.table", "job_archive")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.MaxURLs <= 0 {
		return fmt.Errorf("jobs.max_urls must be > 0")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be > 0")
	}
	if c.Jobs.ItemTimeoutSec <= 0 || c.Jobs.JobTimeoutSec <= 0 {
		return fmt.Errorf("jobs timeouts must be > 0")
	}
	if c.Server.TimeoutSeconds < c.Jobs.JobTimeoutSec {
		return fmt.Errorf("server.timeout_seconds must be >= jobs.job_timeout_seconds so sync requests can finish")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Archive.Enabled && c.Archive.DSN == "" {
		return fmt.Errorf("archive.dsn must be set when archive is enabled")
	}
	return nil
}

// ItemTimeout returns the per-item pipeline deadline.
func (c Config) ItemTimeout() time.Duration {
	return time.Duration(c.Jobs.ItemTimeoutSec) * time.Second
}

// JobTimeout returns the whole-job deadline.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.JobTimeoutSec) * time.Second
}

// Retention returns how long terminal jobs stay queryable.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionMin) * time.Minute
}
