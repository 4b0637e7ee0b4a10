// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration. It is built once at startup
// and handed to the components that need it.
type Config struct {
	HTTP        HTTPConfig
	Browserless BrowserlessConfig
	Retry       RetryConfig
	Log         LogConfig
	RateLimit   RateLimitConfig
	Captures    CapturesConfig
	Storage     StorageConfig
	Worker      WorkerConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port string `envconfig:"HTTP_PORT" default:"8080"`
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// BrowserlessConfig holds the rendering provider settings. APIKey may be
// empty; requests then fail until it is configured.
type BrowserlessConfig struct {
	APIKey  string        `envconfig:"BROWSERLESS_API_KEY"`
	BaseURL string        `envconfig:"BROWSERLESS_BASE_URL" default:"https://production-sfo.browserless.io"`
	Timeout time.Duration `envconfig:"BROWSERLESS_TIMEOUT" default:"60s"`
}

// RetryConfig controls the single scrape retry.
type RetryConfig struct {
	Delay time.Duration `envconfig:"RETRY_DELAY" default:"800ms"`
	// MinWaitForTimeout is the waitForTimeout floor (ms) applied on retry.
	MinWaitForTimeout int `envconfig:"RETRY_MIN_WAIT_FOR_TIMEOUT" default:"1500"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string `envconfig:"LOG_LEVEL" default:"info"`
	Format    string `envconfig:"LOG_FORMAT" default:"json"`
	AddSource bool   `envconfig:"LOG_SOURCE" default:"false"`
}

// RateLimitConfig holds per-client rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"10"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"20"`
}

// CapturesConfig holds the capture archive configuration.
type CapturesConfig struct {
	Enabled     bool   `envconfig:"CAPTURES_ENABLED" default:"false"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	Queue       string `envconfig:"CAPTURES_QUEUE" default:"serenity:captures"`
}

// StorageConfig selects and configures the artifact storage provider.
type StorageConfig struct {
	Provider           string `envconfig:"STORAGE_PROVIDER" default:"localfs"`
	LocalRoot          string `envconfig:"STORAGE_LOCAL_ROOT" default:"./data"`
	GDriveClientID     string `envconfig:"GDRIVE_CLIENT_ID"`
	GDriveClientSecret string `envconfig:"GDRIVE_CLIENT_SECRET"`
	GDriveRefreshToken string `envconfig:"GDRIVE_REFRESH_TOKEN"`
	GDriveFolderID     string `envconfig:"GDRIVE_FOLDER_ID"`
}

// WorkerConfig holds capture worker settings.
type WorkerConfig struct {
	PopTimeout time.Duration `envconfig:"WORKER_POP_TIMEOUT" default:"5s"`
	// MetricsAddr serves /metrics from the worker when set.
	MetricsAddr string `envconfig:"WORKER_METRICS_ADDR"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Browserless.APIKey = strings.TrimSpace(cfg.Browserless.APIKey)
	cfg.Browserless.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Browserless.BaseURL), "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. A missing provider key is not an
// error here.
func (c *Config) Validate() error {
	if c.Browserless.BaseURL == "" {
		return fmt.Errorf("BROWSERLESS_BASE_URL must not be empty")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("RETRY_DELAY must not be negative")
	}
	if c.Retry.MinWaitForTimeout < 0 {
		return fmt.Errorf("RETRY_MIN_WAIT_FOR_TIMEOUT must not be negative")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.Captures.Enabled {
		if c.Captures.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CAPTURES_ENABLED=true")
		}
		if c.Captures.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CAPTURES_ENABLED=true")
		}
	}
	switch c.Storage.Provider {
	case "localfs", "gdrive":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	return nil
}
