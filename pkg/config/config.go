package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for classml-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Training service clients
	Providers ProvidersConfig `yaml:"providers"`

	// Operational alert notifications
	Notifications NotificationsConfig `yaml:"notifications"`

	// Expired classifier cleanup
	Sweeper SweeperConfig `yaml:"sweeper"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"classml"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"classml_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ProvidersConfig holds settings for the external training service clients.
type ProvidersConfig struct {
	// RequestTimeoutSeconds bounds every call to the conversational-intent
	// and numeric services.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" env:"PROVIDER_REQUEST_TIMEOUT_SECONDS" env-default:"30"`

	// ImageTimeoutSeconds bounds image-classification calls, which upload
	// training zips and need longer.
	ImageTimeoutSeconds int `yaml:"image_timeout_seconds" env:"PROVIDER_IMAGE_TIMEOUT_SECONDS" env-default:"120"`

	// Numbers service connection. The numeric classifier is a companion
	// service with a single operator account.
	NumbersURL      string `yaml:"numbers_url" env:"NUMBERS_SERVICE_URL" env-default:"http://localhost:8010"`
	NumbersUser     string `yaml:"-" env:"NUMBERS_SERVICE_USER"` // Secret - not in YAML
	NumbersPassword string `yaml:"-" env:"NUMBERS_SERVICE_PASS"` // Secret - not in YAML
}

// RequestTimeout returns the provider request timeout as a duration.
func (c *ProvidersConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ImageTimeout returns the image-classification request timeout as a duration.
func (c *ProvidersConfig) ImageTimeout() time.Duration {
	return time.Duration(c.ImageTimeoutSeconds) * time.Second
}

// NotificationsConfig holds operational alert settings. NotifyURL is a
// shoutrrr service URL (e.g. a slack://... webhook); alerts are disabled
// when it is empty.
type NotificationsConfig struct {
	NotifyURL string `yaml:"-" env:"NOTIFY_URL"` // Secret - not in YAML
	Channel   string `yaml:"channel" env:"NOTIFY_CHANNEL" env-default:"training-errors"`
}

// Enabled returns true if a notification target is configured.
func (c *NotificationsConfig) Enabled() bool {
	return c.NotifyURL != ""
}

// SweeperConfig controls the expired classifier cleanup job.
type SweeperConfig struct {
	Enabled         bool `yaml:"enabled" env:"SWEEPER_ENABLED" env-default:"true"`
	IntervalMinutes int  `yaml:"interval_minutes" env:"SWEEPER_INTERVAL_MINUTES" env-default:"60"`
}

// Interval returns the sweep interval as a duration.
func (c *SweeperConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// If config.yaml does not exist, configuration comes from environment
// variables and defaults alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if cfg.Providers.RequestTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("provider request timeout must be positive")
	}
	if cfg.Sweeper.Enabled && cfg.Sweeper.IntervalMinutes <= 0 {
		return nil, fmt.Errorf("sweeper interval must be positive")
	}

	return cfg, nil
}
