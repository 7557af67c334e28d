package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	// Notification dispatch knobs.
	DispatchMaxRetries     int `mapstructure:"DISPATCH_MAX_RETRIES"`
	DispatchBackoffSeconds int `mapstructure:"DISPATCH_BACKOFF_SECONDS"`
	DispatchTimeoutSeconds int `mapstructure:"DISPATCH_TIMEOUT_SECONDS"`

	// Periodic rule scan interval (missed doses, expiring consents).
	ScanIntervalMinutes int `mapstructure:"SCAN_INTERVAL_MINUTES"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DISPATCH_MAX_RETRIES", 2)
	v.SetDefault("DISPATCH_BACKOFF_SECONDS", 5)
	v.SetDefault("DISPATCH_TIMEOUT_SECONDS", 10)
	v.SetDefault("SCAN_INTERVAL_MINUTES", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("DISPATCH_MAX_RETRIES")
	v.BindEnv("DISPATCH_BACKOFF_SECONDS")
	v.BindEnv("DISPATCH_TIMEOUT_SECONDS")
	v.BindEnv("SCAN_INTERVAL_MINUTES")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DispatchBackoff returns the base backoff for notification retries.
func (c *Config) DispatchBackoff() time.Duration {
	return time.Duration(c.DispatchBackoffSeconds) * time.Second
}

// DispatchTimeout returns the per-attempt send timeout.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

// ScanInterval returns the periodic rule scan interval.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DispatchMaxRetries < 0 {
		return fmt.Errorf("DISPATCH_MAX_RETRIES must be >= 0, got %d", c.DispatchMaxRetries)
	}
	if c.DispatchBackoffSeconds <= 0 {
		return fmt.Errorf("DISPATCH_BACKOFF_SECONDS must be > 0, got %d", c.DispatchBackoffSeconds)
	}
	if c.DispatchTimeoutSeconds <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT_SECONDS must be > 0, got %d", c.DispatchTimeoutSeconds)
	}
	if c.ScanIntervalMinutes <= 0 {
		return fmt.Errorf("SCAN_INTERVAL_MINUTES must be > 0, got %d", c.ScanIntervalMinutes)
	}
	return nil
}
