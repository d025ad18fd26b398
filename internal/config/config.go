// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration. Command-line flags override it.
type Config struct {
	DB              string        `env:"SETTLE_DB"               envDefault:"settle.db"`
	LockWait        time.Duration `env:"SETTLE_LOCK_WAIT"        envDefault:"2s"`
	ReleaseInterval time.Duration `env:"SETTLE_RELEASE_INTERVAL" envDefault:"30s"`
	Policy          string        `env:"SETTLE_POLICY"`
	RedisAddr       string        `env:"SETTLE_REDIS_ADDR"`
	RedisPassword   string        `env:"SETTLE_REDIS_PASSWORD"`
	RedisDB         int           `env:"SETTLE_REDIS_DB"         envDefault:"0"`
	LogLevel        string        `env:"SETTLE_LOG_LEVEL"        envDefault:"info"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot.
func (c Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("SETTLE_DB must not be empty")
	}
	if c.LockWait < 0 {
		return fmt.Errorf("SETTLE_LOCK_WAIT must not be negative, got %s", c.LockWait)
	}
	if c.ReleaseInterval <= 0 {
		return fmt.Errorf("SETTLE_RELEASE_INTERVAL must be positive, got %s", c.ReleaseInterval)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel (debug, info, warn, error).
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("SETTLE_LOG_LEVEL: %w", err)
	}
	return l, nil
}
