package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide startup configuration, read once from the
// environment before anything else starts. Everything has a default; an empty
// environment yields a working single-instance server.
type Config struct {
	Port           int           `env:"PORT" envDefault:"8080"`
	TargetTickRate int           `env:"TARGET_TICK_RATE" envDefault:"60"`
	BrokerURL      string        `env:"BROKER_URL"`
	ClientDir      string        `env:"CLIENT_DIR"`
	Heartbeat      time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"2s"`
	DrainTimeout   time.Duration `env:"DRAIN_TIMEOUT" envDefault:"5s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Parse loads configuration from environment variables and validates it.
// Configuration errors are fatal at startup; a missing BROKER_URL is not an
// error but the supported single-instance mode.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the tick loop or listener cannot run with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.TargetTickRate < 1 || c.TargetTickRate > 1000 {
		return fmt.Errorf("TARGET_TICK_RATE %d out of range (1-1000)", c.TargetTickRate)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", c.Heartbeat)
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("DRAIN_TIMEOUT must be positive, got %s", c.DrainTimeout)
	}
	return nil
}

// Addr returns the listen address for the HTTP front door.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SingleInstance reports whether the process runs without a broker.
func (c Config) SingleInstance() bool {
	return c.BrokerURL == ""
}
