// Package config loads broker configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all broker configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr string `env:"PUSHERD_ADDR" envDefault:":6001"`

	// Default application credentials, registered at startup. Additional
	// applications can be created through the REST API.
	AppID     string `env:"PUSHERD_APP_ID" envDefault:"test"`
	AppKey    string `env:"PUSHERD_APP_KEY" envDefault:"test"`
	AppSecret string `env:"PUSHERD_APP_SECRET" envDefault:"test"`

	// Protocol timing. ActivityTimeout is advertised to clients in
	// connection_established; the server itself never disconnects idle peers.
	ActivityTimeout time.Duration `env:"PUSHERD_ACTIVITY_TIMEOUT" envDefault:"120s"`

	// ShutdownGrace bounds how long graceful shutdown waits for in-flight
	// requests and close frames.
	ShutdownGrace time.Duration `env:"PUSHERD_SHUTDOWN_GRACE" envDefault:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; in production the environment is
	// set directly, so a missing file is not an error.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else {
		if logger != nil {
			logger.Info().Msg("Loaded configuration from .env file")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("PUSHERD_ADDR is required")
	}
	if c.AppID == "" || c.AppKey == "" || c.AppSecret == "" {
		return fmt.Errorf("PUSHERD_APP_ID, PUSHERD_APP_KEY and PUSHERD_APP_SECRET are required")
	}
	if c.ActivityTimeout < time.Second {
		return fmt.Errorf("PUSHERD_ACTIVITY_TIMEOUT must be >= 1s, got %s", c.ActivityTimeout)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("PUSHERD_SHUTDOWN_GRACE must be >= 0, got %s", c.ShutdownGrace)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs configuration using structured logging. Secrets are never
// logged.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("app_id", c.AppID).
		Str("app_key", c.AppKey).
		Dur("activity_timeout", c.ActivityTimeout).
		Dur("shutdown_grace", c.ShutdownGrace).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
