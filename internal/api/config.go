// Package api provides the HTTP server. The JSON endpoints live in the v1
// subpackage.
package api

import (
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "64K"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen         string
	AllowedOrigins []string // CORS allowed origins

	// Timeouts. There is no write timeout: alert streams stay open.
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string        // e.g. "64K"
	Heartbeat time.Duration // SSE heartbeat and WebSocket ping interval
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		Heartbeat:       30 * time.Second,
	}
}

// ConfigFromSettings creates a Config from the web server settings.
func ConfigFromSettings(settings conf.WebServerSettings) *Config {
	cfg := DefaultConfig()
	if settings.Listen != "" {
		cfg.Listen = settings.Listen
	}
	if settings.Heartbeat > 0 {
		cfg.Heartbeat = settings.Heartbeat
	}
	if len(settings.Origins) > 0 {
		cfg.AllowedOrigins = slices.Clone(settings.Origins)
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive")
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: listen=%s, heartbeat=%s, body_limit=%s",
		c.Listen, c.Heartbeat, c.BodyLimit)
}
