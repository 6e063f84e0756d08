// Package server provides configuration helpers that define runtime
// defaults, validation, and rate-limiting parameters for the chat service.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration including transport limits and the
// data directory for the message store.
type Config struct {
	Port            string        `env:"SERVER_PORT,default=:8080"`
	Origins         string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	SendBufferSize  int           `env:"SEND_BUFFER_SIZE,default=256"`
	DataDir         string        `env:"DATA_DIR,default=./data"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=20"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.sanitize()
	return cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg.sanitize()
	return &cfg, nil
}

func (c *Config) sanitize() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.Origins == "" {
		c.Origins = "http://localhost:8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = time.Second
	}
}

// AllowedOrigins splits the configured origin list.
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.Origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// RateLimit bundles the rate-limiting settings for client construction.
func (c *Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{
		Burst:          c.RateLimitBurst,
		RefillInterval: c.RateLimitRefillInterval,
	}
}

// SlogLevel maps the configured log level name to a slog.Level, defaulting
// to info for unknown names.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
