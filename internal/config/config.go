// Package config provides configuration types and loading for sessiongate.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Credential store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the top-level configuration for sessiongate.
type Config struct {
	// API configures the remote stock-control API.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Store configures where credentials are persisted between runs.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Idle configures the inactivity timeout.
	Idle IdleConfig `yaml:"idle" mapstructure:"idle"`

	// Loading configures the busy-indicator counter.
	Loading LoadingConfig `yaml:"loading" mapstructure:"loading"`

	// Metrics configures the optional Prometheus endpoint for `sessiongate run`.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// APIConfig configures the remote API.
type APIConfig struct {
	// BaseURL is the API root (e.g., "https://stock.example.gob.gt").
	// All resource and credential requests are resolved against it.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,http_url"`

	// AuthPath is the path prefix of the credential endpoints under BaseURL.
	// Defaults to "/api/auth".
	AuthPath string `yaml:"auth_path" mapstructure:"auth_path" validate:"omitempty,startswith=/"`

	// Timeout is the per-request timeout (e.g., "30s", "1m").
	// Defaults to "30s" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// StoreConfig configures credential persistence.
type StoreConfig struct {
	// Backend selects the store implementation: "file", "sqlite", or "memory".
	// Defaults to "file". The memory backend keeps credentials for the
	// lifetime of the process only.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=file sqlite memory"`

	// Path is the credential file or database location.
	// Defaults to credentials.json or credentials.db under ~/.sessiongate.
	// Ignored by the memory backend.
	Path string `yaml:"path" mapstructure:"path"`
}

// IdleConfig configures the inactivity timeout.
type IdleConfig struct {
	// Timeout is the inactivity window before the session is ended (e.g., "5m").
	// Defaults to "5m" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// LoadingConfig configures the busy-indicator counter.
type LoadingConfig struct {
	// Delay is the trailing delay before a finished request stops counting
	// as in flight (e.g., "700ms"). Defaults to "700ms" if not specified.
	Delay string `yaml:"delay" mapstructure:"delay" validate:"omitempty,duration"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	// Addr is the listen address for the /metrics endpoint
	// (e.g., "127.0.0.1:9184"). Empty disables the endpoint.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.API.AuthPath == "" {
		c.API.AuthPath = "/api/auth"
	}
	if c.API.Timeout == "" {
		c.API.Timeout = "30s"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Path == "" && c.Store.Backend != BackendMemory {
		c.Store.Path = defaultStorePath(c.Store.Backend)
	}

	if c.Idle.Timeout == "" {
		c.Idle.Timeout = "5m"
	}
	if c.Loading.Delay == "" {
		c.Loading.Delay = "700ms"
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// defaultStorePath places credentials under ~/.sessiongate in the user's
// home directory, falling back to the working directory when home is unknown.
func defaultStorePath(backend string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	name := "credentials.json"
	if backend == BackendSQLite {
		name = "credentials.db"
	}
	return filepath.Join(home, ".sessiongate", name)
}

// APITimeout returns the parsed per-request timeout.
// Validate must have been called; an unparseable value falls back to 30s.
func (c *Config) APITimeout() time.Duration {
	return parseDurationOr(c.API.Timeout, 30*time.Second)
}

// IdleTimeout returns the parsed inactivity window.
func (c *Config) IdleTimeout() time.Duration {
	return parseDurationOr(c.Idle.Timeout, 5*time.Minute)
}

// LoadingDelay returns the parsed trailing busy-indicator delay.
func (c *Config) LoadingDelay() time.Duration {
	return parseDurationOr(c.Loading.Delay, 700*time.Millisecond)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
