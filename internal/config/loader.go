// Package config provides configuration loading for sessiongate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for sessiongate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("sessiongate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SESSIONGATE_API_BASE_URL
	viper.SetEnvPrefix("SESSIONGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a sessiongate config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "sessiongate" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".sessiongate"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\sessiongate (typically C:\ProgramData\sessiongate)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "sessiongate"))
		}
	} else {
		paths = append(paths, "/etc/sessiongate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for sessiongate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "sessiongate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// This enables overriding nested config values via environment variables.
// Example: SESSIONGATE_API_BASE_URL overrides api.base_url
func bindNestedEnvKeys() {
	// API config
	_ = viper.BindEnv("api.base_url")
	_ = viper.BindEnv("api.auth_path")
	_ = viper.BindEnv("api.timeout")

	// Store config
	_ = viper.BindEnv("store.backend")
	_ = viper.BindEnv("store.path")

	// Idle config
	_ = viper.BindEnv("idle.timeout")

	// Loading config
	_ = viper.BindEnv("loading.delay")

	// Metrics config
	_ = viper.BindEnv("metrics.addr")

	// Log level
	_ = viper.BindEnv("log_level")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, validates, and returns the Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
		// This allows running with pure environment variable configuration.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply default values for optional fields
	cfg.SetDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
