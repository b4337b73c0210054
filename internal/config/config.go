// Package config holds the process-wide configuration singleton.
// Precedence, highest first: environment variables (TRELLIS_*), the
// discovered config file, defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Call once at
// startup, before any getter.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Config file precedence: project .trellis/config.yaml (walking up
	// from the working directory so commands work from subdirectories),
	// then ~/.config/trellis/config.yaml, then ~/.trellis/config.yaml.
	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".trellis", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "trellis", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".trellis", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// TRELLIS_TENANT maps to "tenant", TRELLIS_LOCK_TTL to "lock-ttl".
	v.SetEnvPrefix("TRELLIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Empty-string defaults defer to the project file; the CLI applies
	// hard fallbacks last.
	v.SetDefault("json", false)
	v.SetDefault("db", "")
	v.SetDefault("tenant", "")
	v.SetDefault("environment", "")
	v.SetDefault("actor", "")
	v.SetDefault("role", "dev")
	v.SetDefault("dialect", "")
	v.SetDefault("lock-ttl", "1h")
	v.SetDefault("lookback-days", 30)

	v.SetDefault("warehouse.url", "")
	v.SetDefault("warehouse.token", "")
	v.SetDefault("warehouse.timeout", "30s")
	v.SetDefault("warehouse.poll-interval", "2s")

	v.SetDefault("clusters.default", "")
	v.SetDefault("clusters.rates", map[string]string{})

	v.SetDefault("sandbox.level", "execute")

	v.SetDefault("advisor.enabled", false)
	v.SetDefault("advisor.api-key", "")
	v.SetDefault("advisor.model", "claude-3-5-haiku-20241022")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 50)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns a boolean config value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns an integer config value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringMapString returns a map config value.
func GetStringMapString(key string) map[string]string {
	if v == nil {
		return nil
	}
	return v.GetStringMapString(key)
}

// Set overrides a config value at runtime. Used by CLI flags, which
// outrank every other source.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// ConfigFileUsed reports which config file was loaded, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
