// Package config layers CLI settings from config files and environment
// variables via viper. Precedence, highest first: explicit flags (applied
// by the command layer), ST_* environment variables, .stitch/config.yaml,
// built-in defaults.
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

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config search paths, in order of precedence:
	// 1. Walk up from CWD to the nearest .stitch/ directory, so commands
	//    work from anywhere inside the project tree.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			stitchDir := filepath.Join(dir, ".stitch")
			configPath := filepath.Join(stitchDir, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.AddConfigPath(stitchDir)
				break
			}
			if info, err := os.Stat(stitchDir); err == nil && info.IsDir() {
				v.AddConfigPath(stitchDir)
				break
			}
		}

		v.AddConfigPath(filepath.Join(cwd, ".stitch"))
	}

	// 2. User config directory (~/.config/st/)
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "st"))
	}

	// 3. Home directory (~/.stitch/)
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".stitch"))
	}

	// Environment variables take precedence over the config file.
	// E.g., ST_JSON, ST_DB, ST_ACTOR, ST_LOCK_TIMEOUT.
	v.SetEnvPrefix("ST")

	// Map ST_LOCK_TIMEOUT to the "lock-timeout" config key.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("db", "")
	v.SetDefault("actor", "")
	v.SetDefault("lock-timeout", "10s")
	v.SetDefault("run-log", "")

	// Bound outside the ST_ prefix so the variable matches the one the
	// debug package reads.
	_ = v.BindEnv("debug", "STITCH_DEBUG")
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
