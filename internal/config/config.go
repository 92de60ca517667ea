// Package config loads the minimal process configuration: a data directory
// and a log verbosity flag. Nothing else in Helm is configurable — no
// ports, no auth, no TLS, since the daemon only ever serves localhost to
// its own menu-bar frontend.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the full configuration surface.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"` // debug | info | warn | error
}

// Load reads HELMD_DATA_DIR and HELMD_LOG_LEVEL, defaulting data_dir to
// ~/Library/Application Support/Helm and log_level to "info".
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	viper.SetDefault("data_dir", filepath.Join(home, "Library", "Application Support", "Helm"))
	viper.SetDefault("log_level", "info")

	viper.SetEnvPrefix("HELMD")
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		cfg.LogLevel = "info"
	}

	return &cfg, nil
}

// DBPath returns the SQLite database file path within DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "helm.db")
}

// Verbose reports whether LogLevel requests debug-level logging.
func (c *Config) Verbose() bool {
	return c.LogLevel == "debug"
}
