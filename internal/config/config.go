// Package config loads and persists the daemon's ini-style configuration
// file: the `[DEFAULT]` section names the registry/database/log paths
// and records the last clean shutdown instant, and the `[SESSION]`
// section records the live control-channel port (spec.md §7).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/swarmguard/schedulerd/internal/canon"
)

// Config wraps a loaded configuration file and knows how to persist
// updates back to the same path it was loaded from.
type Config struct {
	v    *viper.Viper
	path string
}

// Load reads the ini file at path, derives root_directory from the
// file's own location, verifies the registry file exists, and creates
// the log directory if missing. Mirrors config.py's load_config_file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}
	v.Set("default.root_directory", filepath.Dir(absPath))
	v.Set("default.config_path", absPath)

	c := &Config{v: v, path: absPath}

	registryFile := c.RegistryPath()
	if registryFile == "" {
		return nil, fmt.Errorf("config %s: [DEFAULT] registry is required", path)
	}
	if _, err := os.Stat(registryFile); err != nil {
		return nil, fmt.Errorf("registry file does not exist: %s", registryFile)
	}

	logDir := c.LogDirectory()
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", logDir, err)
		}
	}

	return c, nil
}

// RegistryPath is [DEFAULT] registry.
func (c *Config) RegistryPath() string { return c.v.GetString("default.registry") }

// DatabasePath is [DEFAULT] database, the ledger's bbolt file path.
func (c *Config) DatabasePath() string { return c.v.GetString("default.database") }

// LogDirectory is [DEFAULT] log_directory.
func (c *Config) LogDirectory() string { return c.v.GetString("default.log_directory") }

// RootDirectory is auto-derived at Load time from the config file's own
// directory, never read from the file itself.
func (c *Config) RootDirectory() string { return c.v.GetString("default.root_directory") }

// Path is the absolute path this Config was loaded from and is written
// back to.
func (c *Config) Path() string { return c.path }

// LastShutdown returns the recorded last-shutdown instant, if any. The
// second return value is false when the field is empty (first launch,
// or a launch that was never cleanly stopped).
func (c *Config) LastShutdown() (time.Time, bool, error) {
	raw := c.v.GetString("default.last_shutdown")
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := canon.ParseTime(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last_shutdown: %w", err)
	}
	return t, true, nil
}

// Port is [SESSION] port, the control channel's persisted ephemeral
// port.
func (c *Config) Port() int { return c.v.GetInt("session.port") }

// SetPort persists the control channel's bound port so client
// invocations (execute/stop) can find it.
func (c *Config) SetPort(port int) error {
	c.v.Set("session.port", port)
	return c.write()
}

// RecordShutdown persists the shutdown instant, implementing
// taskmanager.ShutdownRecorder.
func (c *Config) RecordShutdown(at time.Time) error {
	c.v.Set("default.last_shutdown", canon.FormatTime(at))
	return c.write()
}

// ClearShutdown empties last_shutdown so a subsequent launch without
// --resume finds LastShutdown reporting ok=false, rather than a stale
// instant from a previous clean shutdown.
func (c *Config) ClearShutdown() error {
	c.v.Set("default.last_shutdown", "")
	return c.write()
}

func (c *Config) write() error {
	return c.v.WriteConfigAs(c.path)
}
