// Package config loads the engine-wide Config record (the external-option
// table) from YAML, following a zero-value-means-default,
// missing-file-is-not-an-error convention.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the options the core engine consumes. A zero value for any
// field read straight off a loaded file means "use the default" — callers
// go through Load/LoadFrom, which merge onto Defaults(), rather than
// unmarshalling directly.
type Config struct {
	ControlDir             string        `yaml:"control_dir"`
	DefaultCols            int           `yaml:"default_cols"`
	DefaultRows            int           `yaml:"default_rows"`
	ScrollbackRows         int           `yaml:"scrollback_rows"`
	SessionIdleTimeout     time.Duration `yaml:"session_idle_timeout"`
	NoSpawn                bool          `yaml:"no_spawn"`
	DoNotAllowColumnSet    bool          `yaml:"do_not_allow_column_set"`
	NotificationDebounceMs int           `yaml:"notification_debounce_ms"`
}

// Defaults returns the built-in default Config.
func Defaults() Config {
	return Config{
		ControlDir:             DefaultControlDir(),
		DefaultCols:            80,
		DefaultRows:            24,
		ScrollbackRows:         10000,
		SessionIdleTimeout:     30 * time.Minute,
		NotificationDebounceMs: 50,
	}
}

// DefaultControlDir returns $HOME/.vibetunnel/control, overridable by the
// VIBETUNNEL_CONTROL_DIR environment variable.
func DefaultControlDir() string {
	if d := os.Getenv("VIBETUNNEL_CONTROL_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".vibetunnel", "control")
	}
	return filepath.Join(home, ".vibetunnel", "control")
}

// ConfigDir returns the vibetunnel configuration directory (~/.vibetunnel/).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".vibetunnel")
	}
	return filepath.Join(home, ".vibetunnel")
}

// Load reads the config from $VIBETUNNEL_CONFIG, or ~/.vibetunnel/config.yaml
// if unset. If the file does not exist, it returns the Defaults with no error.
func Load() (*Config, error) {
	path := os.Getenv("VIBETUNNEL_CONFIG")
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from the given path, merging set fields over
// the defaults. If the file does not exist, it returns the Defaults with no
// error.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, err
	}
	cfg.applyOverride(override)
	return &cfg, nil
}

// applyOverride merges non-zero fields of override onto c.
func (c *Config) applyOverride(override Config) {
	if override.ControlDir != "" {
		c.ControlDir = override.ControlDir
	}
	if override.DefaultCols != 0 {
		c.DefaultCols = override.DefaultCols
	}
	if override.DefaultRows != 0 {
		c.DefaultRows = override.DefaultRows
	}
	if override.ScrollbackRows != 0 {
		c.ScrollbackRows = override.ScrollbackRows
	}
	if override.SessionIdleTimeout != 0 {
		c.SessionIdleTimeout = override.SessionIdleTimeout
	}
	if override.NotificationDebounceMs != 0 {
		c.NotificationDebounceMs = override.NotificationDebounceMs
	}
	// Booleans can't distinguish "absent" from "false" in this shape, so an
	// override file can only ever turn these on, never back off.
	c.NoSpawn = c.NoSpawn || override.NoSpawn
	c.DoNotAllowColumnSet = c.DoNotAllowColumnSet || override.DoNotAllowColumnSet
}

// DebounceInterval returns NotificationDebounceMs as a time.Duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.NotificationDebounceMs) * time.Millisecond
}
