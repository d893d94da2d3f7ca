// Package config holds the panel configuration and its on-disk layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage mode names accepted in config.toml.
const (
	StorageLog    = "log"
	StorageSQLite = "sqlite"
)

// Config is the panel configuration, read from config.toml in the data
// directory.
type Config struct {
	DataDir        string   `toml:"data_dir"`
	ListenAddr     string   `toml:"listen_addr"`
	Storage        string   `toml:"storage"`
	RetentionDays  int      `toml:"retention_days"`
	SweepMinutes   int      `toml:"sweep_minutes"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataDir:       DefaultDataDir(),
		ListenAddr:    "127.0.0.1:8420",
		Storage:       StorageLog,
		RetentionDays: 90,
		SweepMinutes:  60,
	}
}

// DefaultDataDir returns ~/.wapanel.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wapanel")
}

// Load reads the config file at path over the defaults. A missing file is
// an error; callers that accept defaults check for it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageLog, StorageSQLite:
	default:
		return fmt.Errorf("invalid storage mode %q: must be %q or %q", c.Storage, StorageLog, StorageSQLite)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	return nil
}

// Retention returns the message expiry horizon; zero disables expiry.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SweepInterval returns how often expired messages are swept.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepMinutes) * time.Minute
}

// ConfigPath returns the config file path inside the data directory.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.DataDir, "config.toml")
}

// DevicesDir returns the directory holding per-device state.
func (c *Config) DevicesDir() string {
	return filepath.Join(c.DataDir, "devices")
}

// DeviceDir returns one device's state directory.
func (c *Config) DeviceDir(id string) string {
	return filepath.Join(c.DevicesDir(), id)
}

// SessionDBPath returns a device's wire session database path.
func (c *Config) SessionDBPath(id string) string {
	return filepath.Join(c.DeviceDir(id), "session.db")
}

// MediaDir returns a device's downloaded-media directory.
func (c *Config) MediaDir(id string) string {
	return filepath.Join(c.DeviceDir(id), "media")
}

// DBPath returns the panel database path used in sqlite storage mode.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "panel.db")
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir(), "paneld.log")
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.DevicesDir(), c.LogDir()} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
