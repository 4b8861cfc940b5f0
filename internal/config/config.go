// Package config provides the YAML application configuration: database
// location, OAuth client material, and the periodic schedules.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OAuthConfig holds the OAuth2 client material for the remote calendar
// account. The token file stores the granted token as JSON.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenFile    string `yaml:"token_file"`
}

// Config is the top-level application configuration.
type Config struct {
	// Database is the SQLite database path.
	Database string `yaml:"database"`

	// SyncCron schedules the periodic full sync (cron syntax).
	SyncCron string `yaml:"sync_cron"`

	// FlushCron schedules the periodic outbox flush, independent of
	// enqueue-triggered flushes.
	FlushCron string `yaml:"flush_cron"`

	// OAuth, if non-nil, enables the Google Calendar remote. Without it the
	// store still works locally and sync runs report SKIPPED.
	OAuth *OAuthConfig `yaml:"oauth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database:  "calsyncd.db",
		SyncCron:  "*/15 * * * *",
		FlushCron: "*/2 * * * *",
	}
}

// Normalize fills in missing values so partially-filled configs from older
// versions still behave.
func (c *Config) Normalize() {
	if c.Database == "" {
		c.Database = "calsyncd.db"
	}
	if c.SyncCron == "" {
		c.SyncCron = "*/15 * * * *"
	}
	if c.FlushCron == "" {
		c.FlushCron = "*/2 * * * *"
	}
}

// Load loads configuration from the given YAML path. A missing file is
// created with defaults and 0600 permissions.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calsyncd-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
