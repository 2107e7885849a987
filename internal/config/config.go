// Package config loads Tourly core configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir" validate:"required"`
	Baseline BaselineConfig `yaml:"baseline"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Network  NetworkConfig  `yaml:"network"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BaselineConfig identifies the packaged baseline database. Changing ID
// forces a wipe of the local store on next start.
type BaselineConfig struct {
	ID           string `yaml:"id" validate:"required"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// RemoteConfig configures the remote data service.
type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey      string        `yaml:"api_key"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Enabled reports whether a remote endpoint is configured.
func (r RemoteConfig) Enabled() bool {
	return r.BaseURL != ""
}

// SyncConfig configures queue draining.
type SyncConfig struct {
	BatchSize     int           `yaml:"batch_size" validate:"gte=1,lte=500"`
	RetryInterval time.Duration `yaml:"retry_interval" validate:"gt=0"`
	MaxBackoff    time.Duration `yaml:"max_backoff" validate:"gtefield=RetryInterval"`
	DrainTimeout  time.Duration `yaml:"drain_timeout" validate:"gt=0"`
}

// NetworkConfig configures the reachability signal.
type NetworkConfig struct {
	// StateFile, when set, is watched for "online"/"offline" contents.
	StateFile    string `yaml:"state_file"`
	AssumeOnline bool   `yaml:"assume_online"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN ERROR"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// DatabasePath returns the local database file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tourly.db")
}

// MarkerPath returns the baseline marker file path.
func (c *Config) MarkerPath() string {
	return filepath.Join(c.DataDir, "db_version.json")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir:  "./data",
		Baseline: BaselineConfig{ID: "baseline-v4"},
		Remote:   RemoteConfig{Timeout: 15 * time.Second},
		Sync: SyncConfig{
			BatchSize:     50,
			RetryInterval: 30 * time.Second,
			MaxBackoff:    30 * time.Minute,
			DrainTimeout:  2 * time.Minute,
		},
		Network: NetworkConfig{AssumeOnline: true},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads configuration from a YAML file, applies .env and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOURLY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TOURLY_BASELINE_ID"); v != "" {
		cfg.Baseline.ID = v
	}
	if v := os.Getenv("TOURLY_BASELINE_SNAPSHOT"); v != "" {
		cfg.Baseline.SnapshotPath = v
	}
	if v := os.Getenv("TOURLY_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("TOURLY_REMOTE_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("TOURLY_ACCESS_TOKEN"); v != "" {
		cfg.Remote.AccessToken = v
	}
	if v := os.Getenv("TOURLY_SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("TOURLY_NETWORK_STATE_FILE"); v != "" {
		cfg.Network.StateFile = v
	}
	if v := os.Getenv("TOURLY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TOURLY_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}
