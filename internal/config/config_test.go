package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.False(t, cfg.Remote.Enabled())
	assert.Equal(t, filepath.Join("./data", "tourly.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("./data", "db_version.json"), cfg.MarkerPath())
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tourly.yaml")
	yml := `
data_dir: /var/lib/tourly
baseline:
  id: baseline-v5
remote:
  base_url: https://example.supabase.co
  timeout: 5s
sync:
  batch_size: 20
  retry_interval: 10s
  max_backoff: 5m
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("TOURLY_REMOTE_API_KEY", "anon-key")
	t.Setenv("TOURLY_SYNC_BATCH_SIZE", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tourly", cfg.DataDir)
	assert.Equal(t, "baseline-v5", cfg.Baseline.ID)
	assert.Equal(t, "https://example.supabase.co", cfg.Remote.BaseURL)
	assert.Equal(t, "anon-key", cfg.Remote.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Sync.RetryInterval)
	assert.Equal(t, 2*time.Minute, cfg.Sync.DrainTimeout, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Remote.Enabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty baseline id", func(c *Config) { c.Baseline.ID = "" }},
		{"zero batch size", func(c *Config) { c.Sync.BatchSize = 0 }},
		{"backoff below interval", func(c *Config) { c.Sync.MaxBackoff = time.Second }},
		{"bad remote url", func(c *Config) { c.Remote.BaseURL = "not a url" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
