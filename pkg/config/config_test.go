package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty store root", func(c *Config) { c.Store.Root = "" }},
		{"unknown compression", func(c *Config) { c.Store.Compression = "lzo" }},
		{"zero backfill page size", func(c *Config) { c.Backfill.PageSize = 0 }},
		{"empty sync stream", func(c *Config) { c.Sync.Stream = "" }},
		{"zero lease ttl", func(c *Config) { c.Sync.LeaseTTL = 0 }},
		{"zero flush threshold", func(c *Config) { c.Events.FlushThreshold = 0 }},
		{"single file compaction", func(c *Config) { c.Compaction.MaxFilesPerPartition = 1 }},
		{"zero query timeout", func(c *Config) { c.Query.Timeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "scrape_records", cfg.DB.Table)
	assert.Equal(t, "snappy", cfg.Store.Compression)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
store:
  root: /var/lib/chrono/analytics
  compression: zstd
sync:
  stream: pages-eu
  interval: 90s
query:
  max_rows: 500
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/chrono/analytics", cfg.Store.Root)
	assert.Equal(t, "zstd", cfg.Store.Compression)
	assert.Equal(t, "pages-eu", cfg.Sync.Stream)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 500, cfg.Query.MaxRows)
	// Sections the file omits keep their defaults.
	assert.Equal(t, 5000, cfg.Backfill.PageSize)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  compression: lzo\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := NewDefaultConfig()
	cfg.Store.Root = "/tmp/analytics"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/analytics", loaded.Store.Root)
}
