package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "./loom", cfg.DataDir)
	assert.Equal(t, 256, cfg.CompiledCacheSize)
	assert.True(t, cfg.ResultCacheEnabled)
	assert.Equal(t, time.Hour, cfg.SweepMinAge)
}

func TestLoadFromEnv(t *testing.T) {
	t.Run("env overrides defaults", func(t *testing.T) {
		t.Setenv("LOOMDB_DATA_DIR", "/var/lib/loom")
		t.Setenv("LOOMDB_COMPILED_CACHE_SIZE", "32")
		t.Setenv("LOOMDB_RESULT_CACHE_ENABLED", "false")
		t.Setenv("LOOMDB_SWEEP_MIN_AGE", "30m")
		t.Setenv("LOOMDB_LOCK_TIMEOUT", "2s")
		t.Setenv("LOOMDB_LOG_LEVEL", "debug")

		cfg := LoadFromEnv()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "/var/lib/loom", cfg.DataDir)
		assert.Equal(t, 32, cfg.CompiledCacheSize)
		assert.False(t, cfg.ResultCacheEnabled)
		assert.Equal(t, 30*time.Minute, cfg.SweepMinAge)
		assert.Equal(t, 2*time.Second, cfg.LockTimeout)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("unparseable values fall back", func(t *testing.T) {
		t.Setenv("LOOMDB_COMPILED_CACHE_SIZE", "lots")
		t.Setenv("LOOMDB_SWEEP_MIN_AGE", "soon")

		cfg := LoadFromEnv()
		assert.Equal(t, 256, cfg.CompiledCacheSize)
		assert.Equal(t, time.Hour, cfg.SweepMinAge)
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loom.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /srv/loom
compiled_cache_size: 64
sweep_min_age: 15m
log_level: warn
`), 0o644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "/srv/loom", cfg.DataDir)
		assert.Equal(t, 64, cfg.CompiledCacheSize)
		assert.Equal(t, 15*time.Minute, cfg.SweepMinAge)
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("data_dir: /srv/loom\n"), 0o644))
		t.Setenv("LOOMDB_DATA_DIR", "/env/wins")

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/env/wins", cfg.DataDir)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("data_dir: [unclosed"), 0o644))

		_, err := LoadFile(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero cache size", func(c *Config) { c.CompiledCacheSize = 0 }},
		{"negative sweep age", func(c *Config) { c.SweepMinAge = -time.Second }},
		{"zero lock timeout", func(c *Config) { c.LockTimeout = 0 }},
		{"negative read retries", func(c *Config) { c.ReadMaxRetries = -1 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolvedAnalyticsDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	assert.Equal(t, "/data/.loom-index", cfg.ResolvedAnalyticsDir())

	cfg.AnalyticsDir = "/elsewhere"
	assert.Equal(t, "/elsewhere", cfg.ResolvedAnalyticsDir())
}
