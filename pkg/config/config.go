// Package config handles LoomDB configuration via environment variables and
// an optional YAML file.
//
// Configuration is loaded with LoadFromEnv() (LOOMDB_* variables) or
// LoadFile() and validated with Validate() before use. File values override
// defaults; environment variables override the file.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//   - LOOMDB_DATA_DIR="./loom"
//   - LOOMDB_COMPILED_CACHE_SIZE=256
//   - LOOMDB_RESULT_CACHE_ENABLED=true
//   - LOOMDB_SWEEP_ON_OPEN=true
//   - LOOMDB_SWEEP_MIN_AGE=1h
//   - LOOMDB_LOCK_TIMEOUT=5s
//   - LOOMDB_READ_MAX_RETRIES=3
//   - LOOMDB_READ_BASE_DELAY=10ms
//   - LOOMDB_ANALYTICS_ENABLED=true
//   - LOOMDB_LOG_LEVEL="info"
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all LoomDB configuration.
type Config struct {
	// DataDir is the store root; one subdirectory per collection.
	DataDir string `yaml:"data_dir"`

	// CompiledCacheSize bounds the compiled-selector LRU cache.
	CompiledCacheSize int `yaml:"compiled_cache_size"`

	// ResultCacheEnabled toggles the generation-keyed result cache.
	ResultCacheEnabled bool `yaml:"result_cache_enabled"`

	// SweepOnOpen runs an orphan sweep when a session opens.
	SweepOnOpen bool `yaml:"sweep_on_open"`

	// SweepMinAge is the minimum age before an orphaned temp file is
	// reclaimed. Must stay comfortably above the longest plausible write,
	// to avoid racing an in-flight writer.
	SweepMinAge time.Duration `yaml:"sweep_min_age"`

	// LockTimeout bounds waits for the directory lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// ReadMaxRetries and ReadBaseDelay tune transient-read backoff.
	ReadMaxRetries int           `yaml:"read_max_retries"`
	ReadBaseDelay  time.Duration `yaml:"read_base_delay"`

	// AnalyticsEnabled toggles the badger reporting index.
	AnalyticsEnabled bool `yaml:"analytics_enabled"`

	// AnalyticsDir overrides where the reporting index lives.
	// Defaults to <DataDir>/.loom-index.
	AnalyticsDir string `yaml:"analytics_dir"`

	// LogLevel is a logrus level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:            "./loom",
		CompiledCacheSize:  256,
		ResultCacheEnabled: true,
		SweepOnOpen:        true,
		SweepMinAge:        time.Hour,
		LockTimeout:        5 * time.Second,
		ReadMaxRetries:     3,
		ReadBaseDelay:      10 * time.Millisecond,
		AnalyticsEnabled:   true,
		LogLevel:           "info",
	}
}

// LoadFromEnv builds a Config from defaults overridden by LOOMDB_*
// environment variables.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile builds a Config from defaults overridden by a YAML file, then by
// environment variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = envStr("LOOMDB_DATA_DIR", c.DataDir)
	c.CompiledCacheSize = envInt("LOOMDB_COMPILED_CACHE_SIZE", c.CompiledCacheSize)
	c.ResultCacheEnabled = envBool("LOOMDB_RESULT_CACHE_ENABLED", c.ResultCacheEnabled)
	c.SweepOnOpen = envBool("LOOMDB_SWEEP_ON_OPEN", c.SweepOnOpen)
	c.SweepMinAge = envDuration("LOOMDB_SWEEP_MIN_AGE", c.SweepMinAge)
	c.LockTimeout = envDuration("LOOMDB_LOCK_TIMEOUT", c.LockTimeout)
	c.ReadMaxRetries = envInt("LOOMDB_READ_MAX_RETRIES", c.ReadMaxRetries)
	c.ReadBaseDelay = envDuration("LOOMDB_READ_BASE_DELAY", c.ReadBaseDelay)
	c.AnalyticsEnabled = envBool("LOOMDB_ANALYTICS_ENABLED", c.AnalyticsEnabled)
	c.AnalyticsDir = envStr("LOOMDB_ANALYTICS_DIR", c.AnalyticsDir)
	c.LogLevel = envStr("LOOMDB_LOG_LEVEL", c.LogLevel)
}

// Validate checks the configuration for values the store cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.CompiledCacheSize <= 0 {
		return fmt.Errorf("compiled_cache_size must be positive, got %d", c.CompiledCacheSize)
	}
	if c.SweepMinAge < 0 {
		return fmt.Errorf("sweep_min_age must not be negative, got %v", c.SweepMinAge)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive, got %v", c.LockTimeout)
	}
	if c.ReadMaxRetries < 0 {
		return fmt.Errorf("read_max_retries must not be negative, got %d", c.ReadMaxRetries)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// ResolvedAnalyticsDir returns the analytics index directory, applying the
// default when unset.
func (c *Config) ResolvedAnalyticsDir() string {
	if c.AnalyticsDir != "" {
		return c.AnalyticsDir
	}
	return c.DataDir + "/.loom-index"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
