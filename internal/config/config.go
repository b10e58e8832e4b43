// Package config parses connection-level and rollback-to-stable tuning,
// the way untoldecay-BeadsLog loads its own settings: a small typed
// struct populated by viper from a TOML file with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// RollbackToStable holds the §6 RTS tuning knobs.
type RollbackToStable struct {
	StableTimestamp uint64 `mapstructure:"stable_timestamp" toml:"stable_timestamp"`
	OldestTimestamp uint64 `mapstructure:"oldest_timestamp" toml:"oldest_timestamp"`
	DryRun          bool   `mapstructure:"dry_run" toml:"dry_run"`
}

// Config is the full set of engine-wide tunables read at connection open.
type Config struct {
	PageSize          int              `mapstructure:"page_size" toml:"page_size"`
	LeafValueMaxBytes int64            `mapstructure:"leaf_value_max_bytes" toml:"leaf_value_max_bytes"`
	BlockCompressor   string           `mapstructure:"block_compressor" toml:"block_compressor"`
	PrefixCompression bool             `mapstructure:"prefix_compression" toml:"prefix_compression"`
	RollbackToStable  RollbackToStable `mapstructure:"rollback_to_stable" toml:"rollback_to_stable"`
	DhandleCacheSize  int              `mapstructure:"dhandle_cache_size" toml:"dhandle_cache_size"`
}

// Default returns the configuration the engine boots with absent any
// file or environment overrides: 4KiB pages, snappy-if-available
// compression (modeled as a name the block manager interprets), 64MiB
// history-store leaf values, and prefix compression on, per §6.
func Default() Config {
	return Config{
		PageSize:          4096,
		LeafValueMaxBytes: 64 << 20,
		BlockCompressor:   "snappy",
		PrefixCompression: true,
		DhandleCacheSize:  128,
	}
}

// Load reads path (a TOML file) over the defaults, then applies
// WT_-prefixed environment variable overrides (e.g. WT_ROLLBACK_TO_STABLE_DRY_RUN).
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("WT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows, so bind every key for
	// the environment even when the file does not set it.
	for _, key := range []string{
		"page_size", "leaf_value_max_bytes", "block_compressor", "prefix_compression", "dhandle_cache_size",
		"rollback_to_stable.stable_timestamp", "rollback_to_stable.oldest_timestamp", "rollback_to_stable.dry_run",
	} {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file means "run on defaults": with SetConfigFile the
		// miss surfaces as a path error, not ConfigFileNotFoundError.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, the format Load reads back. Used by
// operators to capture the running configuration (e.g. after an RTS
// dry-run tuning pass) as a starting point for the next connection open.
func (cfg Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
