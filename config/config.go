// Package config loads the YAML file that parameterizes a Cryo server
// process: where it stores data, what address it binds, and how it
// tunes its page cache and checkpoint cadence.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every knob a cryo-server process accepts.
type Config struct {
	// DataDir holds the page file and write-ahead log.
	DataDir string `yaml:"data_dir"`
	// BindAddr is the TCP address the server listens on.
	BindAddr string `yaml:"bind_addr"`
	// CacheSize bounds the pager's in-memory page cache, in pages.
	CacheSize int `yaml:"cache_size"`
	// CheckpointEvery triggers an automatic checkpoint every N logged
	// mutations; 0 disables auto-checkpoint (checkpoints only happen on
	// a graceful Close).
	CheckpointEvery int `yaml:"checkpoint_every"`
	// WorkerPoolSize bounds how many connections the server drains
	// concurrently.
	WorkerPoolSize int `yaml:"worker_pool_size"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DataDir:         "./data",
		BindAddr:        "127.0.0.1:7878",
		CacheSize:       256,
		CheckpointEvery: 0,
		WorkerPoolSize:  16,
	}
}

// Load reads and parses the YAML file at path, layering it over
// Default. A missing file is not an error: it yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a Config with missing or nonsensical fields.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.BindAddr == "" {
		return fmt.Errorf("config: bind_addr is required")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("config: cache_size must be positive, got %d", c.CacheSize)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("config: checkpoint_every must be >= 0, got %d", c.CheckpointEvery)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: worker_pool_size must be positive, got %d", c.WorkerPoolSize)
	}
	return nil
}
