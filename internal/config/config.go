// Package config holds the CAS engine's recognized configuration knobs and
// their defaults, decoded from YAML the way the teacher's cluster config is
// (gopkg.in/yaml.v3).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Durability selects how aggressively metadata commits hit disk.
type Durability string

const (
	DurabilityBuffer    Durability = "buffer"
	DurabilityFdatasync Durability = "fdatasync"
	DurabilityFsync     Durability = "fsync"
)

// StorageEngine selects the KV backend behind the engine.
type StorageEngine string

const (
	EngineTransactional StorageEngine = "transactional"
	EngineBestEffort    StorageEngine = "best_effort_undo"
)

// Config is the full set of knobs recognized by the CAS engine.
type Config struct {
	// MetaRoot is the directory holding the metadata KV database(s).
	MetaRoot string `yaml:"meta_root"`
	// BlockRoot is the directory holding physical block files.
	BlockRoot string `yaml:"block_root"`
	// InlineThreshold is the maximum byte length stored inside an object
	// record. 0 disables inlining. Multipart objects ignore this.
	InlineThreshold int64 `yaml:"inline_threshold"`
	// ChunkSize is the fixed chunk size used by the chunker, in bytes.
	ChunkSize int64 `yaml:"chunk_size"`
	// Durability controls the fsync tier used for metadata commits.
	Durability Durability `yaml:"durability"`
	// StorageEngine selects between the transactional and best-effort-undo KV backends.
	StorageEngine StorageEngine `yaml:"storage_engine"`
	// MultiTenant switches on the per-tenant metadata namespace layout.
	MultiTenant bool `yaml:"multi_tenant"`
	// PathDepth is how many hex characters of a block path sit in each directory level.
	PathDepth int `yaml:"path_depth"`
	// MaxInFlightChunks bounds per-object concurrent chunk writes.
	MaxInFlightChunks int `yaml:"max_in_flight_chunks"`
}

// Default returns the engine's baseline configuration.
func Default() Config {
	return Config{
		MetaRoot:          "./data/meta",
		BlockRoot:         "./data/blocks",
		InlineThreshold:   4096,
		ChunkSize:         1 << 20, // 1 MiB
		Durability:        DurabilityFdatasync,
		StorageEngine:     EngineTransactional,
		MultiTenant:       false,
		PathDepth:         2,
		MaxInFlightChunks: 5,
	}
}

// Load reads and decodes a YAML config file, filling unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for internally-inconsistent values.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.InlineThreshold < 0 {
		return fmt.Errorf("inline_threshold must not be negative")
	}
	if c.MaxInFlightChunks <= 0 {
		return fmt.Errorf("max_in_flight_chunks must be positive")
	}
	if c.PathDepth <= 0 {
		return fmt.Errorf("path_depth must be positive")
	}
	switch c.Durability {
	case DurabilityBuffer, DurabilityFdatasync, DurabilityFsync:
	default:
		return fmt.Errorf("unrecognized durability: %s", c.Durability)
	}
	switch c.StorageEngine {
	case EngineTransactional, EngineBestEffort:
	default:
		return fmt.Errorf("unrecognized storage_engine: %s", c.StorageEngine)
	}
	return nil
}
