// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package store

import "time"

// Config controls how the BadgerDB backing all collections is opened.
type Config struct {
	// Path is the directory where BadgerDB stores its files. Ignored when
	// InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps all data in memory. Used by tests and dry runs; state
	// does not survive a restart.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites forces fsync on every commit.
	SyncWrites bool `koanf:"sync_writes"`

	// Compression enables Snappy compression of values.
	Compression bool `koanf:"compression"`

	// NumCompactors is the number of BadgerDB compaction workers (minimum 2).
	NumCompactors int `koanf:"num_compactors"`

	// GCRatio is the discard ratio used by value log GC.
	GCRatio float64 `koanf:"gc_ratio"`

	// GCInterval is how often the value log GC runs. Zero disables it.
	GCInterval time.Duration `koanf:"gc_interval"`

	// CloseTimeout bounds how long Close waits for BadgerDB to shut down.
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// DefaultConfig returns durable defaults.
func DefaultConfig() Config {
	return Config{
		Path:          "/data/brs",
		InMemory:      false,
		SyncWrites:    true,
		Compression:   true,
		NumCompactors: 2,
		GCRatio:       0.5,
		GCInterval:    10 * time.Minute,
		CloseTimeout:  30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return &ConfigError{Field: "Path", Message: "store path is required unless in_memory is set"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be between 0 and 1 (exclusive)"}
	}
	return nil
}

// ConfigError represents a store configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "store config error: " + e.Field + ": " + e.Message
}
