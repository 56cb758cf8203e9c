// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package retention

import "time"

// Config tunes the retention passes.
type Config struct {
	// Interval is the longest time between two passes of one policy. A
	// policy whose RetentionDuration is shorter runs at that duration.
	Interval time.Duration `koanf:"interval"`

	// RetryDelay is the wait before a failed pass runs again.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// DeleteJitter is the upper bound of the random pause between two
	// deletions in the same destination.
	DeleteJitter time.Duration `koanf:"delete_jitter"`
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		Interval:     24 * time.Hour,
		RetryDelay:   10 * time.Minute,
		DeleteJitter: 50 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return &ConfigError{Field: "Interval", Message: "must be positive"}
	}
	if c.RetryDelay <= 0 {
		return &ConfigError{Field: "RetryDelay", Message: "must be positive"}
	}
	if c.DeleteJitter < 0 {
		return &ConfigError{Field: "DeleteJitter", Message: "cannot be negative"}
	}
	return nil
}

// ConfigError represents a retention configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "retention config error: " + e.Field + ": " + e.Message
}
