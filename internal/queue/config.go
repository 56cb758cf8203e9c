// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package queue

import "time"

// Config holds work item queue configuration.
type Config struct {
	// PollInterval is how often the primary queue is checked for due items.
	PollInterval time.Duration `koanf:"poll_interval"`

	// RetryPollInterval is how often the retry queue is checked.
	RetryPollInterval time.Duration `koanf:"retry_poll_interval"`

	// RetryDelay is how long a failed item waits in the retry queue.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// Workers is the number of items a dispatcher processes concurrently.
	Workers int `koanf:"workers"`

	// DequeueBatch is the maximum number of items claimed per poll.
	DequeueBatch int `koanf:"dequeue_batch"`

	// DequeueRate limits claims per second. Zero disables the limit.
	DequeueRate float64 `koanf:"dequeue_rate"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		RetryPollInterval: 15 * time.Second,
		RetryDelay:        time.Minute,
		Workers:           4,
		DequeueBatch:      32,
		DequeueRate:       50,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return &ConfigError{Field: "PollInterval", Message: "must be positive"}
	}
	if c.RetryPollInterval <= 0 {
		return &ConfigError{Field: "RetryPollInterval", Message: "must be positive"}
	}
	if c.RetryDelay <= 0 {
		return &ConfigError{Field: "RetryDelay", Message: "must be positive"}
	}
	if c.Workers < 1 {
		return &ConfigError{Field: "Workers", Message: "must be at least 1"}
	}
	if c.DequeueBatch < 1 {
		return &ConfigError{Field: "DequeueBatch", Message: "must be at least 1"}
	}
	if c.DequeueRate < 0 {
		return &ConfigError{Field: "DequeueRate", Message: "cannot be negative"}
	}
	return nil
}

// ConfigError represents a queue configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "queue config error: " + e.Field + ": " + e.Message
}
