// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package fabric

import (
	"net/url"
	"time"
)

// GatewayConfig configures the cluster REST gateway client.
type GatewayConfig struct {
	URL        string        `koanf:"url"`
	APIVersion string        `koanf:"api_version"`
	Timeout    time.Duration `koanf:"timeout"`

	// TopologyCacheTTL is how long service and partition lists are cached.
	// Zero disables the cache.
	TopologyCacheTTL time.Duration `koanf:"topology_cache_ttl"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the circuit breaker around gateway calls.
type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	OpenTimeout  time.Duration `koanf:"open_timeout"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio"`
}

// DefaultGatewayConfig returns defaults for a local gateway.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		URL:              "http://localhost:19080",
		APIVersion:       "6.4",
		Timeout:          60 * time.Second,
		TopologyCacheTTL: 30 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:  3,
			Interval:     time.Minute,
			OpenTimeout:  30 * time.Second,
			MinRequests:  10,
			FailureRatio: 0.6,
		},
	}
}

// Validate checks the gateway configuration.
func (c *GatewayConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "URL", Message: "must be an absolute http(s) URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "URL", Message: "scheme must be http or https"}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Field: "Timeout", Message: "must be positive"}
	}
	if c.TopologyCacheTTL < 0 {
		return &ConfigError{Field: "TopologyCacheTTL", Message: "cannot be negative"}
	}
	if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
		return &ConfigError{Field: "Breaker.FailureRatio", Message: "must be in (0, 1]"}
	}
	return nil
}

// ConfigError represents a gateway configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "gateway config error: " + e.Field + ": " + e.Message
}
