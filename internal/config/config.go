// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/orchestrator"
	"github.com/tomtom215/fabricbrs/internal/queue"
	"github.com/tomtom215/fabricbrs/internal/retention"
	"github.com/tomtom215/fabricbrs/internal/store"
	"github.com/tomtom215/fabricbrs/internal/workitem"
)

// Config is the complete service configuration.
type Config struct {
	Store        store.Config         `koanf:"store"`
	Queue        queue.Config         `koanf:"queue"`
	WorkItem     workitem.Config      `koanf:"workitem"`
	Orchestrator orchestrator.Config  `koanf:"orchestrator"`
	Retention    retention.Config     `koanf:"retention"`
	Gateway      fabric.GatewayConfig `koanf:"gateway"`
	Storage      StorageConfig        `koanf:"storage"`
	Server       ServerConfig         `koanf:"server"`
	Logging      LoggingConfig        `koanf:"logging"`
	Supervisor   SupervisorConfig     `koanf:"supervisor"`
}

// StorageConfig holds settings for reaching backup destinations.
type StorageConfig struct {
	// EndpointSuffix is the Azure blob endpoint suffix of the cloud in use.
	// Default: core.windows.net
	EndpointSuffix string `koanf:"endpoint_suffix"`
}

// ServerConfig holds the status API listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// JSON is recommended for production (structured, machine-parseable).
	// Console is human-readable for development.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	// Default: false
	Caller bool `koanf:"caller"`
}

// SupervisorConfig holds the restart policy of the supervisor tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// defaultConfig returns a Config with all defaults applied.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Store:        store.DefaultConfig(),
		Queue:        queue.DefaultConfig(),
		WorkItem:     workitem.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Retention:    retention.DefaultConfig(),
		Gateway:      fabric.DefaultGatewayConfig(),
		Storage: StorageConfig{
			EndpointSuffix: "core.windows.net",
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8492,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}
