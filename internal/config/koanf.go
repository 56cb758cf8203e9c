// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fabricbrs/config.yaml",
	"/etc/fabricbrs/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "BRS_CONFIG_PATH"

// EnvPrefix is the prefix of every environment variable read.
const EnvPrefix = "BRS_"

// envMappings maps lowercased variable names, prefix removed, to koanf paths.
var envMappings = map[string]string{
	// Store
	"store_path":        "store.path",
	"store_in_memory":   "store.in_memory",
	"store_sync_writes": "store.sync_writes",
	"store_gc_interval": "store.gc_interval",

	// Queue
	"queue_workers":             "queue.workers",
	"queue_poll_interval":       "queue.poll_interval",
	"queue_retry_poll_interval": "queue.retry_poll_interval",
	"queue_retry_delay":         "queue.retry_delay",
	"queue_dequeue_batch":       "queue.dequeue_batch",
	"queue_dequeue_rate":        "queue.dequeue_rate",

	// Workflows
	"backup_poll_interval":    "workitem.backup_poll_interval",
	"restore_poll_interval":   "workitem.restore_poll_interval",
	"remote_call_timeout":     "workitem.remote_call_timeout",
	"conflict_retries":        "workitem.conflict_retries",
	"max_data_loss_attempts":  "workitem.max_data_loss_attempts",
	"default_backup_timeout":  "orchestrator.default_backup_timeout",
	"default_restore_timeout": "orchestrator.default_restore_timeout",
	"check_storage":           "orchestrator.check_storage",

	// Retention
	"retention_interval":      "retention.interval",
	"retention_retry_delay":   "retention.retry_delay",
	"retention_delete_jitter": "retention.delete_jitter",

	// Gateway
	"gateway_url":         "gateway.url",
	"gateway_api_version": "gateway.api_version",
	"gateway_timeout":     "gateway.timeout",
	"topology_cache_ttl":  "gateway.topology_cache_ttl",

	// Storage
	"storage_endpoint_suffix": "storage.endpoint_suffix",

	// Server
	"http_host":    "server.host",
	"http_port":    "server.port",
	"http_timeout": "server.timeout",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"shutdown_timeout": "supervisor.shutdown_timeout",
}

// Load builds the configuration from defaults, the config file and the
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// BRS_GATEWAY_URL -> gateway.url
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps an environment variable name to its koanf path.
// Unmapped names return "" and are skipped, so unrelated variables cannot
// pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
