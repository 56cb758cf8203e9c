// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package config loads the FabricBRS configuration.

# Configuration Sources

Configuration is layered with koanf, later layers overriding earlier ones:

 1. Built-in defaults (each component's DefaultConfig)
 2. A YAML file: $BRS_CONFIG_PATH, ./config.yaml, or /etc/fabricbrs/config.yaml
 3. Environment variables with the BRS_ prefix

# Configuration Structure

  - Store: BadgerDB location, durability and value log GC
  - Queue: dispatcher polling, retry delay, worker pool size
  - WorkItem: backup and restore polling, remote call timeout
  - Orchestrator: default request timeouts, destination probing
  - Gateway: cluster REST gateway URL, timeouts, circuit breaker
  - Storage: Azure blob endpoint suffix used when probing destinations
  - Server: status API listener
  - Logging: zerolog level and format
  - Supervisor: suture restart policy

# Environment Variables

Only the variables listed in envMappings are read; anything else with the
BRS_ prefix is ignored. Durations use Go syntax ("30s", "10m").

Store:
  - BRS_STORE_PATH, BRS_STORE_IN_MEMORY, BRS_STORE_SYNC_WRITES, BRS_STORE_GC_INTERVAL

Queue:
  - BRS_QUEUE_WORKERS, BRS_QUEUE_POLL_INTERVAL, BRS_QUEUE_RETRY_POLL_INTERVAL
  - BRS_QUEUE_RETRY_DELAY, BRS_QUEUE_DEQUEUE_BATCH, BRS_QUEUE_DEQUEUE_RATE

Workflows:
  - BRS_BACKUP_POLL_INTERVAL, BRS_RESTORE_POLL_INTERVAL
  - BRS_REMOTE_CALL_TIMEOUT, BRS_CONFLICT_RETRIES
  - BRS_DEFAULT_BACKUP_TIMEOUT, BRS_DEFAULT_RESTORE_TIMEOUT, BRS_CHECK_STORAGE

Gateway:
  - BRS_GATEWAY_URL, BRS_GATEWAY_API_VERSION, BRS_GATEWAY_TIMEOUT
  - BRS_TOPOLOGY_CACHE_TTL

Server and logging:
  - BRS_HTTP_HOST, BRS_HTTP_PORT, BRS_HTTP_TIMEOUT
  - BRS_LOG_LEVEL, BRS_LOG_FORMAT, BRS_LOG_CALLER
  - BRS_SHUTDOWN_TIMEOUT

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
*/
package config
