// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Command server runs the FabricBRS backup/restore orchestrator.

FabricBRS keeps backup policies, their mapping onto applications, services
and partitions, and the status of every requested backup and restore in a
BadgerDB store. All asynchronous work (driving a backup, driving a restore
through data loss, pushing protection changes to partitions) is persisted
as work items and drained by two dispatchers: the primary queue and a
delayed retry queue.

# Startup

 1. Configuration: koanf v2 with defaults, a YAML file, then BRS_* env vars
 2. Logging: zerolog, JSON or console
 3. Store: BadgerDB, opened once and shared by every collection
 4. Recovery: work items left in process by a previous run are re-queued
 5. Cluster gateway: circuit-broken HTTP client, TTL-cached topology
 6. Orchestrator and the read-only status API
 7. Supervisor tree

The tree:

	RootSupervisor ("fabricbrs")
	├── "data-layer"  store GC
	├── "queue-layer" main-dispatcher, retry-dispatcher
	└── "api-layer"   http-server

# Configuration

	BRS_CONFIG_PATH     path to a YAML config file
	BRS_STORE_PATH      BadgerDB directory (default /data/brs)
	BRS_GATEWAY_URL     cluster HTTP gateway (default http://localhost:19080)
	BRS_HTTP_PORT       status API port (default 8492)
	BRS_LOG_LEVEL       trace, debug, info, warn, error

See package config for the full list.

# Signals

SIGINT and SIGTERM cancel the supervisor tree. The HTTP server drains,
dispatchers stop claiming work, and items interrupted mid-process stay in
the in-process store until the next start re-queues them.
*/
package main
