// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package api serves the HTTP surface of FabricBRS: status queries, operator
commands and the callbacks partitions post while a backup or restore runs.
Every state change is delegated to the orchestrator. Routes:

	GET    /healthz                        liveness plus a store round trip
	GET    /metrics                        Prometheus exposition
	GET    /v1/status/backup?key=          backup status of a key and its partitions
	GET    /v1/status/restore?key=         restore status of a key and its partitions
	GET    /v1/queue/stats                 queue depths and next due time
	GET    /v1/policies                    every backup policy
	GET    /v1/policies/{name}             one backup policy
	GET    /v1/protection/effective?key=   mapping, policy and suspension for a key

	POST   /v1/policies                    create a policy
	PUT    /v1/policies/{name}             replace a policy's content
	DELETE /v1/policies/{name}             delete an unmapped policy
	POST   /v1/protection/enable           {"key", "policy_name"}
	POST   /v1/protection/disable          {"key"}
	POST   /v1/protection/suspend          {"key"}
	POST   /v1/protection/resume           {"key"}
	POST   /v1/partitions/backup           on-demand backup, answers 202
	POST   /v1/partitions/restore          on-demand restore, answers 202

	POST   /v1/callbacks/backup-result     partition reports a finished backup
	POST   /v1/callbacks/restore-progress  partition reports it started restoring
	POST   /v1/callbacks/restore-result    partition reports a finished restore

Partitions are named in bodies by "service_name" and "partition_id" since
service names contain slashes. Bodies are limited to 1 MiB and validated
before the orchestrator sees them. A callback for a superseded request is
answered 200 with {"applied": false}.

JSON bodies use a fixed envelope:

	{
	  "status": "success",
	  "data": [...],
	  "metadata": {"timestamp": "2026-10-19T12:00:00Z", "query_time_ms": 2}
	}

Errors carry a machine-readable code:

	{
	  "status": "error",
	  "error": {"code": "CONFLICT", "message": "backup policy is in use"},
	  "metadata": {"timestamp": "2026-10-19T12:00:00Z"}
	}
*/
package api
