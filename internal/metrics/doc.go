// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package metrics provides Prometheus metrics for the backup/restore engine.

All collectors are registered on the default registry through promauto and
are exposed by the API server at /metrics.

# Available Metrics

Work item queue:
  - brs_work_items_enqueued_total{kind, queue}
  - brs_work_items_processed_total{kind, outcome}
  - brs_work_item_processing_duration_seconds{kind}
  - brs_work_items_in_process
  - brs_queue_depth{queue}
  - brs_work_items_vacuous_total{kind, reason}
  - brs_work_items_recovered_total
  - brs_store_conflicts_total{operation}

Store maintenance:
  - brs_store_gc_runs_total{result}
  - brs_store_gc_duration_seconds

Workflows:
  - brs_status_transitions_total{store, state}
  - brs_stale_transitions_skipped_total{store}
  - brs_stale_propagations_total{work_item_type}
  - brs_propagations_delivered_total{work_item_type, action}
  - brs_data_loss_triggers_total{attempt}
  - brs_data_loss_cancellations_total

Cluster gateway:
  - brs_remote_call_duration_seconds{operation, result}
  - brs_topology_cache_requests_total{kind, result}
  - circuit_breaker_state{name}, circuit_breaker_requests_total{name, result},
    circuit_breaker_consecutive_failures{name},
    circuit_breaker_state_transitions_total{name, from_state, to_state}

API:
  - brs_api_requests_total{method, endpoint, status_code}
  - brs_api_request_duration_seconds{method, endpoint}

# Usage

	start := time.Now()
	done, err := workitem.Process(ctx, env, item)
	metrics.RecordProcessed(item.Kind.String(), outcome, time.Since(start))

Record* helpers are safe for concurrent use.
*/
package metrics
