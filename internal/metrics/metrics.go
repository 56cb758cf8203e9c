// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Work Item Queue Metrics
	WorkItemsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_work_items_enqueued_total",
			Help: "Total number of work items added to a queue",
		},
		[]string{"kind", "queue"}, // queue: "main", "retry"
	)

	WorkItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_work_items_processed_total",
			Help: "Total number of work item processing attempts by outcome",
		},
		[]string{"kind", "outcome"}, // completed, retried, dropped, interrupted
	)

	WorkItemProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brs_work_item_processing_duration_seconds",
			Help:    "Time spent in one Process call",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)

	WorkItemsInProcess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "brs_work_items_in_process",
			Help: "Number of work items currently held by a worker",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brs_queue_depth",
			Help: "Number of work items waiting in a queue",
		},
		[]string{"queue"},
	)

	WorkItemsVacuous = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_work_items_vacuous_total",
			Help: "Work items completed without effect because their target no longer exists",
		},
		[]string{"kind", "reason"},
	)

	WorkItemsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brs_work_items_recovered_total",
			Help: "In-process work items returned to their queue at startup",
		},
	)

	StoreConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_store_conflicts_total",
			Help: "Transactions aborted because a concurrent transaction won",
		},
		[]string{"operation"},
	)

	// Workflow Metrics
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_status_transitions_total",
			Help: "Status record transitions by store and target state",
		},
		[]string{"store", "state"}, // store: "backup", "restore"
	)

	StaleTransitionsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_stale_transitions_skipped_total",
			Help: "Status transitions skipped because a newer request owns the record",
		},
		[]string{"store"},
	)

	StalePropagations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_stale_propagations_total",
			Help: "Propagation work items discarded because their generation tokens are outdated",
		},
		[]string{"work_item_type"},
	)

	PropagationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_propagations_delivered_total",
			Help: "Enable/disable actions delivered to partitions",
		},
		[]string{"work_item_type", "action"}, // action: "enable", "disable", "none"
	)

	DataLossTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_data_loss_triggers_total",
			Help: "Data loss operations initiated for restores",
		},
		[]string{"attempt"}, // "first", "retrigger"
	)

	DataLossCancellations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brs_data_loss_cancellations_total",
			Help: "Running data loss operations cancelled after a restore timed out",
		},
	)

	// Store Maintenance Metrics
	StoreGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_store_gc_runs_total",
			Help: "Value log garbage collection passes by result",
		},
		[]string{"result"}, // result: "success", "error"
	)

	StoreGCDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brs_store_gc_duration_seconds",
			Help:    "Duration of value log garbage collection passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Retention Metrics
	RetentionPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_retention_passes_total",
			Help: "Retention passes over a policy's partitions by result",
		},
		[]string{"result"}, // result: "success", "error"
	)

	RecoveryPointsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brs_retention_recovery_points_pruned_total",
			Help: "Expired recovery points deleted by retention",
		},
	)

	// Remote Call Metrics
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brs_remote_call_duration_seconds",
			Help:    "Duration of calls to the cluster gateway",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"}, // result: "success", "error"
	)

	TopologyCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_topology_cache_requests_total",
			Help: "Topology cache lookups by result",
		},
		[]string{"kind", "result"}, // kind: "services", "partitions"; result: "hit", "miss"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brs_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brs_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordEnqueue counts a work item added to queue.
func RecordEnqueue(kind, queue string) {
	WorkItemsEnqueued.WithLabelValues(kind, queue).Inc()
}

// RecordProcessed records the outcome and duration of one Process call.
func RecordProcessed(kind, outcome string, duration time.Duration) {
	WorkItemsProcessed.WithLabelValues(kind, outcome).Inc()
	WorkItemProcessingDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// TrackInProcess adjusts the in-process gauge.
func TrackInProcess(inc bool) {
	if inc {
		WorkItemsInProcess.Inc()
	} else {
		WorkItemsInProcess.Dec()
	}
}

// UpdateQueueDepth sets the depth gauge of every queue in depths.
func UpdateQueueDepth(depths map[string]int) {
	for queue, n := range depths {
		QueueDepth.WithLabelValues(queue).Set(float64(n))
	}
}

// RecordVacuous counts a work item completed without effect.
func RecordVacuous(kind, reason string) {
	WorkItemsVacuous.WithLabelValues(kind, reason).Inc()
}

// RecordRecovered counts in-process items re-queued at startup.
func RecordRecovered(n int) {
	WorkItemsRecovered.Add(float64(n))
}

// RecordStoreGC records one value log GC pass.
func RecordStoreGC(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	StoreGCRuns.WithLabelValues(result).Inc()
	StoreGCDuration.Observe(duration.Seconds())
}

// RecordRetentionPass records one retention pass and the points it pruned.
func RecordRetentionPass(pruned int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RetentionPasses.WithLabelValues(result).Inc()
	RecoveryPointsPruned.Add(float64(pruned))
}

// RecordConflict counts a lost optimistic transaction.
func RecordConflict(operation string) {
	StoreConflicts.WithLabelValues(operation).Inc()
}

// RecordTransition counts a status transition into state.
func RecordTransition(store, state string) {
	StatusTransitions.WithLabelValues(store, state).Inc()
}

// RecordStaleTransition counts a guarded transition that did not apply.
func RecordStaleTransition(store string) {
	StaleTransitionsSkipped.WithLabelValues(store).Inc()
}

// RecordStalePropagation counts a discarded propagation.
func RecordStalePropagation(workItemType string) {
	StalePropagations.WithLabelValues(workItemType).Inc()
}

// RecordPropagation counts a delivered propagation action.
func RecordPropagation(workItemType, action string) {
	PropagationsDelivered.WithLabelValues(workItemType, action).Inc()
}

// RecordDataLossTrigger counts an initiated data loss operation.
func RecordDataLossTrigger(retrigger bool) {
	attempt := "first"
	if retrigger {
		attempt = "retrigger"
	}
	DataLossTriggers.WithLabelValues(attempt).Inc()
}

// RecordDataLossCancel counts a cancelled data loss operation.
func RecordDataLossCancel() {
	DataLossCancellations.Inc()
}

// RecordRemoteCall records one gateway call.
func RecordRemoteCall(operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RemoteCallDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordTopologyCache counts a topology cache lookup.
func RecordTopologyCache(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	TopologyCacheRequests.WithLabelValues(kind, result).Inc()
}

// RecordAPIRequest records an API request with its outcome.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
