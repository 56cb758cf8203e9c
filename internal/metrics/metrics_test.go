// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEnqueue(t *testing.T) {
	before := testutil.ToFloat64(WorkItemsEnqueued.WithLabelValues("BackupPartition", "main"))
	RecordEnqueue("BackupPartition", "main")
	after := testutil.ToFloat64(WorkItemsEnqueued.WithLabelValues("BackupPartition", "main"))
	if after-before != 1 {
		t.Errorf("expected enqueue counter to grow by 1, grew by %v", after-before)
	}
}

func TestRecordProcessed(t *testing.T) {
	tests := []struct {
		kind    string
		outcome string
	}{
		{"SendToServiceNode", "completed"},
		{"SendToServiceNode", "retried"},
		{"RestorePartition", "dropped"},
		{"UpdateEnablement", "interrupted"},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.outcome, func(t *testing.T) {
			c := WorkItemsProcessed.WithLabelValues(tt.kind, tt.outcome)
			before := testutil.ToFloat64(c)
			RecordProcessed(tt.kind, tt.outcome, 25*time.Millisecond)
			if got := testutil.ToFloat64(c) - before; got != 1 {
				t.Errorf("counter grew by %v, want 1", got)
			}
		})
	}
}

func TestTrackInProcess(t *testing.T) {
	before := testutil.ToFloat64(WorkItemsInProcess)
	TrackInProcess(true)
	TrackInProcess(true)
	TrackInProcess(false)
	if got := testutil.ToFloat64(WorkItemsInProcess) - before; got != 1 {
		t.Errorf("gauge moved by %v, want 1", got)
	}
}

func TestUpdateQueueDepth(t *testing.T) {
	UpdateQueueDepth(map[string]int{"main": 4, "retry": 2})
	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("main")); got != 4 {
		t.Errorf("main depth = %v, want 4", got)
	}
	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("retry")); got != 2 {
		t.Errorf("retry depth = %v, want 2", got)
	}
}

func TestRecordRemoteCall(t *testing.T) {
	before := testutil.CollectAndCount(RemoteCallDuration)
	RecordRemoteCall("EnableBackup", time.Millisecond, nil)
	RecordRemoteCall("EnableBackup", time.Millisecond, errors.New("offline"))
	if after := testutil.CollectAndCount(RemoteCallDuration); after < before {
		t.Errorf("series count shrank: %d -> %d", before, after)
	}
}

func TestRecordDataLossTrigger(t *testing.T) {
	first := testutil.ToFloat64(DataLossTriggers.WithLabelValues("first"))
	retrigger := testutil.ToFloat64(DataLossTriggers.WithLabelValues("retrigger"))
	RecordDataLossTrigger(false)
	RecordDataLossTrigger(true)
	RecordDataLossTrigger(true)
	if got := testutil.ToFloat64(DataLossTriggers.WithLabelValues("first")) - first; got != 1 {
		t.Errorf("first grew by %v, want 1", got)
	}
	if got := testutil.ToFloat64(DataLossTriggers.WithLabelValues("retrigger")) - retrigger; got != 2 {
		t.Errorf("retrigger grew by %v, want 2", got)
	}
}

func TestRecordTopologyCache(t *testing.T) {
	before := testutil.ToFloat64(TopologyCacheRequests.WithLabelValues("partitions", "hit"))
	RecordTopologyCache("partitions", true)
	if got := testutil.ToFloat64(TopologyCacheRequests.WithLabelValues("partitions", "hit")) - before; got != 1 {
		t.Errorf("hit counter grew by %v, want 1", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	c := APIRequestsTotal.WithLabelValues("GET", "/v1/status/backup", "404")
	before := testutil.ToFloat64(c)
	RecordAPIRequest("GET", "/v1/status/backup", 404, 2*time.Millisecond)
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("counter grew by %v, want 1", got)
	}
}

func TestRecordRetentionPass(t *testing.T) {
	okBefore := testutil.ToFloat64(RetentionPasses.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(RetentionPasses.WithLabelValues("error"))
	prunedBefore := testutil.ToFloat64(RecoveryPointsPruned)

	RecordRetentionPass(3, nil)
	RecordRetentionPass(1, errors.New("container gone"))

	if got := testutil.ToFloat64(RetentionPasses.WithLabelValues("success")) - okBefore; got != 1 {
		t.Errorf("success passes grew by %v, want 1", got)
	}
	if got := testutil.ToFloat64(RetentionPasses.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("error passes grew by %v, want 1", got)
	}
	if got := testutil.ToFloat64(RecoveryPointsPruned) - prunedBefore; got != 4 {
		t.Errorf("pruned grew by %v, want 4", got)
	}
}
