// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package workitem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/store"
)

// fakeQueue records items only once the enqueuing transaction commits.
type fakeQueue struct {
	mu          sync.Mutex
	added       []*WorkItem
	checkpoints []*WorkItem
}

func (q *fakeQueue) AddWorkItem(_ context.Context, tx *store.Tx, item *WorkItem) error {
	tx.OnCommit(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.added = append(q.added, item)
	})
	return nil
}

func (q *fakeQueue) Checkpoint(_ context.Context, tx *store.Tx, item *WorkItem) error {
	snapshot := *item
	if item.RestorePartition != nil {
		r := *item.RestorePartition
		snapshot.RestorePartition = &r
	}
	tx.OnCommit(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.checkpoints = append(q.checkpoints, &snapshot)
	})
	return nil
}

func (q *fakeQueue) Added() []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*WorkItem(nil), q.added...)
}

func (q *fakeQueue) Checkpoints() []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*WorkItem(nil), q.checkpoints...)
}

type fakePartitions struct {
	mu       sync.Mutex
	backups  []string
	enabled  map[string]*fabric.ProtectionPolicy
	disabled []string

	backupErr  error
	enableErr  error
	disableErr error
	onBackup   func()
}

func newFakePartitions() *fakePartitions {
	return &fakePartitions{enabled: make(map[string]*fabric.ProtectionPolicy)}
}

func (f *fakePartitions) BackupPartition(_ context.Context, _, _, operationID string, _ *fabric.BackupConfiguration) error {
	f.mu.Lock()
	f.backups = append(f.backups, operationID)
	err, hook := f.backupErr, f.onBackup
	f.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (f *fakePartitions) EnableProtection(_ context.Context, serviceURI, partitionID string, p *fabric.ProtectionPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabled[models.PartitionKey(serviceURI, partitionID)] = p
	return nil
}

func (f *fakePartitions) DisableProtection(_ context.Context, serviceURI, partitionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disableErr != nil {
		return f.disableErr
	}
	f.disabled = append(f.disabled, models.PartitionKey(serviceURI, partitionID))
	return nil
}

func (f *fakePartitions) BackupCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.backups)
}

func (f *fakePartitions) EnabledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enabled)
}

func (f *fakePartitions) DisabledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.disabled)
}

// fakeFaults reports stateFor(n) for the n-th initiated operation (1-based).
type fakeFaults struct {
	mu        sync.Mutex
	initiated []string
	cancelled []string
	stateFor  func(n int) fabric.DataLossState
}

func (f *fakeFaults) InitiatePartitionDataLoss(_ context.Context, dataLossID, _, _ string, _ fabric.DataLossMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.initiated {
		if id == dataLossID {
			return fabric.ErrDataLossExists
		}
	}
	f.initiated = append(f.initiated, dataLossID)
	return nil
}

func (f *fakeFaults) GetPartitionDataLossProgress(_ context.Context, dataLossID, _, _ string) (*fabric.DataLossProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range f.initiated {
		if id != dataLossID {
			continue
		}
		for _, c := range f.cancelled {
			if c == dataLossID {
				return &fabric.DataLossProgress{State: fabric.DataLossCancelled}, nil
			}
		}
		state := fabric.DataLossRunning
		if f.stateFor != nil {
			state = f.stateFor(i + 1)
		}
		return &fabric.DataLossProgress{State: state}, nil
	}
	return nil, fabric.ErrDataLossNotFound
}

func (f *fakeFaults) CancelPartitionDataLoss(_ context.Context, dataLossID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, dataLossID)
	return nil
}

func (f *fakeFaults) Initiated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.initiated...)
}

func (f *fakeFaults) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type fakeTopology struct {
	services    map[string][]fabric.ServiceInfo
	partitions  map[string][]fabric.PartitionInfo
	validateErr error
	validated   int
}

func (f *fakeTopology) GetServiceList(_ context.Context, applicationURI string) ([]fabric.ServiceInfo, error) {
	s, ok := f.services[applicationURI]
	if !ok {
		return nil, fabric.ErrServiceNotFound
	}
	return s, nil
}

func (f *fakeTopology) GetPartitionList(_ context.Context, serviceURI string) ([]fabric.PartitionInfo, error) {
	p, ok := f.partitions[serviceURI]
	if !ok {
		return nil, fabric.ErrServiceNotFound
	}
	return p, nil
}

func (f *fakeTopology) ValidatePartition(context.Context, string, string) error {
	f.validated++
	return f.validateErr
}

type testHarness struct {
	env        *Env
	queue      *fakeQueue
	partitions *fakePartitions
	faults     *fakeFaults
	topology   *fakeTopology
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &testHarness{
		queue:      &fakeQueue{},
		partitions: newFakePartitions(),
		faults:     &fakeFaults{},
		topology:   &fakeTopology{},
	}
	cfg := Config{
		BackupPollInterval:  10 * time.Millisecond,
		RestorePollInterval: 10 * time.Millisecond,
		RemoteCallTimeout:   time.Second,
		ConflictRetries:     3,
	}
	h.env = NewEnv(db, cfg, h.partitions, h.faults, h.topology, h.queue)
	return h
}

func filePolicy(name string) models.BackupPolicy {
	return models.BackupPolicy{
		Name:     name,
		UniqueID: uuid.NewString(),
		Schedule: models.Schedule{
			Kind:             models.ScheduleFrequencyBased,
			RunFrequencyType: models.FrequencyMinutes,
			Interval:         30,
		},
		Storage: storage.Descriptor{Kind: storage.KindFileShare, FileShare: &storage.FileShare{Path: `\\backups\share`}},
	}
}

// protect stores pol and maps key to it under a fresh protection id.
func (h *testHarness) protect(t *testing.T, key string, pol models.BackupPolicy) models.BackupMapping {
	t.Helper()
	m := models.BackupMapping{
		ApplicationOrServiceURI: key,
		BackupPolicyName:        pol.Name,
		ProtectionID:            uuid.NewString(),
		CreatedAt:               time.Now(),
	}
	err := h.env.DB.Update(context.Background(), func(tx *store.Tx) error {
		if err := h.env.Resolver.Policies.Update(tx, pol.Name, pol); err != nil {
			return err
		}
		return h.env.Resolver.Mappings.Update(tx, key, m)
	})
	if err != nil {
		t.Fatalf("protect %s: %v", key, err)
	}
	return m
}

func (h *testHarness) suspend(t *testing.T, key string) {
	t.Helper()
	err := h.env.DB.Update(context.Background(), func(tx *store.Tx) error {
		return h.env.Resolver.Suspended.Update(tx, key, models.SuspendStatus{Key: key, SuspendedAt: time.Now()})
	})
	if err != nil {
		t.Fatalf("suspend %s: %v", key, err)
	}
}

func (h *testHarness) putBackupStatus(t *testing.T, key string, st *models.BackupPartitionStatus) {
	t.Helper()
	err := h.env.DB.Update(context.Background(), func(tx *store.Tx) error {
		return h.env.BackupStatus.Update(tx, key, *st)
	})
	if err != nil {
		t.Fatalf("put backup status: %v", err)
	}
}

func (h *testHarness) putRestoreStatus(t *testing.T, key string, st *models.RestoreStatus) {
	t.Helper()
	err := h.env.DB.Update(context.Background(), func(tx *store.Tx) error {
		return h.env.RestoreStatus.Update(tx, key, *st)
	})
	if err != nil {
		t.Fatalf("put restore status: %v", err)
	}
}

func (h *testHarness) backupStatus(t *testing.T, key string) models.BackupPartitionStatus {
	t.Helper()
	st, err := h.env.BackupStatus.MustGet(context.Background(), key)
	if err != nil {
		t.Fatalf("backup status: %v", err)
	}
	return st
}

func (h *testHarness) restoreStatus(t *testing.T, key string) models.RestoreStatus {
	t.Helper()
	st, err := h.env.RestoreStatus.MustGet(context.Background(), key)
	if err != nil {
		t.Fatalf("restore status: %v", err)
	}
	return st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
