// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/store"
	"github.com/tomtom215/fabricbrs/internal/workitem"
)

const (
	testService   = "fabric:/App/Svc"
	testPartition = "9b2e4f10-3c6d-4e8a-b1f2-7a8c9d0e1f23"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryPollInterval = 10 * time.Millisecond
	cfg.RetryDelay = time.Minute
	cfg.DequeueRate = 0
	return cfg
}

func newTestQueue(t *testing.T) (*Queue, *store.DB) {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, testConfig()), db
}

func disableItem() *workitem.WorkItem {
	return workitem.NewSendToServiceNode(testService, testPartition, models.WorkItemInfo{WorkItemType: models.WorkItemDisable})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, true},
		{"zero retry delay", func(c *Config) { c.RetryDelay = 0 }, true},
		{"no workers", func(c *Config) { c.Workers = 0 }, true},
		{"no batch", func(c *Config) { c.DequeueBatch = 0 }, true},
		{"negative rate", func(c *Config) { c.DequeueRate = -1 }, true},
		{"unlimited rate", func(c *Config) { c.DequeueRate = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddAndDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	item := disableItem()
	if err := q.AddWorkItem(ctx, nil, item); err != nil {
		t.Fatalf("AddWorkItem: %v", err)
	}

	leases, err := q.Dequeue(ctx, models.QueueMain, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(leases) != 1 || leases[0].Item.ID != item.ID {
		t.Fatalf("Dequeue returned %+v", leases)
	}
	if leases[0].Info.WorkItemQueueRunType != models.QueueMain {
		t.Errorf("run type = %s, want main", leases[0].Info.WorkItemQueueRunType)
	}
	if _, found, _ := q.inProcess.Get(ctx, item.ID); !found {
		t.Error("claimed item has no in-process record")
	}

	again, err := q.Dequeue(ctx, models.QueueMain, 10)
	if err != nil || len(again) != 0 {
		t.Errorf("second Dequeue = (%d, %v), want nothing", len(again), err)
	}

	if err := q.Complete(ctx, item.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, found, _ := q.items.Get(ctx, item.ID); found {
		t.Error("completed item payload still stored")
	}
}

func TestAddWorkItemJoinsCallerTransaction(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Update(ctx, func(tx *store.Tx) error {
		if err := q.AddWorkItem(ctx, tx, disableItem()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Main != 0 {
		t.Errorf("aborted enqueue left %d items", stats.Main)
	}
}

func TestAddWorkItemRejectsInvalidItem(t *testing.T) {
	q, _ := newTestQueue(t)
	item := disableItem()
	item.Kind = workitem.KindBackupPartition
	if err := q.AddWorkItem(context.Background(), nil, item); !errors.Is(err, workitem.ErrInvalidWorkItem) {
		t.Errorf("expected ErrInvalidWorkItem, got %v", err)
	}
}

func TestFailureMovesToRetryInOneTransaction(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	item := disableItem()
	if err := q.AddWorkItem(ctx, nil, item); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Dequeue(ctx, models.QueueMain, 1); err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	tx := db.CreateTransaction()
	if err := q.ProcessFailureHandleTx(ctx, tx, item.ID, errors.New("enable failed")); err != nil {
		tx.Abort()
		t.Fatalf("ProcessFailureHandleTx: %v", err)
	}

	// Nothing is visible until the transaction commits.
	if _, found, _ := q.inProcess.Get(ctx, item.ID); !found {
		t.Error("in-process record vanished before commit")
	}
	if retry, _ := q.pending.List(ctx, string(models.QueueRetry)+"/"); len(retry) != 0 {
		t.Error("retry entry visible before commit")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, found, _ := q.inProcess.Get(ctx, item.ID); found {
		t.Error("in-process record still present after commit")
	}
	retry, err := q.pending.List(ctx, string(models.QueueRetry)+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(retry) != 1 {
		t.Fatalf("retry queue has %d entries, want 1", len(retry))
	}
	info := retry[0].Value
	if info.WorkItemID != item.ID || info.Attempts != 1 || info.LastError != "enable failed" {
		t.Errorf("unexpected retry envelope %+v", info)
	}
	if info.DueDateTime.Before(before.Add(q.config.RetryDelay)) {
		t.Errorf("due %v is earlier than now + retry delay", info.DueDateTime)
	}

	// Not due yet.
	if leases, _ := q.Dequeue(ctx, models.QueueRetry, 10); len(leases) != 0 {
		t.Error("retry entry dequeued before it was due")
	}
	q.Now = func() time.Time { return time.Now().Add(2 * q.config.RetryDelay) }
	leases, err := q.Dequeue(ctx, models.QueueRetry, 10)
	if err != nil || len(leases) != 1 {
		t.Fatalf("Dequeue retry = (%d, %v), want 1", len(leases), err)
	}
	if leases[0].Item.ID != item.ID {
		t.Errorf("retried item id = %s, want %s", leases[0].Item.ID, item.ID)
	}
}

func TestFailureHandleRequiresInProcess(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.ProcessFailureHandle(context.Background(), "missing", errors.New("x")); !errors.Is(err, ErrNotInProcess) {
		t.Errorf("expected ErrNotInProcess, got %v", err)
	}
}

func TestConcurrentDequeueClaimsEachItemOnce(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		if err := q.AddWorkItem(ctx, nil, disableItem()); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				leases, err := q.Dequeue(ctx, models.QueueMain, 5)
				if err != nil {
					t.Errorf("Dequeue: %v", err)
					return
				}
				stats, _ := q.Stats(ctx)
				mu.Lock()
				for _, l := range leases {
					seen[l.Item.ID]++
				}
				mu.Unlock()
				if len(leases) == 0 && stats.Main == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("claimed %d distinct items, want %d", len(seen), n)
	}
	for id, c := range seen {
		if c != 1 {
			t.Errorf("item %s claimed %d times", id, c)
		}
	}
}

func TestRecoverInProcess(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.AddWorkItem(ctx, nil, disableItem()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := q.Dequeue(ctx, models.QueueMain, 2); err != nil {
		t.Fatal(err)
	}

	n, err := q.RecoverInProcess(ctx)
	if err != nil {
		t.Fatalf("RecoverInProcess: %v", err)
	}
	if n != 2 {
		t.Errorf("recovered %d, want 2", n)
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Main != 3 || stats.InProcess != 0 {
		t.Errorf("stats after recovery = %+v", stats)
	}

	if n, err := q.RecoverInProcess(ctx); err != nil || n != 0 {
		t.Errorf("second recovery = (%d, %v), want (0, nil)", n, err)
	}
}

func TestCheckpoint(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	item := workitem.NewRestorePartition(testService, testPartition, "req", time.Now(), time.Minute, fabric.DataLossPartial)
	if err := q.Checkpoint(ctx, nil, item); !errors.Is(err, ErrNotInProcess) {
		t.Fatalf("checkpoint of a waiting item: expected ErrNotInProcess, got %v", err)
	}

	if err := q.AddWorkItem(ctx, nil, item); err != nil {
		t.Fatal(err)
	}
	leases, err := q.Dequeue(ctx, models.QueueMain, 1)
	if err != nil || len(leases) != 1 {
		t.Fatalf("Dequeue = (%d, %v)", len(leases), err)
	}

	claimed := leases[0].Item
	claimed.RestorePartition.Phase = workitem.PhaseDataLossTriggered
	claimed.RestorePartition.DataLossGUID = "dl-1"
	if err := q.Checkpoint(ctx, nil, claimed); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	// After a restart the checkpointed phase is what comes back.
	if _, err := q.RecoverInProcess(ctx); err != nil {
		t.Fatal(err)
	}
	leases, err = q.Dequeue(ctx, models.QueueMain, 1)
	if err != nil || len(leases) != 1 {
		t.Fatalf("Dequeue after recovery = (%d, %v)", len(leases), err)
	}
	if r := leases[0].Item.RestorePartition; r.Phase != workitem.PhaseDataLossTriggered || r.DataLossGUID != "dl-1" {
		t.Errorf("recovered restore = %+v", r)
	}
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()

	info := models.WorkItemProcessInfo{WorkItemID: "bad", DueDateTime: time.Now(), WorkItemQueueRunType: models.QueueMain}
	err := db.Update(ctx, func(tx *store.Tx) error {
		if err := q.items.Update(tx, "bad", json.RawMessage(`{"kind":"Explode","id":"bad"}`)); err != nil {
			return err
		}
		return q.pending.Update(tx, queueKey(&info), info)
	})
	if err != nil {
		t.Fatal(err)
	}

	leases, err := q.Dequeue(ctx, models.QueueMain, 10)
	if err != nil || len(leases) != 0 {
		t.Fatalf("Dequeue = (%d, %v), want nothing", len(leases), err)
	}
	if _, found, _ := q.items.Get(ctx, "bad"); found {
		t.Error("undecodable payload still stored")
	}
	stats, _ := q.Stats(ctx)
	if stats.Main != 0 || stats.InProcess != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
}
