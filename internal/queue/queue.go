// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

// Package queue implements the durable primary and retry work item queues
// and the dispatchers that drain them.
//
// Three collections back the queue:
//
//	workitem/<id>                              encoded payload
//	workitemqueue/<runtype>/<due-unix-nano>/<id> waiting envelope, due order
//	workiteminprocess/<id>                     envelope of a claimed item
//
// Dequeue moves an envelope from workitemqueue to workiteminprocess in one
// transaction. Two workers racing for the same item both read its queue
// entry; the second commit fails with a conflict, so at most one worker
// holds any item.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/store"
	"github.com/tomtom215/fabricbrs/internal/workitem"
)

// ErrNotInProcess is returned when an operation on a claimed item finds no
// in-process record for it.
var ErrNotInProcess = errors.New("work item is not in process")

// maxErrorLength caps the failure text kept on an envelope.
const maxErrorLength = 1024

// Lease is a claimed work item.
type Lease struct {
	Item *workitem.WorkItem
	Info models.WorkItemProcessInfo
}

// Queue is the durable work item queue.
type Queue struct {
	db        *store.DB
	config    Config
	items     *store.Collection[json.RawMessage]
	pending   *store.Collection[models.WorkItemProcessInfo]
	inProcess *store.Collection[models.WorkItemProcessInfo]

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// New binds a queue to db.
func New(db *store.DB, cfg Config) *Queue {
	return &Queue{
		db:        db,
		config:    cfg,
		items:     store.NewCollection[json.RawMessage](db, store.WorkItemStore),
		pending:   store.NewCollection[models.WorkItemProcessInfo](db, store.WorkItemQueueStore),
		inProcess: store.NewCollection[models.WorkItemProcessInfo](db, store.WorkItemInProcessStore),
		Now:       time.Now,
	}
}

// Config returns the queue configuration.
func (q *Queue) Config() Config {
	return q.config
}

func (q *Queue) now() time.Time {
	if q.Now == nil {
		return time.Now().UTC()
	}
	return q.Now().UTC()
}

func queueKey(info *models.WorkItemProcessInfo) string {
	return fmt.Sprintf("%s/%020d/%s", info.WorkItemQueueRunType, info.DueDateTime.UnixNano(), info.WorkItemID)
}

// withTx runs fn in tx, or in a transaction of its own when tx is nil.
func (q *Queue) withTx(ctx context.Context, tx *store.Tx, fn func(tx *store.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return q.db.Update(ctx, fn)
}

// AddWorkItem persists item and makes it due immediately in the primary
// queue. With a non-nil tx the enqueue commits or aborts with the caller's
// other writes.
func (q *Queue) AddWorkItem(ctx context.Context, tx *store.Tx, item *workitem.WorkItem) error {
	data, err := workitem.Encode(item)
	if err != nil {
		return err
	}
	return q.withTx(ctx, tx, func(tx *store.Tx) error {
		if err := q.items.Update(tx, item.ID, data); err != nil {
			return err
		}
		now := q.now()
		info := models.WorkItemProcessInfo{
			WorkItemID:           item.ID,
			DueDateTime:          now,
			WorkItemQueueRunType: models.QueueMain,
			EnqueuedAt:           now,
		}
		if err := q.pending.Update(tx, queueKey(&info), info); err != nil {
			return err
		}
		kind := string(item.Kind)
		tx.OnCommit(func() {
			metrics.RecordEnqueue(kind, string(models.QueueMain))
			logging.Debug().Str("work_item_id", item.ID).Str("kind", kind).Msg("Work item enqueued")
		})
		return nil
	})
}

// Checkpoint rewrites the stored payload of an in-process item.
func (q *Queue) Checkpoint(ctx context.Context, tx *store.Tx, item *workitem.WorkItem) error {
	data, err := workitem.Encode(item)
	if err != nil {
		return err
	}
	return q.withTx(ctx, tx, func(tx *store.Tx) error {
		if _, found, err := q.inProcess.GetTx(tx, item.ID); err != nil {
			return err
		} else if !found {
			return fmt.Errorf("checkpoint %s: %w", item.ID, ErrNotInProcess)
		}
		return q.items.Update(tx, item.ID, data)
	})
}

// Dequeue claims up to max due items from the runType queue.
func (q *Queue) Dequeue(ctx context.Context, runType models.QueueRunType, max int) ([]Lease, error) {
	now := q.now()
	var due []string
	err := q.db.View(ctx, func(tx *store.Tx) error {
		return q.pending.ScanTx(ctx, tx, string(runType)+"/", func(key string, info models.WorkItemProcessInfo) (bool, error) {
			if info.DueDateTime.After(now) {
				return false, nil
			}
			due = append(due, key)
			return len(due) < max, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s queue: %w", runType, err)
	}

	leases := make([]Lease, 0, len(due))
	for _, key := range due {
		lease, ok, err := q.claim(ctx, key)
		if err != nil {
			return leases, err
		}
		if ok {
			leases = append(leases, lease)
		}
	}
	return leases, nil
}

// claim moves one queue entry to in-process. It reports false when another
// worker got there first or the entry had no usable payload.
func (q *Queue) claim(ctx context.Context, key string) (Lease, bool, error) {
	var (
		lease   Lease
		claimed bool
	)
	err := q.db.Update(ctx, func(tx *store.Tx) error {
		claimed = false
		info, found, err := q.pending.GetForUpdate(tx, key)
		if err != nil || !found {
			return err
		}
		if err := q.pending.Delete(tx, key); err != nil {
			return err
		}

		raw, found, err := q.items.GetTx(tx, info.WorkItemID)
		if err != nil {
			return err
		}
		if !found {
			logging.Warn().Str("work_item_id", info.WorkItemID).Msg("Queue entry without payload removed")
			return nil
		}
		item, err := workitem.Decode(raw)
		if err != nil {
			logging.Error().Err(err).Str("work_item_id", info.WorkItemID).Msg("Undecodable work item dropped")
			tx.OnCommit(func() { metrics.RecordProcessed("unknown", "dropped", 0) })
			return q.items.Delete(tx, info.WorkItemID)
		}

		if err := q.inProcess.Update(tx, info.WorkItemID, info); err != nil {
			return err
		}
		lease = Lease{Item: item, Info: info}
		claimed = true
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		metrics.RecordConflict("dequeue")
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("claim %s: %w", key, err)
	}
	return lease, claimed, nil
}

// Complete removes a finished item.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.db.Update(ctx, func(tx *store.Tx) error {
		return q.remove(tx, id)
	})
}

// Drop removes an item that can never succeed.
func (q *Queue) Drop(ctx context.Context, id string, cause error) error {
	err := q.db.Update(ctx, func(tx *store.Tx) error {
		return q.remove(tx, id)
	})
	if err == nil {
		logging.Error().Err(cause).Str("work_item_id", id).Msg("Work item dropped")
	}
	return err
}

func (q *Queue) remove(tx *store.Tx, id string) error {
	if err := q.inProcess.Delete(tx, id); err != nil {
		return err
	}
	return q.items.Delete(tx, id)
}

// ProcessFailureHandle moves an in-process item to the retry queue, due
// after RetryDelay.
func (q *Queue) ProcessFailureHandle(ctx context.Context, id string, cause error) error {
	return q.db.Update(ctx, func(tx *store.Tx) error {
		return q.ProcessFailureHandleTx(ctx, tx, id, cause)
	})
}

// ProcessFailureHandleTx is ProcessFailureHandle inside tx: the in-process
// record is deleted and the retry entry written in the same transaction.
func (q *Queue) ProcessFailureHandleTx(_ context.Context, tx *store.Tx, id string, cause error) error {
	info, found, err := q.inProcess.GetForUpdate(tx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("retry %s: %w", id, ErrNotInProcess)
	}
	if err := q.inProcess.Delete(tx, id); err != nil {
		return err
	}

	next := info
	next.WorkItemQueueRunType = models.QueueRetry
	next.DueDateTime = q.now().Add(q.config.RetryDelay)
	next.Attempts++
	next.LastError = ""
	if cause != nil {
		next.LastError = truncate(cause.Error(), maxErrorLength)
	}
	if err := q.pending.Update(tx, queueKey(&next), next); err != nil {
		return err
	}

	kind := q.kindOf(tx, id)
	tx.OnCommit(func() {
		metrics.RecordEnqueue(kind, string(models.QueueRetry))
		logging.Warn().
			Str("work_item_id", id).
			Str("kind", kind).
			Int("attempt", next.Attempts).
			Time("due", next.DueDateTime).
			Str("error", next.LastError).
			Msg("Work item moved to retry queue")
	})
	return nil
}

func (q *Queue) kindOf(tx *store.Tx, id string) string {
	raw, found, err := q.items.GetTx(tx, id)
	if err != nil || !found {
		return "unknown"
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if json.Unmarshal(raw, &head) != nil || head.Kind == "" {
		return "unknown"
	}
	return head.Kind
}

// RecoverInProcess returns items left in process by a previous run to
// their queues, due immediately.
func (q *Queue) RecoverInProcess(ctx context.Context) (int, error) {
	orphans, err := q.inProcess.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list in-process items: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, o := range orphans {
		err := q.db.Update(ctx, func(tx *store.Tx) error {
			info, found, err := q.inProcess.GetForUpdate(tx, o.Key)
			if err != nil || !found {
				return err
			}
			if err := q.inProcess.Delete(tx, o.Key); err != nil {
				return err
			}
			if info.WorkItemQueueRunType == "" {
				info.WorkItemQueueRunType = models.QueueMain
			}
			info.DueDateTime = q.now()
			return q.pending.Update(tx, queueKey(&info), info)
		})
		if err != nil {
			return recovered, fmt.Errorf("recover %s: %w", o.Key, err)
		}
		recovered++
	}

	metrics.RecordRecovered(recovered)
	logging.Info().Int("recovered", recovered).Msg("Re-queued work items left in process")
	return recovered, nil
}

// Stats is a snapshot of queue sizes.
type Stats struct {
	Main      int       `json:"main"`
	Retry     int       `json:"retry"`
	InProcess int       `json:"in_process"`
	NextDue   time.Time `json:"next_due,omitempty"`
}

// Stats counts waiting and in-process items and refreshes the depth gauges.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := q.db.View(ctx, func(tx *store.Tx) error {
		if err := q.pending.ScanTx(ctx, tx, "", func(_ string, info models.WorkItemProcessInfo) (bool, error) {
			switch info.WorkItemQueueRunType {
			case models.QueueRetry:
				s.Retry++
			default:
				s.Main++
			}
			if s.NextDue.IsZero() || info.DueDateTime.Before(s.NextDue) {
				s.NextDue = info.DueDateTime
			}
			return true, nil
		}); err != nil {
			return err
		}
		return q.inProcess.ScanTx(ctx, tx, "", func(string, models.WorkItemProcessInfo) (bool, error) {
			s.InProcess++
			return true, nil
		})
	})
	if err != nil {
		return Stats{}, err
	}
	metrics.UpdateQueueDepth(map[string]int{
		string(models.QueueMain):  s.Main,
		string(models.QueueRetry): s.Retry,
		"in_process":              s.InProcess,
	})
	return s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
