// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package workitem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/policy"
	"github.com/tomtom215/fabricbrs/internal/store"
)

// Enqueuer persists work items. Both methods write through tx so the queue
// mutation commits together with the caller's other writes.
type Enqueuer interface {
	// AddWorkItem enqueues item into the primary queue.
	AddWorkItem(ctx context.Context, tx *store.Tx, item *WorkItem) error
	// Checkpoint rewrites the stored payload of an item that is in process.
	Checkpoint(ctx context.Context, tx *store.Tx, item *WorkItem) error
}

// Config tunes the workflows.
type Config struct {
	// BackupPollInterval is how often a running backup re-reads its status.
	BackupPollInterval time.Duration `koanf:"backup_poll_interval"`

	// RestorePollInterval is how often a running restore re-reads its
	// status and the data loss progress.
	RestorePollInterval time.Duration `koanf:"restore_poll_interval"`

	// RemoteCallTimeout bounds a single partition or fault call that is not
	// already bounded by a request deadline.
	RemoteCallTimeout time.Duration `koanf:"remote_call_timeout"`

	// ConflictRetries is how many times a guarded status update is retried
	// after losing an optimistic race.
	ConflictRetries int `koanf:"conflict_retries"`

	// MaxDataLossAttempts is how many data loss operations a restore starts
	// before it fails. Zero means no limit other than the request deadline.
	MaxDataLossAttempts int `koanf:"max_data_loss_attempts"`
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		BackupPollInterval:  30 * time.Second,
		RestorePollInterval: 10 * time.Second,
		RemoteCallTimeout:   60 * time.Second,
		ConflictRetries:     3,
		MaxDataLossAttempts: 5,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.BackupPollInterval <= 0 {
		return &ConfigError{Field: "BackupPollInterval", Message: "must be positive"}
	}
	if c.RestorePollInterval <= 0 {
		return &ConfigError{Field: "RestorePollInterval", Message: "must be positive"}
	}
	if c.RemoteCallTimeout <= 0 {
		return &ConfigError{Field: "RemoteCallTimeout", Message: "must be positive"}
	}
	if c.ConflictRetries < 0 {
		return &ConfigError{Field: "ConflictRetries", Message: "cannot be negative"}
	}
	if c.MaxDataLossAttempts < 0 {
		return &ConfigError{Field: "MaxDataLossAttempts", Message: "cannot be negative"}
	}
	return nil
}

// ConfigError represents a workflow configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "workitem config error: " + e.Field + ": " + e.Message
}

// Env is everything a workflow touches.
type Env struct {
	DB            *store.DB
	Resolver      *policy.Resolver
	BackupStatus  *store.Collection[models.BackupPartitionStatus]
	RestoreStatus *store.Collection[models.RestoreStatus]

	Partitions fabric.PartitionClient
	Faults     fabric.FaultClient
	Topology   fabric.TopologyClient
	Queue      Enqueuer

	Config Config

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewEnv wires an Env over db.
func NewEnv(db *store.DB, cfg Config, partitions fabric.PartitionClient, faults fabric.FaultClient, topology fabric.TopologyClient, queue Enqueuer) *Env {
	return &Env{
		DB:            db,
		Resolver:      policy.NewResolver(db),
		BackupStatus:  store.NewCollection[models.BackupPartitionStatus](db, store.BackupPartitionStatusStore),
		RestoreStatus: store.NewCollection[models.RestoreStatus](db, store.RestoreStatusStore),
		Partitions:    partitions,
		Faults:        faults,
		Topology:      topology,
		Queue:         queue,
		Config:        cfg,
		Now:           time.Now,
	}
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// remoteCtx bounds a remote call by RemoteCallTimeout unless ctx already
// has an earlier deadline.
func (e *Env) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Config.RemoteCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.Config.RemoteCallTimeout)
}

// GuardedUpdate reads key for update, applies fn and commits when fn
// reports a change. extra runs inside the same transaction after a change.
// A lost optimistic race re-reads and re-evaluates fn. It reports whether
// the change was committed.
func GuardedUpdate[V any](ctx context.Context, e *Env, c *store.Collection[V], key string, fn func(v *V, found bool) bool, extra func(tx *store.Tx) error) (bool, error) {
	for attempt := 0; ; attempt++ {
		applied := false
		err := e.DB.Update(ctx, func(tx *store.Tx) error {
			v, found, err := c.GetForUpdate(tx, key)
			if err != nil {
				return err
			}
			if !fn(&v, found) {
				return nil
			}
			if err := c.Update(tx, key, v); err != nil {
				return err
			}
			if extra != nil {
				if err := extra(tx); err != nil {
					return err
				}
			}
			applied = true
			return nil
		})
		if errors.Is(err, store.ErrConflict) && attempt < e.Config.ConflictRetries {
			metrics.RecordConflict(c.Name())
			continue
		}
		if err != nil {
			return false, fmt.Errorf("update %s %q: %w", c.Name(), key, err)
		}
		if !applied {
			metrics.RecordStaleTransition(c.Name())
		}
		return applied, nil
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// deadlineFired reports whether bounded ended because its own deadline
// passed while parent is still live.
func deadlineFired(parent, bounded context.Context) bool {
	return parent.Err() == nil && errors.Is(bounded.Err(), context.DeadlineExceeded)
}
