// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package orchestrator is the entry point for everything that changes backup
state: policy administration, protection changes, on-demand backup and
restore requests, and the results partitions report back.

Every operation is one store transaction that writes the durable change and
enqueues the work item that carries it to the affected partitions. Either
both happen or neither does. Callers never talk to partitions directly;
the queue dispatchers do that.

Contract violations (malformed keys, invalid policies, unknown modes) are
rejected before anything is written and wrap ErrInvalidArgument.
*/
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/store"
	"github.com/tomtom215/fabricbrs/internal/workitem"
)

var (
	// ErrInvalidArgument wraps every contract violation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPolicyExists is returned when creating a policy whose name is taken.
	ErrPolicyExists = errors.New("backup policy already exists")

	// ErrPolicyNotFound is returned when a named policy does not exist.
	ErrPolicyNotFound = errors.New("backup policy not found")

	// ErrPolicyInUse is returned when deleting a policy that is still mapped.
	ErrPolicyInUse = errors.New("backup policy is in use")

	// ErrProtectionNotEnabled is returned when no mapping applies to a key.
	ErrProtectionNotEnabled = errors.New("backup protection is not enabled")

	// ErrAlreadySuspended is returned when suspending a suspended key.
	ErrAlreadySuspended = errors.New("backup protection is already suspended")

	// ErrNotSuspended is returned when resuming a key that is not suspended.
	ErrNotSuspended = errors.New("backup protection is not suspended")

	// ErrStatusNotFound is returned when no backup or restore was ever
	// requested for a key.
	ErrStatusNotFound = errors.New("no status recorded")
)

// Config controls request defaults.
type Config struct {
	// DefaultBackupTimeout applies when a backup request carries none.
	DefaultBackupTimeout time.Duration `koanf:"default_backup_timeout"`

	// DefaultRestoreTimeout applies when a restore request carries none.
	DefaultRestoreTimeout time.Duration `koanf:"default_restore_timeout"`

	// CheckStorage checks that a destination is reachable before a policy
	// or backup request naming it is accepted.
	CheckStorage bool `koanf:"check_storage"`
}

// DefaultConfig returns the request defaults.
func DefaultConfig() Config {
	return Config{
		DefaultBackupTimeout:  10 * time.Minute,
		DefaultRestoreTimeout: 10 * time.Minute,
		CheckStorage:          false,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DefaultBackupTimeout <= 0 {
		return &ConfigError{Field: "DefaultBackupTimeout", Message: "must be positive"}
	}
	if c.DefaultRestoreTimeout <= 0 {
		return &ConfigError{Field: "DefaultRestoreTimeout", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents an orchestrator configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "orchestrator config error: " + e.Field + ": " + e.Message
}

// RetentionScheduler keeps retention timers in step with policy changes.
type RetentionScheduler interface {
	Arm(ctx context.Context, p *models.BackupPolicy) error
	Disarm(ctx context.Context, name string) error
}

// Orchestrator applies administrative operations and partition reports.
type Orchestrator struct {
	env       *workitem.Env
	config    Config
	checker   storage.Checker
	retention RetentionScheduler

	policies  *store.Collection[models.BackupPolicy]
	mappings  *store.Collection[models.BackupMapping]
	suspended *store.Collection[models.SuspendStatus]
}

// New builds an orchestrator over the stores and queue of env. checker may be
// nil, in which case destinations are never checked.
func New(env *workitem.Env, cfg Config, checker storage.Checker) *Orchestrator {
	return &Orchestrator{
		env:       env,
		config:    cfg,
		checker:   checker,
		policies:  env.Resolver.Policies,
		mappings:  env.Resolver.Mappings,
		suspended: env.Resolver.Suspended,
	}
}

// WithRetention makes policy changes arm and disarm retention on r.
func (o *Orchestrator) WithRetention(r RetentionScheduler) *Orchestrator {
	o.retention = r
	return o
}

func (o *Orchestrator) now() time.Time {
	if o.env.Now == nil {
		return time.Now().UTC()
	}
	return o.env.Now().UTC()
}

// Enqueue adds item to the primary queue. With a non-nil tx the enqueue
// commits or aborts with the caller's other writes.
func (o *Orchestrator) Enqueue(ctx context.Context, tx *store.Tx, item *workitem.WorkItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return o.env.Queue.AddWorkItem(ctx, tx, item)
}

// update runs fn in a fresh transaction, re-running it when it loses an
// optimistic race.
func (o *Orchestrator) update(ctx context.Context, op string, fn func(tx *store.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := o.env.DB.Update(ctx, fn)
		if errors.Is(err, store.ErrConflict) && attempt < o.env.Config.ConflictRetries {
			metrics.RecordConflict(op)
			continue
		}
		return err
	}
}

// parseKey validates key as a fabric key of any level.
func parseKey(key string) (models.FabricKey, error) {
	fk, err := models.ParseFabricKey(key)
	if err != nil {
		return fk, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return fk, nil
}

// parsePartition validates serviceURI and partitionID as a partition.
func parsePartition(serviceURI, partitionID string) (models.FabricKey, error) {
	fk, err := parseKey(models.PartitionKey(serviceURI, partitionID))
	if err != nil {
		return fk, err
	}
	if fk.Level != models.LevelPartition || fk.Service != serviceURI {
		return fk, fmt.Errorf("%w: %q is not a service name", ErrInvalidArgument, serviceURI)
	}
	return fk, nil
}

// checkDestination validates d and, when configured, checks it.
func (o *Orchestrator) checkDestination(ctx context.Context, d *storage.Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if !o.config.CheckStorage || o.checker == nil {
		return nil
	}
	if err := o.checker.Check(ctx, d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

// enablement enqueues one UpdateEnablement item fanning info out to keys.
func (o *Orchestrator) enablement(ctx context.Context, tx *store.Tx, keys []string, info models.WorkItemInfo) error {
	if len(keys) == 0 {
		return nil
	}
	item := workitem.NewUpdateEnablement(keys, info)
	if err := o.Enqueue(ctx, tx, item); err != nil {
		return err
	}
	tx.OnCommit(func() {
		logging.Ctx(ctx).Debug().
			Strs("keys", keys).
			Str("work_item_type", string(info.WorkItemType)).
			Str("work_item_id", item.ID).
			Msg("Enablement change enqueued")
	})
	return nil
}
