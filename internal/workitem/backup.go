// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package workitem

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/store"
)

// errStorageMissing means neither the request nor an effective policy names
// a backup destination.
var errStorageMissing = errors.New("no backup storage configured")

func processBackup(ctx context.Context, e *Env, w *WorkItem) (bool, error) {
	b := w.BackupPartition
	key := models.PartitionKey(b.ServiceURI, b.PartitionID)
	deadline := b.RequestTime.Add(b.Timeout)

	if !e.now().Before(deadline) {
		return true, e.timeoutBackup(ctx, key, b.OperationID)
	}

	bctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := e.runBackup(bctx, key, b)
	switch {
	case err == nil:
		return true, nil
	case deadlineFired(ctx, bctx):
		return true, e.timeoutBackup(ctx, key, b.OperationID)
	case errors.Is(err, errStorageMissing):
		return true, e.failBackup(ctx, key, b.OperationID, models.ErrCodeBackupStorageMissing, models.MessageBackupStorageMissing)
	case errors.Is(err, storage.ErrUnsupportedKind):
		if ferr := e.failBackup(ctx, key, b.OperationID, models.ErrCodeBackupStorageMissing, err.Error()); ferr != nil {
			return false, ferr
		}
		return false, fmt.Errorf("%w: %w", ErrPermanent, err)
	default:
		return false, err
	}
}

func (e *Env) runBackup(ctx context.Context, key string, b *BackupPartition) error {
	st, found, err := e.BackupStatus.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found || !st.IsActiveFor(b.OperationID) {
		logging.Ctx(ctx).Warn().
			Str("key", key).
			Str("operation_id", b.OperationID).
			Bool("status_found", found).
			Msg("Backup request superseded or already finished, nothing to do")
		metrics.RecordVacuous(string(KindBackupPartition), "superseded")
		return nil
	}

	cfg, err := e.backupConfiguration(ctx, b)
	if err != nil {
		return err
	}

	if st.State == models.BackupAccepted {
		if err := e.Partitions.BackupPartition(ctx, b.ServiceURI, b.PartitionID, b.OperationID, cfg); err != nil {
			return fmt.Errorf("backup partition %s: %w", key, err)
		}

		moved, err := GuardedUpdate(ctx, e, e.BackupStatus, key, func(s *models.BackupPartitionStatus, found bool) bool {
			return found && s.ToInProgress(b.OperationID, e.now())
		}, nil)
		if err != nil {
			return err
		}
		if moved {
			metrics.RecordTransition(store.BackupPartitionStatusStore, string(models.BackupInProgress))
			logging.Ctx(ctx).Info().Str("key", key).Str("operation_id", b.OperationID).Msg("Backup in progress")
		}
	}

	for {
		st, found, err := e.BackupStatus.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found || !st.IsActiveFor(b.OperationID) {
			return nil
		}
		if err := sleep(ctx, e.Config.BackupPollInterval); err != nil {
			return err
		}
	}
}

// backupConfiguration picks the request's destination or, failing that,
// the destination of the partition's effective policy.
func (e *Env) backupConfiguration(ctx context.Context, b *BackupPartition) (*fabric.BackupConfiguration, error) {
	desc := b.Storage
	if desc == nil {
		_, pol, err := e.Resolver.EffectiveMappingAndPolicy(ctx, b.ServiceURI, b.PartitionID)
		if err != nil {
			return nil, err
		}
		if pol == nil {
			return nil, errStorageMissing
		}
		desc = &pol.Storage
	}

	wire, err := storage.ToWire(desc)
	if err != nil {
		return nil, err
	}
	remaining := b.RequestTime.Add(b.Timeout).Sub(e.now())
	return &fabric.BackupConfiguration{Storage: &wire, Timeout: remaining}, nil
}

func (e *Env) timeoutBackup(ctx context.Context, key, operationID string) error {
	moved, err := GuardedUpdate(ctx, e, e.BackupStatus, key, func(s *models.BackupPartitionStatus, found bool) bool {
		return found && s.ToTimeout(operationID, e.now())
	}, nil)
	if err != nil {
		return err
	}
	if moved {
		metrics.RecordTransition(store.BackupPartitionStatusStore, string(models.BackupTimeout))
		logging.Ctx(ctx).Warn().Str("key", key).Str("operation_id", operationID).Msg("Backup timed out")
	}
	return nil
}

func (e *Env) failBackup(ctx context.Context, key, operationID string, code int64, message string) error {
	moved, err := GuardedUpdate(ctx, e, e.BackupStatus, key, func(s *models.BackupPartitionStatus, found bool) bool {
		return found && s.ToFailure(operationID, code, message, e.now())
	}, nil)
	if err != nil {
		return err
	}
	if moved {
		metrics.RecordTransition(store.BackupPartitionStatusStore, string(models.BackupFailure))
		logging.Ctx(ctx).Error().Str("key", key).Str("operation_id", operationID).Str("reason", message).Msg("Backup failed")
	}
	return nil
}
