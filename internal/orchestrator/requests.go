// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/store"
	"github.com/tomtom215/fabricbrs/internal/validation"
	"github.com/tomtom215/fabricbrs/internal/workitem"
)

// BackupRequest is an on-demand backup of one partition.
type BackupRequest struct {
	// Timeout bounds the whole backup. Zero means DefaultBackupTimeout.
	Timeout time.Duration

	// Storage overrides the destination of the effective policy.
	Storage *storage.Descriptor
}

// RestoreRequest is an on-demand restore of one partition.
type RestoreRequest struct {
	BackupID       string `validate:"required,uuid"`
	BackupLocation string `validate:"required"`

	// Timeout bounds the whole restore. Zero means DefaultRestoreTimeout.
	Timeout time.Duration

	// DataLossMode defaults to PartialDataLoss.
	DataLossMode fabric.DataLossMode `validate:"omitempty,oneof=PartialDataLoss FullDataLoss"`
}

// RequestBackup records an Accepted backup for the partition and enqueues
// the work item that drives it. A request supersedes any earlier one for
// the same partition. It returns the operation id.
func (o *Orchestrator) RequestBackup(ctx context.Context, serviceURI, partitionID string, req BackupRequest) (string, error) {
	fk, err := parsePartition(serviceURI, partitionID)
	if err != nil {
		return "", err
	}
	if req.Timeout < 0 {
		return "", fmt.Errorf("%w: negative backup timeout", ErrInvalidArgument)
	}
	if req.Timeout == 0 {
		req.Timeout = o.config.DefaultBackupTimeout
	}
	if req.Storage != nil {
		if err := o.checkDestination(ctx, req.Storage); err != nil {
			return "", err
		}
	}

	key := fk.String()
	operationID := uuid.NewString()
	requested := o.now()
	item := workitem.NewBackupPartition(serviceURI, fk.PartitionID, operationID, requested, req.Timeout)
	item.BackupPartition.Storage = req.Storage

	var superseded string
	err = o.update(ctx, store.BackupPartitionStatusStore, func(tx *store.Tx) error {
		prev, found, err := o.env.BackupStatus.GetForUpdate(tx, key)
		if err != nil {
			return err
		}
		superseded = ""
		if found && !prev.State.IsTerminal() {
			superseded = prev.OperationID
		}
		if err := o.env.BackupStatus.Update(tx, key, *models.NewBackupStatus(operationID, requested)); err != nil {
			return err
		}
		return o.Enqueue(ctx, tx, item)
	})
	if err != nil {
		return "", err
	}

	metrics.RecordTransition(store.BackupPartitionStatusStore, string(models.BackupAccepted))
	event := logging.Ctx(ctx).Info().
		Str("key", key).
		Str("operation_id", operationID).
		Dur("timeout", req.Timeout).
		Bool("storage_override", req.Storage != nil)
	if superseded != "" {
		event = event.Str("superseded_operation_id", superseded)
	}
	event.Msg("Backup accepted")
	return operationID, nil
}

// RequestRestore records an Accepted restore for the partition and enqueues
// the work item that drives it. It returns the restore request id.
func (o *Orchestrator) RequestRestore(ctx context.Context, serviceURI, partitionID string, req RestoreRequest) (string, error) {
	fk, err := parsePartition(serviceURI, partitionID)
	if err != nil {
		return "", err
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidArgument, verr)
	}
	if req.Timeout < 0 {
		return "", fmt.Errorf("%w: negative restore timeout", ErrInvalidArgument)
	}
	if req.Timeout == 0 {
		req.Timeout = o.config.DefaultRestoreTimeout
	}
	if req.DataLossMode == "" {
		req.DataLossMode = fabric.DataLossPartial
	}

	key := fk.String()
	requestID := uuid.NewString()
	requested := o.now()
	item := workitem.NewRestorePartition(serviceURI, fk.PartitionID, requestID, requested, req.Timeout, req.DataLossMode)

	err = o.update(ctx, store.RestoreStatusStore, func(tx *store.Tx) error {
		if _, _, err := o.env.RestoreStatus.GetForUpdate(tx, key); err != nil {
			return err
		}
		status := models.NewRestoreStatus(requestID, req.BackupID, req.BackupLocation, requested)
		if err := o.env.RestoreStatus.Update(tx, key, *status); err != nil {
			return err
		}
		return o.Enqueue(ctx, tx, item)
	})
	if err != nil {
		return "", err
	}

	metrics.RecordTransition(store.RestoreStatusStore, string(models.RestoreAccepted))
	logging.Ctx(ctx).Info().
		Str("key", key).
		Str("restore_request_id", requestID).
		Str("backup_id", req.BackupID).
		Str("data_loss_mode", string(req.DataLossMode)).
		Dur("timeout", req.Timeout).
		Msg("Restore accepted")
	return requestID, nil
}

// ReportBackupResult applies the outcome a partition reports for a backup.
// It reports false when the result belongs to a superseded or finished
// request and was ignored.
func (o *Orchestrator) ReportBackupResult(ctx context.Context, serviceURI, partitionID string, result *models.BackupResult) (bool, error) {
	fk, err := parsePartition(serviceURI, partitionID)
	if err != nil {
		return false, err
	}
	if result == nil {
		return false, fmt.Errorf("%w: result is required", ErrInvalidArgument)
	}
	if verr := validation.ValidateStruct(result); verr != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidArgument, verr)
	}

	now := o.now()
	var state models.BackupState
	applied, err := workitem.GuardedUpdate(ctx, o.env, o.env.BackupStatus, fk.String(), func(s *models.BackupPartitionStatus, found bool) bool {
		if !found || !s.ToResult(result, now) {
			return false
		}
		state = s.State
		return true
	}, nil)
	if err != nil || !applied {
		return false, err
	}

	metrics.RecordTransition(store.BackupPartitionStatusStore, string(state))
	logging.Ctx(ctx).Info().
		Str("key", fk.String()).
		Str("operation_id", result.OperationID).
		Str("state", string(state)).
		Int64("error_code", result.ErrorCode).
		Msg("Backup result recorded")
	return true, nil
}

// ReportRestoreProgress records that the partition started restoring.
func (o *Orchestrator) ReportRestoreProgress(ctx context.Context, serviceURI, partitionID, requestID string) (bool, error) {
	fk, err := parsePartition(serviceURI, partitionID)
	if err != nil {
		return false, err
	}
	if requestID == "" {
		return false, fmt.Errorf("%w: restore request id is required", ErrInvalidArgument)
	}

	now := o.now()
	applied, err := workitem.GuardedUpdate(ctx, o.env, o.env.RestoreStatus, fk.String(), func(s *models.RestoreStatus, found bool) bool {
		return found && s.ToInProgress(requestID, now)
	}, nil)
	if err != nil || !applied {
		return false, err
	}
	metrics.RecordTransition(store.RestoreStatusStore, string(models.RestoreInProgress))
	return true, nil
}

// ReportRestoreResult applies the outcome a partition reports for a restore
// and, in the same transaction, enqueues the propagation that re-asserts the
// partition's backup protection.
func (o *Orchestrator) ReportRestoreResult(ctx context.Context, serviceURI, partitionID string, result *models.RestoreResult) (bool, error) {
	fk, err := parsePartition(serviceURI, partitionID)
	if err != nil {
		return false, err
	}
	if result == nil {
		return false, fmt.Errorf("%w: result is required", ErrInvalidArgument)
	}
	if verr := validation.ValidateStruct(result); verr != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidArgument, verr)
	}

	now := o.now()
	var state models.RestoreState
	followUp := workitem.NewSendToServiceNode(serviceURI, fk.PartitionID, models.WorkItemInfo{
		WorkItemType: models.WorkItemUpdatePolicyAfterRestore,
	})
	applied, err := workitem.GuardedUpdate(ctx, o.env, o.env.RestoreStatus, fk.String(), func(s *models.RestoreStatus, found bool) bool {
		if !found || !s.ToResult(result, now) {
			return false
		}
		state = s.State
		return true
	}, func(tx *store.Tx) error {
		return o.Enqueue(ctx, tx, followUp)
	})
	if err != nil || !applied {
		return false, err
	}

	metrics.RecordTransition(store.RestoreStatusStore, string(state))
	logging.Ctx(ctx).Info().
		Str("key", fk.String()).
		Str("restore_request_id", result.RestoreRequestGUID).
		Str("state", string(state)).
		Int64("error_code", result.ErrorCode).
		Msg("Restore result recorded")
	return true, nil
}
