// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package workitem

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/store"
)

func processRestore(ctx context.Context, e *Env, w *WorkItem) (bool, error) {
	r := w.RestorePartition
	deadline := r.RequestTime.Add(r.Timeout)

	if !e.now().Before(deadline) {
		return true, e.timeoutRestore(ctx, w)
	}

	rctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := e.runRestore(rctx, w)
	switch {
	case err == nil:
		return true, nil
	case deadlineFired(ctx, rctx):
		return true, e.timeoutRestore(ctx, w)
	default:
		return false, err
	}
}

// runRestore loops until the restore status leaves the active states for
// this request. Each pass first looks at the status, then advances the
// data loss phase.
func (e *Env) runRestore(ctx context.Context, w *WorkItem) error {
	r := w.RestorePartition
	key := models.PartitionKey(r.ServiceURI, r.PartitionID)
	log := logging.Ctx(ctx)

	for {
		st, found, err := e.RestoreStatus.Get(ctx, key)
		if err != nil {
			return err
		}
		switch {
		case !found:
			log.Warn().Str("key", key).Msg("Restore status missing, nothing to do")
			metrics.RecordVacuous(string(KindRestorePartition), "status_missing")
			return nil
		case st.RestoreRequestGUID != r.RestoreRequestGUID:
			log.Info().Str("key", key).Str("current_request", st.RestoreRequestGUID).Msg("Restore request superseded")
			metrics.RecordVacuous(string(KindRestorePartition), "superseded")
			return nil
		case st.State == models.RestoreTimeout:
			e.cancelDataLoss(ctx, r)
			return nil
		case st.State.IsTerminal():
			return nil
		}

		switch r.Phase {
		case PhaseTriggerDataLoss:
			if err := e.triggerDataLoss(ctx, w); err != nil {
				return err
			}
			if r.Phase != PhaseDataLossTriggered {
				return nil
			}
			continue
		case PhaseDataLossTriggered:
			progress, err := e.dataLossProgress(ctx, r)
			if err != nil {
				return err
			}
			if progress == nil || progress.State.Aborted() {
				state := fabric.DataLossState("unknown")
				if progress != nil {
					state = progress.State
				}
				if limit := e.Config.MaxDataLossAttempts; limit > 0 && r.DataLossAttempts >= limit {
					return e.failRestore(ctx, w, state)
				}
				log.Warn().
					Str("key", key).
					Str("data_loss_id", r.DataLossGUID).
					Str("state", string(state)).
					Int("attempt", r.DataLossAttempts).
					Msg("Data loss did not take effect, triggering again")
				if err := sleep(ctx, e.Config.RestorePollInterval); err != nil {
					return err
				}
				if err := e.rearmDataLoss(ctx, w); err != nil {
					return err
				}
				continue
			}
		default:
			return fmt.Errorf("%w: restore phase %q", ErrPermanent, r.Phase)
		}

		if err := sleep(ctx, e.Config.RestorePollInterval); err != nil {
			return err
		}
	}
}

// triggerDataLoss starts the data loss operation named by the item unless
// it already exists, then records it on the status and checkpoints the
// item as DataLossTriggered in one transaction.
func (e *Env) triggerDataLoss(ctx context.Context, w *WorkItem) error {
	r := w.RestorePartition
	if r.DataLossGUID == "" {
		if err := e.rearmDataLoss(ctx, w); err != nil {
			return err
		}
	}

	progress, err := e.dataLossProgress(ctx, r)
	if err != nil {
		return err
	}
	if progress == nil {
		err := e.Faults.InitiatePartitionDataLoss(ctx, r.DataLossGUID, r.ServiceURI, r.PartitionID, r.DataLossMode)
		if err != nil && !errors.Is(err, fabric.ErrDataLossExists) {
			return fmt.Errorf("initiate data loss %s: %w", r.DataLossGUID, err)
		}
		metrics.RecordDataLossTrigger(r.DataLossAttempts > 1)
	}

	key := models.PartitionKey(r.ServiceURI, r.PartitionID)
	next := *w
	nextRestore := *r
	nextRestore.Phase = PhaseDataLossTriggered
	next.RestorePartition = &nextRestore

	applied, err := GuardedUpdate(ctx, e, e.RestoreStatus, key, func(s *models.RestoreStatus, found bool) bool {
		if !found || !s.SetDataLoss(r.RestoreRequestGUID, r.DataLossGUID, e.now()) {
			return false
		}
		s.ToInProgress(r.RestoreRequestGUID, e.now())
		return true
	}, func(tx *store.Tx) error {
		return e.Queue.Checkpoint(ctx, tx, &next)
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	metrics.RecordTransition(store.RestoreStatusStore, string(models.RestoreInProgress))
	r.Phase = PhaseDataLossTriggered

	logging.Ctx(ctx).Info().
		Str("key", key).
		Str("data_loss_id", r.DataLossGUID).
		Int("attempt", r.DataLossAttempts).
		Msg("Data loss triggered")
	return nil
}

// rearmDataLoss mints a fresh data loss id and checkpoints the item back in
// TriggerDataLoss, so a crash before the operation starts reuses that id.
func (e *Env) rearmDataLoss(ctx context.Context, w *WorkItem) error {
	r := w.RestorePartition
	next := *w
	nextRestore := *r
	nextRestore.DataLossGUID = uuid.NewString()
	nextRestore.DataLossAttempts++
	nextRestore.Phase = PhaseTriggerDataLoss
	next.RestorePartition = &nextRestore

	if err := e.DB.Update(ctx, func(tx *store.Tx) error {
		return e.Queue.Checkpoint(ctx, tx, &next)
	}); err != nil {
		return fmt.Errorf("checkpoint restore %s: %w", w.ID, err)
	}
	*r = nextRestore
	return nil
}

// dataLossProgress returns nil when the operation is unknown to the
// fault service.
func (e *Env) dataLossProgress(ctx context.Context, r *RestorePartition) (*fabric.DataLossProgress, error) {
	progress, err := e.Faults.GetPartitionDataLossProgress(ctx, r.DataLossGUID, r.ServiceURI, r.PartitionID)
	if errors.Is(err, fabric.ErrDataLossNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("data loss progress %s: %w", r.DataLossGUID, err)
	}
	return progress, nil
}

// failRestore ends a restore whose data loss kept aborting. Like a timeout
// it re-asserts protection on the partition in the same transaction.
func (e *Env) failRestore(ctx context.Context, w *WorkItem, last fabric.DataLossState) error {
	r := w.RestorePartition
	key := models.PartitionKey(r.ServiceURI, r.PartitionID)

	follow := NewSendToServiceNode(r.ServiceURI, r.PartitionID, models.WorkItemInfo{
		WorkItemType: models.WorkItemUpdatePolicyAfterRestore,
	})
	moved, err := GuardedUpdate(ctx, e, e.RestoreStatus, key, func(s *models.RestoreStatus, found bool) bool {
		return found && s.ToFailure(r.RestoreRequestGUID, models.ErrCodeDataLossFailed, models.MessageDataLossFailed, e.now())
	}, func(tx *store.Tx) error {
		return e.Queue.AddWorkItem(ctx, tx, follow)
	})
	if err != nil {
		return err
	}
	if moved {
		metrics.RecordTransition(store.RestoreStatusStore, string(models.RestoreFailure))
		logging.Ctx(ctx).Error().
			Str("key", key).
			Str("request_id", r.RestoreRequestGUID).
			Int("attempts", r.DataLossAttempts).
			Str("last_state", string(last)).
			Msg("Restore failed, data loss kept aborting")
	}
	return nil
}

// timeoutRestore moves the request to Timeout and, in the same transaction,
// enqueues the item that re-asserts protection on the partition. A data
// loss operation still running is then cancelled.
func (e *Env) timeoutRestore(ctx context.Context, w *WorkItem) error {
	r := w.RestorePartition
	key := models.PartitionKey(r.ServiceURI, r.PartitionID)

	follow := NewSendToServiceNode(r.ServiceURI, r.PartitionID, models.WorkItemInfo{
		WorkItemType: models.WorkItemUpdatePolicyAfterRestore,
	})
	moved, err := GuardedUpdate(ctx, e, e.RestoreStatus, key, func(s *models.RestoreStatus, found bool) bool {
		return found && s.ToTimeout(r.RestoreRequestGUID, e.now())
	}, func(tx *store.Tx) error {
		return e.Queue.AddWorkItem(ctx, tx, follow)
	})
	if err != nil {
		return err
	}
	if moved {
		metrics.RecordTransition(store.RestoreStatusStore, string(models.RestoreTimeout))
		logging.Ctx(ctx).Warn().Str("key", key).Str("request_id", r.RestoreRequestGUID).Msg("Restore timed out")
	}

	st, found, err := e.RestoreStatus.Get(ctx, key)
	if err != nil {
		return err
	}
	if found && st.IsTimedOutFor(r.RestoreRequestGUID) {
		e.cancelDataLoss(ctx, r)
	}
	return nil
}

// cancelDataLoss cancels the item's data loss operation if it is still
// running. Failures are logged; the fault service times the operation out
// on its own.
func (e *Env) cancelDataLoss(ctx context.Context, r *RestorePartition) {
	if r.DataLossGUID == "" {
		return
	}
	log := logging.Ctx(ctx)

	cctx, cancel := e.remoteCtx(ctx)
	defer cancel()

	progress, err := e.dataLossProgress(cctx, r)
	if err != nil {
		log.Warn().Err(err).Str("data_loss_id", r.DataLossGUID).Msg("Could not read data loss progress")
		return
	}
	if progress == nil || !progress.State.InFlight() {
		return
	}
	if err := e.Faults.CancelPartitionDataLoss(cctx, r.DataLossGUID, false); err != nil && !errors.Is(err, fabric.ErrDataLossNotFound) {
		log.Warn().Err(err).Str("data_loss_id", r.DataLossGUID).Msg("Could not cancel data loss")
		return
	}
	metrics.RecordDataLossCancel()
	log.Info().Str("data_loss_id", r.DataLossGUID).Msg("Cancelled data loss of timed out restore")
}
