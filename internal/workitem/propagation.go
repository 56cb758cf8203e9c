// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package workitem

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/policy"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/store"
)

// Propagation actions, used as metric labels.
const (
	actionEnable  = "enable"
	actionDisable = "disable"
	actionNone    = "none"
)

func processSendToServiceNode(ctx context.Context, e *Env, w *WorkItem) (bool, error) {
	s := w.SendToServiceNode
	key := models.PartitionKey(s.ServiceURI, s.PartitionID)

	err := e.deliver(ctx, s)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrUnsupportedKind) || errors.Is(err, models.ErrInvalidSchedule) {
		return false, fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	if !errors.Is(err, fabric.ErrServiceOffline) && !errors.Is(err, fabric.ErrPartitionNotFound) {
		return false, err
	}

	vctx, cancel := e.remoteCtx(ctx)
	defer cancel()
	verr := e.Topology.ValidatePartition(vctx, s.ServiceURI, s.PartitionID)
	if fabric.IsNotFound(verr) {
		logging.Ctx(ctx).Warn().
			Str("key", key).
			Str("work_item_type", string(s.Info.WorkItemType)).
			Msg("Partition no longer exists, dropping propagation")
		metrics.RecordVacuous(string(KindSendToServiceNode), "partition_gone")
		return true, nil
	}
	if verr != nil {
		logging.Ctx(ctx).Debug().Err(verr).Str("key", key).Msg("Partition validation failed")
	}
	return false, err
}

// deliver decides, from the current mapping, policy and suspension state,
// what the partition should be told and tells it.
func (e *Env) deliver(ctx context.Context, s *SendToServiceNode) error {
	info := s.Info
	mapping, pol, err := e.Resolver.EffectiveMappingAndPolicy(ctx, s.ServiceURI, s.PartitionID)
	if err != nil {
		return err
	}
	suspended, err := e.Resolver.IsPartitionBackupSuspended(ctx, s.ServiceURI, s.PartitionID)
	if err != nil {
		return err
	}
	resolved := mapping != nil && pol != nil

	switch info.WorkItemType {
	case models.WorkItemDisable:
		switch {
		case !resolved:
			return e.disable(ctx, s)
		case !suspended:
			return e.enable(ctx, s, pol)
		}
	case models.WorkItemEnable, models.WorkItemUpdateProtection:
		if !resolved {
			return e.skip(ctx, s, "no_policy")
		}
		if mapping.ProtectionID != info.ProtectionGUID || pol.UniqueID != info.BackupPolicyUpdateGUID {
			return e.stale(ctx, s, mapping.ProtectionID, pol.UniqueID)
		}
		if !suspended {
			return e.enable(ctx, s, pol)
		}
	case models.WorkItemUpdateBackupPolicy:
		if pol == nil {
			return e.skip(ctx, s, "no_policy")
		}
		if pol.UniqueID != info.BackupPolicyUpdateGUID {
			return e.stale(ctx, s, "", pol.UniqueID)
		}
		if !suspended {
			return e.enable(ctx, s, pol)
		}
	case models.WorkItemSuspendPartition:
		if suspended {
			return e.disable(ctx, s)
		}
	case models.WorkItemResumePartition, models.WorkItemUpdatePolicyAfterRestore:
		if !suspended && resolved {
			return e.enable(ctx, s, pol)
		}
	default:
		return fmt.Errorf("%w: unknown work item type %q", ErrPermanent, info.WorkItemType)
	}

	metrics.RecordPropagation(string(info.WorkItemType), actionNone)
	return nil
}

func (e *Env) enable(ctx context.Context, s *SendToServiceNode, pol *models.BackupPolicy) error {
	wire, err := policy.ToProtectionPolicy(pol)
	if err != nil {
		return err
	}
	cctx, cancel := e.remoteCtx(ctx)
	defer cancel()
	if err := e.Partitions.EnableProtection(cctx, s.ServiceURI, s.PartitionID, wire); err != nil {
		return fmt.Errorf("enable protection on %s/%s: %w", s.ServiceURI, s.PartitionID, err)
	}
	metrics.RecordPropagation(string(s.Info.WorkItemType), actionEnable)
	logging.Ctx(ctx).Info().
		Str("service", s.ServiceURI).
		Str("partition_id", s.PartitionID).
		Str("policy", pol.Name).
		Str("work_item_type", string(s.Info.WorkItemType)).
		Msg("Protection enabled")
	return nil
}

func (e *Env) disable(ctx context.Context, s *SendToServiceNode) error {
	cctx, cancel := e.remoteCtx(ctx)
	defer cancel()
	if err := e.Partitions.DisableProtection(cctx, s.ServiceURI, s.PartitionID); err != nil {
		return fmt.Errorf("disable protection on %s/%s: %w", s.ServiceURI, s.PartitionID, err)
	}
	metrics.RecordPropagation(string(s.Info.WorkItemType), actionDisable)
	logging.Ctx(ctx).Info().
		Str("service", s.ServiceURI).
		Str("partition_id", s.PartitionID).
		Str("work_item_type", string(s.Info.WorkItemType)).
		Msg("Protection disabled")
	return nil
}

func (e *Env) skip(ctx context.Context, s *SendToServiceNode, reason string) error {
	logging.Ctx(ctx).Debug().
		Str("service", s.ServiceURI).
		Str("partition_id", s.PartitionID).
		Str("work_item_type", string(s.Info.WorkItemType)).
		Str("reason", reason).
		Msg("Nothing to propagate")
	metrics.RecordVacuous(string(KindSendToServiceNode), reason)
	return nil
}

func (e *Env) stale(ctx context.Context, s *SendToServiceNode, currentProtection, currentPolicy string) error {
	logging.Ctx(ctx).Info().
		Str("service", s.ServiceURI).
		Str("partition_id", s.PartitionID).
		Str("work_item_type", string(s.Info.WorkItemType)).
		Str("protection_guid", s.Info.ProtectionGUID).
		Str("current_protection_guid", currentProtection).
		Str("policy_guid", s.Info.BackupPolicyUpdateGUID).
		Str("current_policy_guid", currentPolicy).
		Msg("Discarding stale propagation")
	metrics.RecordStalePropagation(string(s.Info.WorkItemType))
	return nil
}

func processResolveToPartition(ctx context.Context, e *Env, w *WorkItem) (bool, error) {
	r := w.ResolveToPartition
	fk, err := models.ParseFabricKey(r.ApplicationOrServiceURI)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	log := logging.Ctx(ctx)

	services, err := e.Topology.GetServiceList(ctx, fk.Application)
	if fabric.IsNotFound(err) {
		log.Warn().Str("key", fk.String()).Msg("Application no longer exists, dropping propagation")
		metrics.RecordVacuous(string(KindResolveToPartition), "application_gone")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("list services of %s: %w", fk.Application, err)
	}

	var children []*WorkItem
	matched := false
	for _, svc := range services {
		if fk.Level == models.LevelService && svc.Name != fk.Service {
			continue
		}
		matched = true
		if !svc.IsBackupCandidate() {
			log.Debug().Str("service", svc.Name).Str("kind", svc.Kind).Msg("Skipping service without persisted state")
			continue
		}
		partitions, err := e.Topology.GetPartitionList(ctx, svc.Name)
		if fabric.IsNotFound(err) {
			log.Warn().Str("service", svc.Name).Msg("Service disappeared while resolving partitions")
			continue
		}
		if err != nil {
			return false, fmt.Errorf("list partitions of %s: %w", svc.Name, err)
		}
		for _, p := range partitions {
			children = append(children, NewSendToServiceNode(svc.Name, p.ID, r.Info))
		}
	}

	if !matched {
		log.Warn().Str("key", fk.String()).Msg("Service no longer exists, dropping propagation")
		metrics.RecordVacuous(string(KindResolveToPartition), "service_gone")
		return true, nil
	}

	if err := e.enqueueAll(ctx, children); err != nil {
		return false, err
	}
	log.Info().
		Str("key", fk.String()).
		Int("partitions", len(children)).
		Str("work_item_type", string(r.Info.WorkItemType)).
		Msg("Resolved propagation to partitions")
	return true, nil
}

func processUpdateEnablement(ctx context.Context, e *Env, w *WorkItem) (bool, error) {
	u := w.UpdateEnablement

	var (
		children []*WorkItem
		result   *multierror.Error
	)
	for _, key := range u.Keys {
		fk, err := models.ParseFabricKey(key)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if fk.Level == models.LevelPartition {
			children = append(children, NewSendToServiceNode(fk.Service, fk.PartitionID, u.Info))
		} else {
			children = append(children, NewResolveToPartition(fk.String(), u.Info))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrPermanent, err)
	}

	if err := e.enqueueAll(ctx, children); err != nil {
		return false, err
	}
	logging.Ctx(ctx).Info().
		Int("keys", len(u.Keys)).
		Str("work_item_type", string(u.Info.WorkItemType)).
		Msg("Enablement update fanned out")
	return true, nil
}

// enqueueAll adds items in one transaction.
func (e *Env) enqueueAll(ctx context.Context, items []*WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	return e.DB.Update(ctx, func(tx *store.Tx) error {
		for _, item := range items {
			if err := e.Queue.AddWorkItem(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
}
