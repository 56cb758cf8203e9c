// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/store"
	"github.com/tomtom215/fabricbrs/internal/validation"
)

// EnableProtection maps key to the named policy. Re-enabling an already
// mapped key replaces the mapping and its ProtectionID, which makes any
// propagation issued for the previous mapping stale.
func (o *Orchestrator) EnableProtection(ctx context.Context, key, policyName string) (*models.BackupMapping, error) {
	fk, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	key = fk.String()
	mapping := models.BackupMapping{
		ApplicationOrServiceURI: key,
		BackupPolicyName:        policyName,
		ProtectionID:            uuid.NewString(),
		CreatedAt:               o.now(),
	}
	if verr := validation.ValidateStruct(&mapping); verr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, verr)
	}

	intent := models.WorkItemEnable
	err = o.update(ctx, store.BackupMappingStore, func(tx *store.Tx) error {
		pol, found, err := o.policies.GetForUpdate(tx, policyName)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrPolicyNotFound, policyName)
		}
		_, mapped, err := o.mappings.GetForUpdate(tx, key)
		if err != nil {
			return err
		}
		intent = models.WorkItemEnable
		if mapped {
			intent = models.WorkItemUpdateProtection
		}
		if err := o.mappings.Update(tx, key, mapping); err != nil {
			return err
		}
		return o.enablement(ctx, tx, []string{key}, models.WorkItemInfo{
			WorkItemType:           intent,
			BackupPolicyUpdateGUID: pol.UniqueID,
			ProtectionGUID:         mapping.ProtectionID,
		})
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("key", key).
		Str("level", fk.Level.String()).
		Str("policy", policyName).
		Str("protection_id", mapping.ProtectionID).
		Str("work_item_type", string(intent)).
		Msg("Backup protection enabled")
	return &mapping, nil
}

// DisableProtection removes the mapping at key. Partitions that still
// inherit a mapping from an ancestor are re-enabled with that policy.
func (o *Orchestrator) DisableProtection(ctx context.Context, key string) error {
	fk, err := parseKey(key)
	if err != nil {
		return err
	}
	key = fk.String()

	err = o.update(ctx, store.BackupMappingStore, func(tx *store.Tx) error {
		_, found, err := o.mappings.GetForUpdate(tx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrProtectionNotEnabled, key)
		}
		if err := o.mappings.Delete(tx, key); err != nil {
			return err
		}
		return o.enablement(ctx, tx, []string{key}, models.WorkItemInfo{WorkItemType: models.WorkItemDisable})
	})
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("key", key).Msg("Backup protection disabled")
	return nil
}

// SuspendProtection stops periodic backups below key without removing its
// mapping. Some mapping must apply to key.
func (o *Orchestrator) SuspendProtection(ctx context.Context, key string) error {
	fk, err := parseKey(key)
	if err != nil {
		return err
	}
	key = fk.String()

	mapping, err := o.env.Resolver.EffectiveMappingForKey(ctx, key)
	if err != nil {
		return err
	}
	if mapping == nil {
		return fmt.Errorf("%w: %q", ErrProtectionNotEnabled, key)
	}

	err = o.update(ctx, store.SuspendStatusStore, func(tx *store.Tx) error {
		_, found, err := o.suspended.GetForUpdate(tx, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %q", ErrAlreadySuspended, key)
		}
		if err := o.suspended.Update(tx, key, models.SuspendStatus{Key: key, SuspendedAt: o.now()}); err != nil {
			return err
		}
		return o.enablement(ctx, tx, []string{key}, models.WorkItemInfo{WorkItemType: models.WorkItemSuspendPartition})
	})
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().
		Str("key", key).
		Str("mapped_at", mapping.ApplicationOrServiceURI).
		Msg("Backup protection suspended")
	return nil
}

// ResumeProtection clears the suspension marker at key.
func (o *Orchestrator) ResumeProtection(ctx context.Context, key string) error {
	fk, err := parseKey(key)
	if err != nil {
		return err
	}
	key = fk.String()

	err = o.update(ctx, store.SuspendStatusStore, func(tx *store.Tx) error {
		_, found, err := o.suspended.GetForUpdate(tx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrNotSuspended, key)
		}
		if err := o.suspended.Delete(tx, key); err != nil {
			return err
		}
		return o.enablement(ctx, tx, []string{key}, models.WorkItemInfo{WorkItemType: models.WorkItemResumePartition})
	})
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("key", key).Msg("Backup protection resumed")
	return nil
}
