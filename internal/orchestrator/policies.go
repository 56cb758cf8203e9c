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
)

// CreatePolicy stores a new policy under a fresh UniqueID.
func (o *Orchestrator) CreatePolicy(ctx context.Context, p *models.BackupPolicy) (*models.BackupPolicy, error) {
	if err := o.checkPolicy(ctx, p); err != nil {
		return nil, err
	}
	created := *p
	created.UniqueID = uuid.NewString()

	err := o.update(ctx, store.BackupPolicyStore, func(tx *store.Tx) error {
		_, found, err := o.policies.GetForUpdate(tx, p.Name)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %q", ErrPolicyExists, p.Name)
		}
		return o.policies.Update(tx, p.Name, created)
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("policy", created.Name).
		Str("unique_id", created.UniqueID).
		Str("storage_kind", string(created.Storage.Kind)).
		Msg("Backup policy created")
	o.armRetention(ctx, &created)
	return &created, nil
}

// UpdatePolicy replaces the content of an existing policy, assigns it a new
// UniqueID and propagates it to every resource mapped to it.
func (o *Orchestrator) UpdatePolicy(ctx context.Context, p *models.BackupPolicy) (*models.BackupPolicy, error) {
	if err := o.checkPolicy(ctx, p); err != nil {
		return nil, err
	}
	updated := *p
	updated.UniqueID = uuid.NewString()

	var keys []string
	err := o.update(ctx, store.BackupPolicyStore, func(tx *store.Tx) error {
		_, found, err := o.policies.GetForUpdate(tx, p.Name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrPolicyNotFound, p.Name)
		}
		if err := o.policies.Update(tx, p.Name, updated); err != nil {
			return err
		}
		keys, err = o.mappedKeys(ctx, tx, p.Name)
		if err != nil {
			return err
		}
		return o.enablement(ctx, tx, keys, models.WorkItemInfo{
			WorkItemType:           models.WorkItemUpdateBackupPolicy,
			BackupPolicyUpdateGUID: updated.UniqueID,
		})
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("policy", updated.Name).
		Str("unique_id", updated.UniqueID).
		Int("mapped_resources", len(keys)).
		Msg("Backup policy updated")
	o.armRetention(ctx, &updated)
	return &updated, nil
}

// DeletePolicy removes a policy no resource is mapped to.
func (o *Orchestrator) DeletePolicy(ctx context.Context, name string) error {
	err := o.update(ctx, store.BackupPolicyStore, func(tx *store.Tx) error {
		_, found, err := o.policies.GetForUpdate(tx, name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrPolicyNotFound, name)
		}
		keys, err := o.mappedKeys(ctx, tx, name)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			return fmt.Errorf("%w: %q is mapped to %d resources", ErrPolicyInUse, name, len(keys))
		}
		return o.policies.Delete(tx, name)
	})
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("policy", name).Msg("Backup policy deleted")
	if o.retention != nil {
		if err := o.retention.Disarm(ctx, name); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("policy", name).Msg("Failed to disarm retention")
		}
	}
	return nil
}

// armRetention hands a committed policy to the retention scheduler. A
// failure is logged only: the scheduler reconciles with the policy store
// when it starts.
func (o *Orchestrator) armRetention(ctx context.Context, p *models.BackupPolicy) {
	if o.retention == nil {
		return
	}
	if err := o.retention.Arm(ctx, p); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("policy", p.Name).Msg("Failed to arm retention")
	}
}

// GetPolicy returns the named policy.
func (o *Orchestrator) GetPolicy(ctx context.Context, name string) (*models.BackupPolicy, error) {
	p, found, err := o.policies.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrPolicyNotFound, name)
	}
	return &p, nil
}

// ListPolicies returns every policy in name order.
func (o *Orchestrator) ListPolicies(ctx context.Context) ([]models.BackupPolicy, error) {
	pairs, err := o.policies.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]models.BackupPolicy, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Value)
	}
	return out, nil
}

func (o *Orchestrator) checkPolicy(ctx context.Context, p *models.BackupPolicy) error {
	if p == nil {
		return fmt.Errorf("%w: policy is required", ErrInvalidArgument)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return o.checkDestination(ctx, &p.Storage)
}

// mappedKeys returns the keys of every mapping naming policy. The scanned
// mappings join the read set of tx.
func (o *Orchestrator) mappedKeys(ctx context.Context, tx *store.Tx, policy string) ([]string, error) {
	var keys []string
	err := o.mappings.ScanTx(ctx, tx, "", func(key string, m models.BackupMapping) (bool, error) {
		if m.BackupPolicyName == policy {
			keys = append(keys, key)
		}
		return true, nil
	})
	return keys, err
}
