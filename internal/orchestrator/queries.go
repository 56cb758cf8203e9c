// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package orchestrator

import (
	"context"
	"fmt"

	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/store"
)

// BackupStatusEntry is the backup status of one partition.
type BackupStatusEntry struct {
	Key    string                       `json:"key"`
	Status models.BackupPartitionStatus `json:"status"`
}

// RestoreStatusEntry is the restore status of one partition.
type RestoreStatusEntry struct {
	Key    string               `json:"key"`
	Status models.RestoreStatus `json:"status"`
}

// EffectivePolicy is what applies to a partition right now.
type EffectivePolicy struct {
	Key       string                `json:"key"`
	Mapping   *models.BackupMapping `json:"mapping,omitempty"`
	Policy    *models.BackupPolicy  `json:"policy,omitempty"`
	Suspended bool                  `json:"suspended"`
}

// GetBackupStatus returns the backup status of a partition key, or of every
// partition below a service or application key.
func (o *Orchestrator) GetBackupStatus(ctx context.Context, key string) ([]BackupStatusEntry, error) {
	pairs, err := statusesFor(ctx, o.env.BackupStatus, key)
	if err != nil {
		return nil, err
	}
	out := make([]BackupStatusEntry, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, BackupStatusEntry{Key: p.Key, Status: p.Value})
	}
	return out, nil
}

// GetRestoreStatus is GetBackupStatus for restores.
func (o *Orchestrator) GetRestoreStatus(ctx context.Context, key string) ([]RestoreStatusEntry, error) {
	pairs, err := statusesFor(ctx, o.env.RestoreStatus, key)
	if err != nil {
		return nil, err
	}
	out := make([]RestoreStatusEntry, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, RestoreStatusEntry{Key: p.Key, Status: p.Value})
	}
	return out, nil
}

// GetEffectivePolicy resolves the mapping, policy and suspension that apply
// to a partition.
func (o *Orchestrator) GetEffectivePolicy(ctx context.Context, serviceURI, partitionID string) (*EffectivePolicy, error) {
	fk, err := parsePartition(serviceURI, partitionID)
	if err != nil {
		return nil, err
	}
	return o.effective(ctx, fk)
}

// GetEffectivePolicyForKey is GetEffectivePolicy for a key of any level.
func (o *Orchestrator) GetEffectivePolicyForKey(ctx context.Context, key string) (*EffectivePolicy, error) {
	fk, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	return o.effective(ctx, fk)
}

func (o *Orchestrator) effective(ctx context.Context, fk models.FabricKey) (*EffectivePolicy, error) {
	key := fk.String()
	mapping, pol, err := o.env.Resolver.EffectiveMappingAndPolicyForKey(ctx, key)
	if err != nil {
		return nil, err
	}
	suspended, err := o.env.Resolver.IsSuspended(ctx, key)
	if err != nil {
		return nil, err
	}
	return &EffectivePolicy{Key: key, Mapping: mapping, Policy: pol, Suspended: suspended}, nil
}

// statusesFor reads the record at a partition key, or every record below a
// service or application key.
func statusesFor[V any](ctx context.Context, c *store.Collection[V], key string) ([]store.Pair[V], error) {
	fk, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	key = fk.String()

	if fk.Level == models.LevelPartition {
		v, found, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrStatusNotFound, key)
		}
		return []store.Pair[V]{{Key: key, Value: v}}, nil
	}

	pairs, err := c.List(ctx, key+"/")
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrStatusNotFound, key)
	}
	return pairs, nil
}
