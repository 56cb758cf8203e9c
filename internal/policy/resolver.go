// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

// Package policy resolves which backup policy applies to a partition and
// whether its backups are suspended.
//
// Both lookups walk the resource hierarchy from the most specific key to the
// least specific: partition, then service, then application. For mappings
// the first hit wins; for suspension any hit suspends.
package policy

import (
	"context"
	"fmt"

	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/store"
)

// Resolver reads the mapping, policy and suspension stores.
type Resolver struct {
	Mappings  *store.Collection[models.BackupMapping]
	Policies  *store.Collection[models.BackupPolicy]
	Suspended *store.Collection[models.SuspendStatus]
}

// NewResolver binds a resolver to the stores in db.
func NewResolver(db *store.DB) *Resolver {
	return &Resolver{
		Mappings:  store.NewCollection[models.BackupMapping](db, store.BackupMappingStore),
		Policies:  store.NewCollection[models.BackupPolicy](db, store.BackupPolicyStore),
		Suspended: store.NewCollection[models.SuspendStatus](db, store.SuspendStatusStore),
	}
}

// hierarchyOf returns key and its ancestors, most specific first.
func hierarchyOf(key string) ([]string, error) {
	fk, err := models.ParseFabricKey(key)
	if err != nil {
		return nil, err
	}
	switch fk.Level {
	case models.LevelPartition:
		return models.HierarchyKeys(fk.Service, fk.PartitionID), nil
	case models.LevelService:
		return []string{fk.Service, fk.Application}, nil
	default:
		return []string{fk.Application}, nil
	}
}

// EffectiveMappingAndPolicy returns the mapping that applies to the
// partition and the policy it names. Either may be nil: no mapping means no
// policy is in effect, and a mapping whose policy was removed yields a nil
// policy. Neither case is an error.
func (r *Resolver) EffectiveMappingAndPolicy(ctx context.Context, serviceURI, partitionID string) (*models.BackupMapping, *models.BackupPolicy, error) {
	return r.EffectiveMappingAndPolicyForKey(ctx, models.PartitionKey(serviceURI, partitionID))
}

// EffectiveMappingAndPolicyForKey is EffectiveMappingAndPolicy for a key of
// any level.
func (r *Resolver) EffectiveMappingAndPolicyForKey(ctx context.Context, key string) (*models.BackupMapping, *models.BackupPolicy, error) {
	mapping, err := r.EffectiveMappingForKey(ctx, key)
	if err != nil || mapping == nil {
		return nil, nil, err
	}
	pol, found, err := r.Policies.Get(ctx, mapping.BackupPolicyName)
	if err != nil {
		return mapping, nil, fmt.Errorf("load policy %q: %w", mapping.BackupPolicyName, err)
	}
	if !found {
		return mapping, nil, nil
	}
	return mapping, &pol, nil
}

// EffectiveMappingForKey returns the first mapping found walking up from key.
func (r *Resolver) EffectiveMappingForKey(ctx context.Context, key string) (*models.BackupMapping, error) {
	keys, err := hierarchyOf(key)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		m, found, err := r.Mappings.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("load mapping %q: %w", k, err)
		}
		if found {
			return &m, nil
		}
	}
	return nil, nil
}

// IsPartitionBackupSuspended reports whether the partition, its service or
// its application carries a suspension marker.
func (r *Resolver) IsPartitionBackupSuspended(ctx context.Context, serviceURI, partitionID string) (bool, error) {
	return r.IsSuspended(ctx, models.PartitionKey(serviceURI, partitionID))
}

// IsSuspended is IsPartitionBackupSuspended for a key of any level.
func (r *Resolver) IsSuspended(ctx context.Context, key string) (bool, error) {
	keys, err := hierarchyOf(key)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		_, found, err := r.Suspended.Get(ctx, k)
		if err != nil {
			return false, fmt.Errorf("load suspend status %q: %w", k, err)
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
