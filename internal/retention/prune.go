// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package retention

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/tomtom215/fabricbrs/internal/storage"
)

// selectExpired picks the recovery points to delete from points, which are
// sorted oldest first. Only points created before cutoff qualify. Walking
// the expired points newest first, everything up to and including the
// newest expired full backup is kept so the retained incrementals still
// have a base. After that, points are deleted while more than minKeep
// remain. The result is newest first.
func selectExpired(points []storage.RecoveryPoint, cutoff time.Time, minKeep int) []storage.RecoveryPoint {
	remaining := len(points)
	if remaining <= minKeep {
		return nil
	}

	var victims []storage.RecoveryPoint
	fullFound := false
	for i := len(points) - 1; i >= 0; i-- {
		rp := points[i]
		if !rp.Created.Before(cutoff) {
			continue
		}
		if !fullFound {
			fullFound = rp.Full
			continue
		}
		if remaining <= minKeep {
			break
		}
		victims = append(victims, rp)
		remaining--
	}
	return victims
}

// prunePartition deletes the expired recovery points of one partition. A
// point whose deletion was interrupted by a previous pass is finished first.
func (m *Manager) prunePartition(ctx context.Context, bs storage.BackupStore, policyName string, part partitionRef, cutoff time.Time, minKeep int) (int, error) {
	md, found, err := m.meta.Get(ctx, policyName)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errRetired
	}
	if rp, ok := md.InFlight[part.PartitionID]; ok {
		if err := bs.Delete(ctx, rp); err != nil {
			return 0, fmt.Errorf("finish deleting %s: %w", rp.Name, err)
		}
	}

	points, err := bs.RecoveryPoints(ctx, storage.PartitionDir(part.ServiceURI, part.PartitionID))
	if err != nil {
		return 0, err
	}

	pruned := 0
	for i, rp := range selectExpired(points, cutoff, minKeep) {
		if i > 0 {
			if err := m.pause(ctx); err != nil {
				return pruned, err
			}
		}
		if err := m.setInFlight(ctx, policyName, part.PartitionID, &rp); err != nil {
			return pruned, err
		}
		if err := bs.Delete(ctx, rp); err != nil {
			return pruned, fmt.Errorf("delete %s: %w", rp.Name, err)
		}
		pruned++
		m.log.Debug().
			Str("policy", policyName).
			Str("partition_id", part.PartitionID).
			Str("recovery_point", rp.Name).
			Bool("full", rp.Full).
			Msg("Recovery point deleted")
	}
	return pruned, m.setInFlight(ctx, policyName, part.PartitionID, nil)
}

// setInFlight records rp as the point being deleted for a partition, or
// clears the record when rp is nil.
func (m *Manager) setInFlight(ctx context.Context, policyName, partitionID string, rp *storage.RecoveryPoint) error {
	return m.updateMeta(ctx, policyName, func(md *Metadata) bool {
		if rp == nil {
			if _, ok := md.InFlight[partitionID]; !ok {
				return false
			}
			delete(md.InFlight, partitionID)
			return true
		}
		if md.InFlight == nil {
			md.InFlight = make(map[string]storage.RecoveryPoint)
		}
		md.InFlight[partitionID] = *rp
		return true
	})
}

// pause waits a random time below DeleteJitter between two deletions.
func (m *Manager) pause(ctx context.Context) error {
	if m.config.DeleteJitter <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(rand.N(m.config.DeleteJitter))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
