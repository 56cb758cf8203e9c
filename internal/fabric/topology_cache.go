// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package fabric

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tomtom215/fabricbrs/internal/metrics"
)

const topologyCacheCapacity = 10_000

// CachedTopology caches service and partition lists for a short TTL so that
// fanning one application-level change out to many partitions does not list
// the same service repeatedly. ValidatePartition is never cached.
type CachedTopology struct {
	next       TopologyClient
	services   *ttlcache.Cache[string, []ServiceInfo]
	partitions *ttlcache.Cache[string, []PartitionInfo]
}

var _ TopologyClient = (*CachedTopology)(nil)

// NewCachedTopology wraps next with a cache whose entries live for ttl.
// Call Start to run expiry and Stop to release it.
func NewCachedTopology(next TopologyClient, ttl time.Duration) *CachedTopology {
	return &CachedTopology{
		next: next,
		services: ttlcache.New(
			ttlcache.WithTTL[string, []ServiceInfo](ttl),
			ttlcache.WithDisableTouchOnHit[string, []ServiceInfo](),
			ttlcache.WithCapacity[string, []ServiceInfo](topologyCacheCapacity),
		),
		partitions: ttlcache.New(
			ttlcache.WithTTL[string, []PartitionInfo](ttl),
			ttlcache.WithDisableTouchOnHit[string, []PartitionInfo](),
			ttlcache.WithCapacity[string, []PartitionInfo](topologyCacheCapacity),
		),
	}
}

// Start runs the expiry loops. It returns immediately.
func (t *CachedTopology) Start() {
	go t.services.Start()
	go t.partitions.Start()
}

// Stop ends the expiry loops.
func (t *CachedTopology) Stop() {
	t.services.Stop()
	t.partitions.Stop()
}

// GetServiceList returns the cached service list of applicationURI, loading
// it on a miss.
func (t *CachedTopology) GetServiceList(ctx context.Context, applicationURI string) ([]ServiceInfo, error) {
	if item := t.services.Get(applicationURI); item != nil {
		metrics.RecordTopologyCache("services", true)
		return item.Value(), nil
	}
	metrics.RecordTopologyCache("services", false)

	services, err := t.next.GetServiceList(ctx, applicationURI)
	if err != nil {
		return nil, err
	}
	t.services.Set(applicationURI, services, ttlcache.DefaultTTL)
	return services, nil
}

// GetPartitionList returns the cached partition list of serviceURI, loading
// it on a miss.
func (t *CachedTopology) GetPartitionList(ctx context.Context, serviceURI string) ([]PartitionInfo, error) {
	if item := t.partitions.Get(serviceURI); item != nil {
		metrics.RecordTopologyCache("partitions", true)
		return item.Value(), nil
	}
	metrics.RecordTopologyCache("partitions", false)

	partitions, err := t.next.GetPartitionList(ctx, serviceURI)
	if err != nil {
		return nil, err
	}
	t.partitions.Set(serviceURI, partitions, ttlcache.DefaultTTL)
	return partitions, nil
}

// ValidatePartition asks the cluster directly and drops the cached
// partition list of serviceURI so the next listing reflects the answer.
func (t *CachedTopology) ValidatePartition(ctx context.Context, serviceURI, partitionID string) error {
	t.partitions.Delete(serviceURI)
	return t.next.ValidatePartition(ctx, serviceURI, partitionID)
}
