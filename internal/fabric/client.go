// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

// Package fabric defines the cluster collaborators the engine calls and an
// HTTP implementation against the cluster REST gateway.
//
// Every call takes a context; callers bound remote calls with the deadline
// of the workflow issuing them.
package fabric

import "context"

// PartitionClient talks to the backup agent of individual partitions.
type PartitionClient interface {
	BackupPartition(ctx context.Context, serviceURI, partitionID, operationID string, cfg *BackupConfiguration) error
	EnableProtection(ctx context.Context, serviceURI, partitionID string, policy *ProtectionPolicy) error
	DisableProtection(ctx context.Context, serviceURI, partitionID string) error
}

// FaultClient induces and monitors data loss.
type FaultClient interface {
	InitiatePartitionDataLoss(ctx context.Context, dataLossID, serviceURI, partitionID string, mode DataLossMode) error
	GetPartitionDataLossProgress(ctx context.Context, dataLossID, serviceURI, partitionID string) (*DataLossProgress, error)
	CancelPartitionDataLoss(ctx context.Context, dataLossID string, force bool) error
}

// TopologyClient discovers services and partitions.
type TopologyClient interface {
	GetServiceList(ctx context.Context, applicationURI string) ([]ServiceInfo, error)
	GetPartitionList(ctx context.Context, serviceURI string) ([]PartitionInfo, error)
	// ValidatePartition returns an error matching ErrPartitionNotFound or
	// ErrServiceNotFound when the partition no longer exists.
	ValidatePartition(ctx context.Context, serviceURI, partitionID string) error
}
