// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package fabric

import "time"

// ProtectionPolicy is the policy pushed to a partition when protection is
// enabled. Exactly one of FrequencySchedule and TimeSchedule is set.
type ProtectionPolicy struct {
	Name                  string             `json:"Name"`
	PolicyUniqueID        string             `json:"PolicyUniqueId"`
	AutoRestoreOnDataLoss bool               `json:"AutoRestoreOnDataLoss"`
	MaxIncrementalBackups int                `json:"MaxIncrementalBackups"`
	ScheduleKind          string             `json:"ScheduleKind"`
	FrequencySchedule     *FrequencySchedule `json:"FrequencySchedule,omitempty"`
	TimeSchedule          *TimeSchedule      `json:"TimeSchedule,omitempty"`
	Storage               BackupStorage      `json:"Storage"`
	Retention             *RetentionPolicy   `json:"RetentionPolicy,omitempty"`
}

// FrequencySchedule takes a backup every Interval units.
type FrequencySchedule struct {
	RunFrequencyType string `json:"RunFrequencyType"` // "Minutes" or "Hours"
	Interval         int    `json:"Interval"`
}

// TimeSchedule takes backups at fixed times of day.
type TimeSchedule struct {
	RunSchedule string   `json:"RunSchedule"` // "Daily" or "Weekly"
	RunDays     uint8    `json:"RunDays"`     // bit 0 = Sunday
	RunTimes    []string `json:"RunTimes"`    // "HH:MM", UTC
}

// RetentionPolicy is the basic retention policy.
type RetentionPolicy struct {
	RetentionDuration      string `json:"RetentionDuration"` // Go duration string
	MinimumNumberOfBackups int    `json:"MinimumNumberOfBackups"`
}

// BackupStorage is the wire form of a backup destination.
type BackupStorage struct {
	StorageKind string `json:"StorageKind"`

	// FileShare
	Path              string `json:"Path,omitempty"`
	PrimaryUserName   string `json:"PrimaryUserName,omitempty"`
	PrimaryPassword   string `json:"PrimaryPassword,omitempty"`
	SecondaryUserName string `json:"SecondaryUserName,omitempty"`
	SecondaryPassword string `json:"SecondaryPassword,omitempty"`

	// AzureBlobStore and ManagedAzureBlobStore
	ConnectionString        string `json:"ConnectionString,omitempty"`
	StorageAccountName      string `json:"StorageAccountName,omitempty"`
	ManagedIdentityClientID string `json:"ManagedIdentityClientId,omitempty"`
	ContainerName           string `json:"ContainerName,omitempty"`
	FolderPath              string `json:"FolderPath,omitempty"`
}

// BackupConfiguration accompanies an on-demand backup request.
type BackupConfiguration struct {
	Storage *BackupStorage `json:"BackupStorage,omitempty"`
	// Timeout is sent as the BackupTimeout query parameter in whole minutes.
	Timeout time.Duration `json:"-"`
}

// ServiceInfo describes one service of an application.
type ServiceInfo struct {
	Name              string `json:"Name"`
	Kind              string `json:"ServiceKind"`
	HasPersistedState bool   `json:"HasPersistedState"`
}

// Service kinds.
const (
	ServiceKindStateful  = "Stateful"
	ServiceKindStateless = "Stateless"
)

// IsBackupCandidate reports whether partitions of the service can be backed up.
func (s ServiceInfo) IsBackupCandidate() bool {
	return s.Kind == ServiceKindStateful && s.HasPersistedState
}

// PartitionInfo identifies one partition.
type PartitionInfo struct {
	ID string `json:"Id"`
}

// DataLossMode selects how much data loss is induced.
type DataLossMode string

const (
	DataLossPartial DataLossMode = "PartialDataLoss"
	DataLossFull    DataLossMode = "FullDataLoss"
)

// DataLossState is the state of a data loss operation.
type DataLossState string

const (
	DataLossRunning        DataLossState = "Running"
	DataLossRollingBack    DataLossState = "RollingBack"
	DataLossCompleted      DataLossState = "Completed"
	DataLossCancelled      DataLossState = "Cancelled"
	DataLossFaulted        DataLossState = "Faulted"
	DataLossForceCancelled DataLossState = "ForceCancelled"
)

// InFlight reports whether the operation may still affect the partition.
func (s DataLossState) InFlight() bool {
	return s == DataLossRunning || s == DataLossRollingBack
}

// Aborted reports whether the operation ended without inducing data loss.
func (s DataLossState) Aborted() bool {
	return s == DataLossCancelled || s == DataLossFaulted || s == DataLossForceCancelled
}

// DataLossProgress is the progress of a data loss operation.
type DataLossProgress struct {
	State  DataLossState `json:"State"`
	Result string        `json:"Result,omitempty"`
}
