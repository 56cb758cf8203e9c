// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package models

import "time"

// Error codes recorded on status records.
const (
	ErrCodeSuccess int64 = 0
	// ErrCodeTimeout is FABRIC_E_TIMEOUT (0x80071BFF) as a signed HRESULT.
	ErrCodeTimeout int64 = -2147017729
	// ErrCodeBackupStorageMissing is reported when a backup request names no
	// storage and no policy applies to the partition.
	ErrCodeBackupStorageMissing int64 = -2147017613
	// ErrCodeDataLossFailed is E_FAIL, reported when the data loss that
	// precedes a restore kept aborting.
	ErrCodeDataLossFailed int64 = -2147467259

	MessageTimeout              = "Operation timed out"
	MessageBackupStorageMissing = "Backup storage is not specified and no backup policy applies to the partition"
	MessageDataLossFailed       = "Data loss for the restore did not complete"
)

// BackupState is the state of an on-demand backup.
type BackupState string

const (
	BackupAccepted   BackupState = "Accepted"
	BackupInProgress BackupState = "BackupInProgress"
	BackupSuccess    BackupState = "Success"
	BackupFailure    BackupState = "Failure"
	BackupTimeout    BackupState = "Timeout"
)

// IsTerminal reports whether no further transition is allowed.
func (s BackupState) IsTerminal() bool {
	switch s {
	case BackupSuccess, BackupFailure, BackupTimeout:
		return true
	default:
		return false
	}
}

// BackupEpoch identifies the replica configuration a backup was taken under.
type BackupEpoch struct {
	DataLossNumber      int64 `json:"data_loss_number"`
	ConfigurationNumber int64 `json:"configuration_number"`
}

// BackupPartitionStatus is the progress record of the latest backup request
// for one partition. OperationID is the request guid that owns the record.
type BackupPartitionStatus struct {
	OperationID       string      `json:"operation_id"`
	State             BackupState `json:"state"`
	ErrorCode         int64       `json:"error_code"`
	Message           string      `json:"message,omitempty"`
	RequestDateTime   time.Time   `json:"request_date_time"`
	EpochOfLastBackup BackupEpoch `json:"epoch_of_last_backup"`
	LsnOfLastBackup   int64       `json:"lsn_of_last_backup"`
	BackupID          string      `json:"backup_id,omitempty"`
	BackupLocation    string      `json:"backup_location,omitempty"`
	TimestampUTC      time.Time   `json:"timestamp_utc"`
}

// NewBackupStatus returns an Accepted record for operationID.
func NewBackupStatus(operationID string, requested time.Time) *BackupPartitionStatus {
	return &BackupPartitionStatus{
		OperationID:     operationID,
		State:           BackupAccepted,
		RequestDateTime: requested.UTC(),
		TimestampUTC:    requested.UTC(),
	}
}

// CanTransition reports whether the request operationID may still move this
// record: it must own the record and the record must not be terminal.
func (s *BackupPartitionStatus) CanTransition(operationID string) bool {
	return s != nil && s.OperationID == operationID && !s.State.IsTerminal()
}

// IsActiveFor reports whether operationID owns the record and it is still
// Accepted or BackupInProgress.
func (s *BackupPartitionStatus) IsActiveFor(operationID string) bool {
	return s.CanTransition(operationID)
}

// ToInProgress moves an Accepted record to BackupInProgress. It returns false
// and leaves the record untouched when operationID does not own it or the
// record has left Accepted.
func (s *BackupPartitionStatus) ToInProgress(operationID string, now time.Time) bool {
	if !s.CanTransition(operationID) || s.State != BackupAccepted {
		return false
	}
	s.State = BackupInProgress
	s.TimestampUTC = now.UTC()
	return true
}

// ToTimeout moves a non-terminal record to Timeout.
func (s *BackupPartitionStatus) ToTimeout(operationID string, now time.Time) bool {
	if !s.CanTransition(operationID) {
		return false
	}
	s.State = BackupTimeout
	s.ErrorCode = ErrCodeTimeout
	s.Message = MessageTimeout
	s.TimestampUTC = now.UTC()
	return true
}

// ToFailure moves a non-terminal record to Failure with code and message.
func (s *BackupPartitionStatus) ToFailure(operationID string, code int64, message string, now time.Time) bool {
	if !s.CanTransition(operationID) {
		return false
	}
	s.State = BackupFailure
	s.ErrorCode = code
	s.Message = message
	s.TimestampUTC = now.UTC()
	return true
}

// BackupResult is what a partition reports when a backup finishes.
type BackupResult struct {
	OperationID    string      `json:"operation_id" validate:"required,uuid"`
	ErrorCode      int64       `json:"error_code"`
	Message        string      `json:"message,omitempty"`
	BackupID       string      `json:"backup_id,omitempty"`
	BackupLocation string      `json:"backup_location,omitempty"`
	Epoch          BackupEpoch `json:"epoch"`
	LSN            int64       `json:"lsn"`
}

// ToResult applies a partition-reported result.
func (s *BackupPartitionStatus) ToResult(r *BackupResult, now time.Time) bool {
	if !s.CanTransition(r.OperationID) {
		return false
	}
	if r.ErrorCode == ErrCodeSuccess {
		s.State = BackupSuccess
		s.EpochOfLastBackup = r.Epoch
		s.LsnOfLastBackup = r.LSN
		s.BackupID = r.BackupID
		s.BackupLocation = r.BackupLocation
	} else {
		s.State = BackupFailure
	}
	s.ErrorCode = r.ErrorCode
	s.Message = r.Message
	s.TimestampUTC = now.UTC()
	return true
}

// RestoreState is the state of an on-demand restore.
type RestoreState string

const (
	RestoreAccepted   RestoreState = "Accepted"
	RestoreInProgress RestoreState = "RestoreInProgress"
	RestoreSuccess    RestoreState = "Success"
	RestoreFailure    RestoreState = "Failure"
	RestoreTimeout    RestoreState = "Timeout"
)

// IsTerminal reports whether no further transition is allowed.
func (s RestoreState) IsTerminal() bool {
	switch s {
	case RestoreSuccess, RestoreFailure, RestoreTimeout:
		return true
	default:
		return false
	}
}

// RestoreStatus is the progress record of the latest restore request for one
// partition. DataLossGUID is the data-loss operation currently driving it.
type RestoreStatus struct {
	RestoreRequestGUID string       `json:"restore_request_guid"`
	DataLossGUID       string       `json:"data_loss_guid,omitempty"`
	State              RestoreState `json:"state"`
	ErrorCode          int64        `json:"error_code"`
	Message            string       `json:"message,omitempty"`
	RequestDateTime    time.Time    `json:"request_date_time"`
	BackupID           string       `json:"backup_id,omitempty"`
	BackupLocation     string       `json:"backup_location,omitempty"`
	RestoredEpoch      BackupEpoch  `json:"restored_epoch"`
	RestoredLSN        int64        `json:"restored_lsn"`
	TimestampUTC       time.Time    `json:"timestamp_utc"`
}

// NewRestoreStatus returns an Accepted record for requestID.
func NewRestoreStatus(requestID, backupID, backupLocation string, requested time.Time) *RestoreStatus {
	return &RestoreStatus{
		RestoreRequestGUID: requestID,
		State:              RestoreAccepted,
		RequestDateTime:    requested.UTC(),
		BackupID:           backupID,
		BackupLocation:     backupLocation,
		TimestampUTC:       requested.UTC(),
	}
}

// CanTransition reports whether requestID owns the record and it is not terminal.
func (s *RestoreStatus) CanTransition(requestID string) bool {
	return s != nil && s.RestoreRequestGUID == requestID && !s.State.IsTerminal()
}

// IsTimedOutFor reports whether requestID owns the record and it ended in Timeout.
func (s *RestoreStatus) IsTimedOutFor(requestID string) bool {
	return s != nil && s.RestoreRequestGUID == requestID && s.State == RestoreTimeout
}

// SetDataLoss records the data-loss operation driving the restore.
func (s *RestoreStatus) SetDataLoss(requestID, dataLossID string, now time.Time) bool {
	if !s.CanTransition(requestID) {
		return false
	}
	s.DataLossGUID = dataLossID
	s.TimestampUTC = now.UTC()
	return true
}

// ToInProgress moves the record to RestoreInProgress.
func (s *RestoreStatus) ToInProgress(requestID string, now time.Time) bool {
	if !s.CanTransition(requestID) || s.State == RestoreInProgress {
		return false
	}
	s.State = RestoreInProgress
	s.TimestampUTC = now.UTC()
	return true
}

// ToTimeout moves a non-terminal record to Timeout.
func (s *RestoreStatus) ToTimeout(requestID string, now time.Time) bool {
	if !s.CanTransition(requestID) {
		return false
	}
	s.State = RestoreTimeout
	s.ErrorCode = ErrCodeTimeout
	s.Message = MessageTimeout
	s.TimestampUTC = now.UTC()
	return true
}

// ToFailure moves a non-terminal record to Failure with code and message.
func (s *RestoreStatus) ToFailure(requestID string, code int64, message string, now time.Time) bool {
	if !s.CanTransition(requestID) {
		return false
	}
	s.State = RestoreFailure
	s.ErrorCode = code
	s.Message = message
	s.TimestampUTC = now.UTC()
	return true
}

// RestoreResult is what a partition reports when a restore finishes.
type RestoreResult struct {
	RestoreRequestGUID string      `json:"restore_request_guid" validate:"required,uuid"`
	ErrorCode          int64       `json:"error_code"`
	Message            string      `json:"message,omitempty"`
	RestoredEpoch      BackupEpoch `json:"restored_epoch"`
	RestoredLSN        int64       `json:"restored_lsn"`
}

// ToResult applies a partition-reported result.
func (s *RestoreStatus) ToResult(r *RestoreResult, now time.Time) bool {
	if !s.CanTransition(r.RestoreRequestGUID) {
		return false
	}
	if r.ErrorCode == ErrCodeSuccess {
		s.State = RestoreSuccess
		s.RestoredEpoch = r.RestoredEpoch
		s.RestoredLSN = r.RestoredLSN
	} else {
		s.State = RestoreFailure
	}
	s.ErrorCode = r.ErrorCode
	s.Message = r.Message
	s.TimestampUTC = now.UTC()
	return true
}

// SuspendStatus marks a suspended application, service or partition.
type SuspendStatus struct {
	Key         string    `json:"key"`
	SuspendedAt time.Time `json:"suspended_at"`
}
