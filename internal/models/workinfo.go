// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package models

import "time"

// WorkItemType is the propagation intent of a policy work item.
type WorkItemType string

const (
	WorkItemEnable                   WorkItemType = "Enable"
	WorkItemDisable                  WorkItemType = "Disable"
	WorkItemUpdateProtection         WorkItemType = "UpdateProtection"
	WorkItemUpdateBackupPolicy       WorkItemType = "UpdateBackupPolicy"
	WorkItemSuspendPartition         WorkItemType = "SuspendPartition"
	WorkItemResumePartition          WorkItemType = "ResumePartition"
	WorkItemUpdatePolicyAfterRestore WorkItemType = "UpdatePolicyAfterRestore"
)

// Valid reports whether t is a known intent.
func (t WorkItemType) Valid() bool {
	switch t {
	case WorkItemEnable, WorkItemDisable, WorkItemUpdateProtection, WorkItemUpdateBackupPolicy,
		WorkItemSuspendPartition, WorkItemResumePartition, WorkItemUpdatePolicyAfterRestore:
		return true
	default:
		return false
	}
}

// WorkItemInfo carries a propagation intent and the generation tokens it was
// issued under. A partition-level action is applied only while the current
// mapping and policy still carry these tokens.
type WorkItemInfo struct {
	WorkItemType           WorkItemType `json:"work_item_type"`
	BackupPolicyUpdateGUID string       `json:"backup_policy_update_guid,omitempty"`
	ProtectionGUID         string       `json:"protection_guid,omitempty"`
}

// QueueRunType names the queue a work item is waiting in.
type QueueRunType string

const (
	QueueMain  QueueRunType = "main"
	QueueRetry QueueRunType = "retry"
)

// WorkItemProcessInfo is the queue envelope of a work item.
type WorkItemProcessInfo struct {
	WorkItemID           string       `json:"work_item_id"`
	DueDateTime          time.Time    `json:"due_date_time"`
	WorkItemQueueRunType QueueRunType `json:"work_item_queue_run_type"`
	Attempts             int          `json:"attempts"`
	LastError            string       `json:"last_error,omitempty"`
	EnqueuedAt           time.Time    `json:"enqueued_at"`
}
