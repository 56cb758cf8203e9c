// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package models defines the records FabricBRS keeps in its stores.

# Keys

Every record is addressed by a fabric key at one of three levels:

	fabric:/App                     application
	fabric:/App/Svc                 service
	fabric:/App/Svc/<partition-id>  partition

ParseFabricKey classifies a key; HierarchyKeys lists a partition's keys
from most to least specific, which is the order policy resolution walks.

# Records

  - BackupPolicy and BackupMapping: what protection applies where
  - BackupPartitionStatus and RestoreStatus: one per partition, replaced
    by every new request
  - SuspendStatus: marks a key whose periodic backups are paused
  - WorkItemInfo and WorkItemProcessInfo: the routing and scheduling data
    carried by queued work items

# Status transitions

Status records only move through their To* methods. Each takes the
operation or request id that the caller is acting for and returns false,
without changing anything, when that id is no longer current or the record
is already terminal:

	if !status.ToTimeout(operationID, now) {
	    // a newer request replaced this one, or it already finished
	}

Callers persist the record only when a transition returns true.
*/
package models
