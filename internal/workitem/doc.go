// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package workitem defines the persisted units of deferred work and the
workflows that process them.

A WorkItem is a tagged union: Kind selects exactly one non-nil variant.

	BackupPartition     take one on-demand backup of a partition
	RestorePartition    drive a restore through induced data loss
	SendToServiceNode   deliver an enable/disable decision to one partition
	ResolveToPartition  expand an application or service into partitions
	UpdateEnablement    classify a set of keys into the two items above

Process dispatches on Kind. It returns true when the item is finished and
can be removed from the queue. It returns false, or an error, when the item
must be retried later; errors wrapping ErrPermanent are contract errors the
queue drops instead of retrying.

# Deadlines

Backup and restore items carry the time the request was accepted and a
timeout. Their workflows run under a context bounded by that deadline. When
the deadline fires the request is moved to the Timeout state with a
guarded transition; the item is then complete and is never retried.
A cancellation of the parent context (shutdown) is returned as-is so the
queue leaves the item in process for recovery on the next start.

# Freshness

Status transitions are applied only when the stored request guid matches
the item's guid and the stored state is not terminal. Propagation items
carry the generation tokens of the mapping and policy they were issued
under and do nothing once those tokens have been replaced.
*/
package workitem
