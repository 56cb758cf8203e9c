// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package workitem

import (
	"context"
	"fmt"

	"github.com/tomtom215/fabricbrs/internal/logging"
)

// Process runs one attempt of w. It reports whether w is finished.
func Process(ctx context.Context, e *Env, w *WorkItem) (bool, error) {
	if err := w.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	ctx = logging.ContextWithWorkItem(ctx, w.ID, string(w.Kind))

	switch w.Kind {
	case KindBackupPartition:
		return processBackup(ctx, e, w)
	case KindRestorePartition:
		return processRestore(ctx, e, w)
	case KindSendToServiceNode:
		return processSendToServiceNode(ctx, e, w)
	case KindResolveToPartition:
		return processResolveToPartition(ctx, e, w)
	case KindUpdateEnablement:
		return processUpdateEnablement(ctx, e, w)
	default:
		return false, fmt.Errorf("%w: unknown work item kind %q", ErrPermanent, w.Kind)
	}
}
