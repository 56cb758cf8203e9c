// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey int

const (
	keyCorrelation ctxKey = iota
	keyWorkItem
	keyLogger
)

type workItemTag struct {
	id   string
	kind string
}

// GenerateCorrelationID returns a short random id for one request or one
// work item attempt.
func GenerateCorrelationID() string {
	return uuid.NewString()[:8]
}

// ContextWithCorrelationID tags ctx with id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyCorrelation, id)
}

// ContextWithNewCorrelationID tags ctx with a fresh id.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the id ctx was tagged with, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(keyCorrelation).(string)
	return id
}

// ContextWithWorkItem tags ctx with the work item being processed.
func ContextWithWorkItem(ctx context.Context, id, kind string) context.Context {
	return context.WithValue(ctx, keyWorkItem, workItemTag{id: id, kind: kind})
}

// WorkItemFromContext returns the work item id and kind ctx was tagged with.
func WorkItemFromContext(ctx context.Context) (id, kind string) {
	tag, _ := ctx.Value(keyWorkItem).(workItemTag)
	return tag.id, tag.kind
}

// ContextWithLogger makes Ctx build on l instead of the process logger.
//
//nolint:gocritic // zerolog.Logger is passed by value
func ContextWithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, keyLogger, l)
}

// Ctx returns a logger carrying the correlation id and work item that ctx
// was tagged with.
//
//	logging.Ctx(ctx).Info().Msg("Backup accepted by partition")
func Ctx(ctx context.Context) *zerolog.Logger {
	base, ok := ctx.Value(keyLogger).(zerolog.Logger)
	if !ok {
		base = *current()
	}
	lc := base.With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		lc = lc.Str("correlation_id", id)
	}
	if id, kind := WorkItemFromContext(ctx); id != "" {
		lc = lc.Str("work_item_id", id).Str("work_item_kind", kind)
	}
	l := lc.Logger()
	return &l
}
