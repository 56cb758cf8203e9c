// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

// Package logging provides the zerolog-based structured logger shared by
// every FabricBRS component.
//
// A single global logger is configured once from main() and accessed through
// level helpers:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("key", "fabric:/app/svc").Msg("protection enabled")
//
// Work item processing attaches the item identity to the context so every
// log line emitted while a work item runs carries it:
//
//	ctx = logging.ContextWithWorkItem(ctx, item.ID, string(item.Kind))
//	logging.Ctx(ctx).Warn().Err(err).Msg("delivery failed")
//
// # Configuration
//
// Environment variables (applied through internal/config):
//   - BRS_LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - BRS_LOG_FORMAT: json, console (default: json)
//   - BRS_LOG_CALLER: include caller file:line (default: false)
//
// # slog Bridge
//
// Libraries that need a *slog.Logger (sutureslog) get one backed by the same
// zerolog output through NewSlogLogger.
package logging
