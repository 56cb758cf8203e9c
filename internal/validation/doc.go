// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

// Package validation provides struct validation using go-playground/validator v10.
//
// The package wraps a thread-safe singleton validator with the custom rules
// FabricBRS needs and translates field errors into readable messages.
//
// # Custom Rules
//
//   - fabricuri: the value is a fabric resource name ("fabric:/App",
//     "fabric:/App/Svc", "fabric:/App/Group/Svc" or a service name
//     followed by "/<partition-guid>")
//   - timeofday: the value is an "HH:MM" wall-clock time
//
// # Quick Start
//
//	type EnableRequest struct {
//	    Key        string `validate:"required,fabricuri"`
//	    PolicyName string `validate:"required,max=256"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    return fmt.Errorf("enable protection: %w", verr)
//	}
//
// # Thread Safety
//
// GetValidator initializes the validator once via sync.Once; the returned
// instance caches struct metadata and is safe for concurrent use.
package validation
