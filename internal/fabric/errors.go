// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package fabric

import (
	"errors"
	"fmt"
	"net/http"
)

// Remote error taxonomy. Gateway responses are mapped onto these so callers
// can classify failures with errors.Is.
var (
	// ErrServiceOffline means the target service has no quorum or is not
	// reachable right now.
	ErrServiceOffline = errors.New("service offline")

	// ErrPartitionNotFound means the partition does not exist.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrServiceNotFound means the service or application does not exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrDataLossNotFound means the data loss operation id is unknown.
	ErrDataLossNotFound = errors.New("data loss operation not found")

	// ErrDataLossExists means a data loss operation with the same id was
	// already started.
	ErrDataLossExists = errors.New("data loss operation already exists")
)

// Gateway error codes.
const (
	codePartitionNotFound = "FABRIC_E_PARTITION_NOT_FOUND"
	codeServiceNotFound   = "FABRIC_E_SERVICE_DOES_NOT_EXIST"
	codeAppNotFound       = "FABRIC_E_APPLICATION_NOT_FOUND"
	codeServiceOffline    = "FABRIC_E_SERVICE_OFFLINE"
	codeNoWriteQuorum     = "FABRIC_E_NO_WRITE_QUORUM"
	codeNotPrimary        = "FABRIC_E_NOT_PRIMARY"
	codeKeyNotFound       = "FABRIC_E_KEY_NOT_FOUND"
	codeOperationExists   = "FABRIC_E_TEST_COMMAND_OPERATION_ID_ALREADY_EXISTS"
)

// GatewayError is a non-2xx response from the cluster gateway.
type GatewayError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: gateway returned %d %s: %s", e.Operation, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: gateway returned %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Unwrap maps the response onto the remote error taxonomy.
func (e *GatewayError) Unwrap() error {
	switch e.Code {
	case codePartitionNotFound:
		return ErrPartitionNotFound
	case codeServiceNotFound, codeAppNotFound:
		return ErrServiceNotFound
	case codeServiceOffline, codeNoWriteQuorum, codeNotPrimary:
		return ErrServiceOffline
	case codeKeyNotFound:
		return ErrDataLossNotFound
	case codeOperationExists:
		return ErrDataLossExists
	}
	if e.StatusCode == http.StatusServiceUnavailable {
		return ErrServiceOffline
	}
	return nil
}

// IsNotFound reports whether err means the target no longer exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPartitionNotFound) || errors.Is(err, ErrServiceNotFound)
}
