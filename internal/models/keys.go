// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/fabricbrs/internal/validation"
)

// ErrInvalidFabricKey is returned when a string is not a fabric key.
var ErrInvalidFabricKey = errors.New("invalid fabric key")

// KeyLevel is the granularity of a fabric key.
type KeyLevel int

const (
	LevelApplication KeyLevel = iota + 1
	LevelService
	LevelPartition
)

func (l KeyLevel) String() string {
	switch l {
	case LevelApplication:
		return "Application"
	case LevelService:
		return "Service"
	case LevelPartition:
		return "Partition"
	default:
		return fmt.Sprintf("KeyLevel(%d)", int(l))
	}
}

// FabricKey is a parsed fabric key. Service names may be hierarchical.
//
//	fabric:/App                      application
//	fabric:/App/Svc                  service
//	fabric:/App/Group/Svc            service
//	fabric:/App/Svc/<guid>           partition
//	fabric:/App/Group/Svc/<guid>     partition
type FabricKey struct {
	Level       KeyLevel
	Application string // fabric:/App
	Service     string // fabric:/App/Svc, empty for applications
	PartitionID string // empty unless Level is LevelPartition
}

// String returns the canonical key.
func (k FabricKey) String() string {
	switch k.Level {
	case LevelPartition:
		return PartitionKey(k.Service, k.PartitionID)
	case LevelService:
		return k.Service
	default:
		return k.Application
	}
}

// ParseFabricKey classifies key. The first segment is the application. A
// key of three or more segments whose last segment is a UUID names a
// partition of the service before it; any other multi-segment key names a
// service.
func ParseFabricKey(key string) (FabricKey, error) {
	if !validation.IsFabricURI(key) {
		return FabricKey{}, fmt.Errorf("%w: %q", ErrInvalidFabricKey, key)
	}
	segments := strings.Split(strings.TrimPrefix(key, validation.FabricScheme), "/")
	n := len(segments)

	fk := FabricKey{Application: validation.FabricScheme + segments[0]}
	if n == 1 {
		fk.Level = LevelApplication
		return fk, nil
	}
	if n >= 3 {
		if id, err := uuid.Parse(segments[n-1]); err == nil {
			fk.Level = LevelPartition
			fk.Service = validation.FabricScheme + strings.Join(segments[:n-1], "/")
			fk.PartitionID = id.String()
			return fk, nil
		}
	}
	fk.Level = LevelService
	fk.Service = key
	return fk, nil
}

// PartitionKey is the key of one partition of serviceURI.
func PartitionKey(serviceURI, partitionID string) string {
	return serviceURI + "/" + partitionID
}

// ServiceKey is the key of serviceURI itself.
func ServiceKey(serviceURI string) string {
	return serviceURI
}

// ApplicationKey is the key of the application that owns serviceURI.
func ApplicationKey(serviceURI string) string {
	rest := strings.TrimPrefix(serviceURI, validation.FabricScheme)
	app, _, _ := strings.Cut(rest, "/")
	return validation.FabricScheme + app
}

// HierarchyKeys returns the partition, service and application keys of a
// partition, most specific first.
func HierarchyKeys(serviceURI, partitionID string) []string {
	return []string{
		PartitionKey(serviceURI, partitionID),
		ServiceKey(serviceURI),
		ApplicationKey(serviceURI),
	}
}
