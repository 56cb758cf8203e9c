// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/fabricbrs/internal/validation"
)

// Layout of a partition's backups below a destination root:
//
//	<App>/<Svc>/<PartitionID>/<2006-01-02 15.04.05>.bkmetadata
//	<App>/<Svc>/<PartitionID>/<2006-01-02 15.04.05>.zip
//	<App>/<Svc>/<PartitionID>/<2006-01-02 15.04.05>/...    unzipped backups
//
// Nested service names have their slashes replaced by '$'.
const (
	MetadataExt      = ".bkmetadata"
	zipExt           = ".zip"
	BackupTimeLayout = "2006-01-02 15.04.05"
	maxMetadataBytes = 1 << 20
)

// RecoveryPoint is one backup of a partition as found in storage.
type RecoveryPoint struct {
	// Name is the timestamped base name shared by the point's objects.
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
	// Full is false for incremental backups and for points whose metadata
	// could not be read.
	Full bool `json:"full"`
	// Objects are the store-relative names making up the point. The
	// metadata object is last.
	Objects []string `json:"objects"`
}

// BackupStore lists and deletes the recovery points kept in a destination.
type BackupStore interface {
	// RecoveryPoints returns the points directly below dir, oldest first.
	RecoveryPoints(ctx context.Context, dir string) ([]RecoveryPoint, error)
	// Delete removes every object of rp. Objects already gone are ignored.
	Delete(ctx context.Context, rp RecoveryPoint) error
}

// Opener opens the backup store behind a destination.
type Opener interface {
	Open(d *Descriptor) (BackupStore, error)
}

var _ Opener = (*DestinationChecker)(nil)

// Open returns the backup store behind d.
func (p *DestinationChecker) Open(d *Descriptor) (BackupStore, error) {
	switch d.Kind {
	case KindFileShare:
		return newFileStore(d.FileShare)
	case KindAzureBlob, KindManagedAzureBlob:
		client, containerName, err := p.blobService(d)
		if err != nil {
			return nil, err
		}
		folder := ""
		if d.AzureBlob != nil {
			folder = d.AzureBlob.FolderPath
		} else {
			folder = d.ManagedAzureBlob.FolderPath
		}
		return &blobStore{container: client.NewContainerClient(containerName), folder: strings.Trim(folder, "/")}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}
}

// PartitionDir is the directory of a partition's backups relative to the
// destination root.
func PartitionDir(serviceURI, partitionID string) string {
	rest := strings.TrimPrefix(serviceURI, validation.FabricScheme)
	app, svc, _ := strings.Cut(rest, "/")
	return app + "/" + strings.ReplaceAll(svc, "/", "$") + "/" + partitionID
}

// recoveryPointMetadata is the JSON body of a .bkmetadata object.
type recoveryPointMetadata struct {
	BackupID       string    `json:"BackupId"`
	ParentBackupID string    `json:"ParentBackupId"`
	BackupChainID  string    `json:"BackupChainId"`
	BackupTime     time.Time `json:"BackupTime"`
}

type storedObject struct {
	name     string
	modified time.Time
}

// collectRecoveryPoints groups the objects listed below dir into recovery
// points. read loads a metadata object.
func collectRecoveryPoints(ctx context.Context, dir string, objects []storedObject, read func(ctx context.Context, name string) ([]byte, error)) []RecoveryPoint {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	names := make(map[string]bool, len(objects))
	for _, o := range objects {
		names[o.name] = true
	}

	var points []RecoveryPoint
	for _, o := range objects {
		rel := strings.TrimPrefix(o.name, prefix)
		if rel == o.name || strings.Contains(rel, "/") || !strings.HasSuffix(rel, MetadataExt) {
			continue
		}
		base := strings.TrimSuffix(rel, MetadataExt)
		rp := RecoveryPoint{Name: base, Created: o.modified}

		if created, err := time.ParseInLocation(BackupTimeLayout, base, time.UTC); err == nil {
			rp.Created = created
		}
		if data, err := read(ctx, o.name); err == nil {
			var meta recoveryPointMetadata
			if json.Unmarshal(data, &meta) == nil {
				rp.Full = meta.ParentBackupID == "" || meta.ParentBackupID == uuid.Nil.String()
				if !meta.BackupTime.IsZero() && rp.Created.Equal(o.modified) {
					rp.Created = meta.BackupTime.UTC()
				}
			}
		}

		if zip := prefix + base + zipExt; names[zip] {
			rp.Objects = append(rp.Objects, zip)
		}
		folder := prefix + base + "/"
		for _, other := range objects {
			if strings.HasPrefix(other.name, folder) {
				rp.Objects = append(rp.Objects, other.name)
			}
		}
		rp.Objects = append(rp.Objects, o.name)
		points = append(points, rp)
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].Created.Equal(points[j].Created) {
			return points[i].Name < points[j].Name
		}
		return points[i].Created.Before(points[j].Created)
	})
	return points
}

// joinKey joins store-relative path elements with forward slashes.
func joinKey(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}
