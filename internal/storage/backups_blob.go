// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// blobStore keeps recovery points as blobs below an optional folder of a
// container.
type blobStore struct {
	container *container.Client
	folder    string
}

func (s *blobStore) RecoveryPoints(ctx context.Context, dir string) ([]RecoveryPoint, error) {
	prefix := joinKey(s.folder, dir) + "/"
	pager := s.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})

	var objects []storedObject
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return nil, fmt.Errorf("%w: %v", ErrDestinationNotFound, err)
			}
			return nil, fmt.Errorf("%w: list %s: %v", ErrDestinationUnreachable, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			o := storedObject{name: s.relative(*item.Name)}
			if item.Properties != nil && item.Properties.LastModified != nil {
				o.modified = item.Properties.LastModified.UTC()
			}
			objects = append(objects, o)
		}
	}
	return collectRecoveryPoints(ctx, dir, objects, s.read), nil
}

func (s *blobStore) Delete(ctx context.Context, rp RecoveryPoint) error {
	for _, name := range rp.Objects {
		_, err := s.container.NewBlobClient(joinKey(s.folder, name)).Delete(ctx, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	return nil
}

func (s *blobStore) read(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.container.NewBlobClient(joinKey(s.folder, name)).DownloadStream(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
}

func (s *blobStore) relative(name string) string {
	if s.folder == "" {
		return name
	}
	return strings.TrimPrefix(name, s.folder+"/")
}
