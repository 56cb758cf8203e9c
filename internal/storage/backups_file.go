// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// fileStore keeps recovery points below a locally mounted share.
type fileStore struct {
	root string
}

func newFileStore(share *FileShare) (*fileStore, error) {
	if share == nil {
		return nil, fmt.Errorf("%w: missing file_share block", ErrDestinationNotFound)
	}
	if strings.HasPrefix(share.Path, `\\`) || !filepath.IsAbs(share.Path) {
		return nil, fmt.Errorf("%w: %s is not mounted locally", ErrDestinationUnreachable, share.Path)
	}
	return &fileStore{root: share.Path}, nil
}

func (s *fileStore) RecoveryPoints(ctx context.Context, dir string) ([]RecoveryPoint, error) {
	base := filepath.Join(s.root, filepath.FromSlash(dir))
	var objects []storedObject
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		objects = append(objects, storedObject{name: filepath.ToSlash(rel), modified: info.ModTime().UTC()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDestinationUnreachable, base, err)
	}
	return collectRecoveryPoints(ctx, dir, objects, s.read), nil
}

func (s *fileStore) Delete(ctx context.Context, rp RecoveryPoint) error {
	for _, name := range rp.Objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(name))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	// An unzipped point leaves its empty directory tree behind.
	if len(rp.Objects) > 0 {
		dir := filepath.Dir(filepath.Join(s.root, filepath.FromSlash(rp.Objects[len(rp.Objects)-1])))
		if err := os.RemoveAll(filepath.Join(dir, rp.Name)); err != nil {
			return fmt.Errorf("delete %s: %w", rp.Name, err)
		}
	}
	return nil
}

func (s *fileStore) read(_ context.Context, name string) ([]byte, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxMetadataBytes))
}
