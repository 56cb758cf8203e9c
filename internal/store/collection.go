// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Names of the durable stores.
const (
	BackupMappingStore         = "backupmapping"
	BackupPolicyStore          = "backuppolicy"
	BackupPartitionStatusStore = "backuppartitionstatus"
	RestoreStatusStore         = "restorestatus"
	RetentionStore             = "retention"
	SuspendStatusStore         = "suspendstatus"
	WorkItemStore              = "workitem"
	WorkItemInProcessStore     = "workiteminprocess"
	WorkItemQueueStore         = "workitemqueue"
)

// Collection is a named, typed map from string keys to JSON-encoded values.
type Collection[V any] struct {
	db     *DB
	name   string
	prefix string
}

// Pair is a key/value read from a collection.
type Pair[V any] struct {
	Key   string
	Value V
}

// NewCollection binds a typed collection to db under name.
func NewCollection[V any](db *DB, name string) *Collection[V] {
	return &Collection[V]{
		db:     db,
		name:   name,
		prefix: name + "/",
	}
}

// Name returns the store name.
func (c *Collection[V]) Name() string {
	return c.name
}

func (c *Collection[V]) key(k string) []byte {
	return []byte(c.prefix + k)
}

// Get reads key from a consistent snapshot outside any transaction.
func (c *Collection[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var (
		v     V
		found bool
	)
	if err := ctx.Err(); err != nil {
		return v, false, err
	}
	err := c.db.view(func(txn *badger.Txn) error {
		var err error
		v, found, err = c.read(txn, key)
		return err
	})
	return v, found, err
}

// MustGet is Get that reports a missing key as ErrNotFound.
func (c *Collection[V]) MustGet(ctx context.Context, key string) (V, error) {
	v, found, err := c.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if !found {
		return v, fmt.Errorf("%s %q: %w", c.name, key, ErrNotFound)
	}
	return v, nil
}

// GetTx reads key inside tx, observing the transaction's own pending writes.
func (c *Collection[V]) GetTx(tx *Tx, key string) (V, bool, error) {
	var zero V
	if tx.done {
		return zero, false, ErrTxDone
	}
	return c.read(tx.txn, key)
}

// GetForUpdate reads key inside tx with the intent to write it. The key joins
// the read set, so a concurrent committed write makes tx.Commit return
// ErrConflict.
func (c *Collection[V]) GetForUpdate(tx *Tx, key string) (V, bool, error) {
	return c.GetTx(tx, key)
}

func (c *Collection[V]) read(txn *badger.Txn, key string) (V, bool, error) {
	var v V
	item, err := txn.Get(c.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("%s: get %q: %w", c.name, key, err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	if err != nil {
		return v, false, fmt.Errorf("%s: decode %q: %w", c.name, key, err)
	}
	return v, true, nil
}

// Update writes value at key inside tx.
func (c *Collection[V]) Update(tx *Tx, key string, value V) error {
	if tx.done {
		return ErrTxDone
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: encode %q: %w", c.name, key, err)
	}
	if err := tx.txn.Set(c.key(key), data); err != nil {
		return fmt.Errorf("%s: set %q: %w", c.name, key, err)
	}
	return nil
}

// Delete removes key inside tx. Deleting a missing key is not an error.
func (c *Collection[V]) Delete(tx *Tx, key string) error {
	if tx.done {
		return ErrTxDone
	}
	if err := tx.txn.Delete(c.key(key)); err != nil {
		return fmt.Errorf("%s: delete %q: %w", c.name, key, err)
	}
	return nil
}

// List returns every entry whose key starts with keyPrefix, in key order,
// from a consistent snapshot.
func (c *Collection[V]) List(ctx context.Context, keyPrefix string) ([]Pair[V], error) {
	var out []Pair[V]
	err := c.db.view(func(txn *badger.Txn) error {
		return c.scan(ctx, txn, keyPrefix, func(key string, v V) (bool, error) {
			out = append(out, Pair[V]{Key: key, Value: v})
			return true, nil
		})
	})
	return out, err
}

// ListTx is List inside tx.
func (c *Collection[V]) ListTx(ctx context.Context, tx *Tx, keyPrefix string) ([]Pair[V], error) {
	var out []Pair[V]
	err := c.ScanTx(ctx, tx, keyPrefix, func(key string, v V) (bool, error) {
		out = append(out, Pair[V]{Key: key, Value: v})
		return true, nil
	})
	return out, err
}

// ScanTx iterates entries under keyPrefix in key order inside tx until fn
// returns false. Every visited key joins the read set of tx.
func (c *Collection[V]) ScanTx(ctx context.Context, tx *Tx, keyPrefix string, fn func(key string, v V) (bool, error)) error {
	if tx.done {
		return ErrTxDone
	}
	return c.scan(ctx, tx.txn, keyPrefix, fn)
}

func (c *Collection[V]) scan(ctx context.Context, txn *badger.Txn, keyPrefix string, fn func(key string, v V) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = c.key(keyPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		key := strings.TrimPrefix(string(item.Key()), c.prefix)

		var v V
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return fmt.Errorf("%s: decode %q: %w", c.name, key, err)
		}

		more, err := fn(key, v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
