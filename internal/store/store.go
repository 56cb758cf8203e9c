// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

// Package store provides the transactional key-value stores every FabricBRS
// component keeps its durable state in.
//
// All stores live in a single BadgerDB instance; each named store is a
// key-prefixed Collection. A Tx spans any number of collections and commits
// atomically, so "update a status and enqueue a work item" or "delete the
// in-process record and enqueue into the retry queue" are all-or-nothing.
//
// # Concurrency
//
// BadgerDB transactions are optimistic (serializable snapshot isolation).
// Every key read inside a read-write Tx joins the transaction's read set;
// if another transaction commits a write to any of those keys first, Commit
// fails with ErrConflict and nothing is applied. GetForUpdate therefore
// behaves like a compare-and-swap precondition rather than a lock: the loser
// of a race aborts instead of blocking.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/tomtom215/fabricbrs/internal/logging"
)

var (
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrConflict is returned by Commit when a concurrent transaction wrote
	// a key this transaction read. The transaction has been discarded.
	ErrConflict = errors.New("transaction conflict")

	// ErrTxDone is returned when a committed or aborted Tx is reused.
	ErrTxDone = errors.New("transaction already finished")

	// ErrNotFound is returned by MustGet when the key does not exist.
	ErrNotFound = errors.New("key not found")
)

// DB is the BadgerDB instance shared by all collections.
type DB struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the BadgerDB described by cfg.
func Open(cfg *Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.NumCompactors = cfg.NumCompactors
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Store opened")

	return &DB{db: db, config: *cfg}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*DB, error) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.Path = ""
	cfg.SyncWrites = false
	return Open(&cfg)
}

// CreateTransaction starts a read-write transaction. The caller must
// Commit or Abort it.
func (d *DB) CreateTransaction() *Tx {
	return &Tx{txn: d.db.NewTransaction(true)}
}

// Update runs fn inside a fresh transaction, committing when fn returns nil
// and aborting otherwise. The returned error is fn's error or the commit
// error (ErrConflict on a lost race).
func (d *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := d.CreateTransaction()
	defer tx.Abort()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// View runs fn against a read-only transaction. Writes made through the Tx
// fail when committed; the transaction is always discarded.
func (d *DB) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &Tx{txn: d.db.NewTransaction(false)}
	defer tx.Abort()
	return fn(tx)
}

// view runs fn in a read-only snapshot.
func (d *DB) view(fn func(txn *badger.Txn) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.db.View(fn)
}

func (d *DB) checkOpen() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// RunGC runs value log garbage collection until nothing is left to rewrite.
func (d *DB) RunGC() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.config.InMemory {
		return nil
	}
	for {
		err := d.db.RunValueLogGC(d.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run value log GC: %w", err)
		}
	}
}

// Close shuts the database down, giving up after CloseTimeout.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	timeout := d.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- d.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Store closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

// Tx is a read-write transaction spanning any number of collections.
type Tx struct {
	txn      *badger.Txn
	done     bool
	onCommit []func()
}

// OnCommit registers fn to run after a successful Commit. Hooks never run
// for aborted or conflicted transactions.
func (t *Tx) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// Commit atomically applies every write made through the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	if err := t.txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("commit: %w", err)
	}
	for _, fn := range t.onCommit {
		fn()
	}
	return nil
}

// Abort discards the transaction. Safe to call after Commit and more than once.
func (t *Tx) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
}

// Done reports whether the transaction has been committed or aborted.
func (t *Tx) Done() bool {
	return t.done
}
