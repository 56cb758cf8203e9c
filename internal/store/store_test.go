// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenOnDisk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false

	db, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.RunGC(); err != nil {
		t.Errorf("RunGC: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"in memory without path", func(c *Config) { c.Path = ""; c.InMemory = true }, false},
		{"missing path", func(c *Config) { c.Path = "" }, true},
		{"one compactor", func(c *Config) { c.NumCompactors = 1 }, true},
		{"gc ratio zero", func(c *Config) { c.GCRatio = 0 }, true},
		{"gc ratio one", func(c *Config) { c.GCRatio = 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var cfgErr *ConfigError
			if err != nil && !errors.As(err, &cfgErr) {
				t.Errorf("expected *ConfigError, got %T", err)
			}
		})
	}
}

func TestCollectionCRUD(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := NewCollection[record](db, "records")

	if _, found, err := c.Get(ctx, "a"); err != nil || found {
		t.Fatalf("Get on empty collection: found=%v err=%v", found, err)
	}

	err := db.Update(ctx, func(tx *Tx) error {
		return c.Update(tx, "a", record{Name: "a", Count: 1})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, found, err := c.Get(ctx, "a")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got.Count != 1 {
		t.Errorf("Count = %d, want 1", got.Count)
	}

	err = db.Update(ctx, func(tx *Tx) error {
		return c.Delete(tx, "a")
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.MustGet(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MustGet after delete: expected ErrNotFound, got %v", err)
	}
}

func TestAbortDiscardsWrites(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := NewCollection[record](db, "records")

	tx := db.CreateTransaction()
	if err := c.Update(tx, "a", record{Name: "a"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	committed := false
	tx.OnCommit(func() { committed = true })
	tx.Abort()

	if _, found, _ := c.Get(ctx, "a"); found {
		t.Error("aborted write should not be visible")
	}
	if committed {
		t.Error("OnCommit hook ran for an aborted transaction")
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxDone) {
		t.Errorf("Commit after Abort: expected ErrTxDone, got %v", err)
	}
}

func TestUpdateAbortsOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := NewCollection[record](db, "records")
	boom := errors.New("boom")

	err := db.Update(ctx, func(tx *Tx) error {
		if err := c.Update(tx, "a", record{Name: "a"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, found, _ := c.Get(ctx, "a"); found {
		t.Error("write from failed Update should not be visible")
	}
}

func TestMultiCollectionAtomicity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	left := NewCollection[record](db, "left")
	right := NewCollection[record](db, "right")

	err := db.Update(ctx, func(tx *Tx) error {
		if err := left.Update(tx, "k", record{Name: "l"}); err != nil {
			return err
		}
		return right.Update(tx, "k", record{Name: "r"})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, found, _ := left.Get(ctx, "k"); !found {
		t.Error("left write missing")
	}
	if _, found, _ := right.Get(ctx, "k"); !found {
		t.Error("right write missing")
	}
}

func TestGetForUpdateConflict(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := NewCollection[record](db, "records")

	if err := db.Update(ctx, func(tx *Tx) error {
		return c.Update(tx, "a", record{Name: "a", Count: 1})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	slow := db.CreateTransaction()
	defer slow.Abort()
	cur, _, err := c.GetForUpdate(slow, "a")
	if err != nil {
		t.Fatalf("GetForUpdate: %v", err)
	}

	if err := db.Update(ctx, func(tx *Tx) error {
		return c.Update(tx, "a", record{Name: "a", Count: 10})
	}); err != nil {
		t.Fatalf("concurrent writer: %v", err)
	}

	cur.Count++
	if err := c.Update(slow, "a", cur); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := slow.Commit(); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, _, _ := c.Get(ctx, "a")
	if got.Count != 10 {
		t.Errorf("Count = %d, want 10 (winner's write)", got.Count)
	}
}

func TestGetTxSeesPendingWrites(t *testing.T) {
	db := openTestDB(t)
	c := NewCollection[record](db, "records")

	tx := db.CreateTransaction()
	defer tx.Abort()
	if err := c.Update(tx, "a", record{Name: "a", Count: 3}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, found, err := c.GetTx(tx, "a")
	if err != nil || !found {
		t.Fatalf("GetTx: found=%v err=%v", found, err)
	}
	if got.Count != 3 {
		t.Errorf("Count = %d, want 3", got.Count)
	}
}

func TestListPrefixIsolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	items := NewCollection[record](db, "workitem")
	inProcess := NewCollection[record](db, "workiteminprocess")

	err := db.Update(ctx, func(tx *Tx) error {
		for _, k := range []string{"fabric:/App/Svc", "fabric:/App", "fabric:/Other"} {
			if err := items.Update(tx, k, record{Name: k}); err != nil {
				return err
			}
		}
		return inProcess.Update(tx, "x", record{Name: "x"})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	all, err := items.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d entries, want 3 (must not include workiteminprocess)", len(all))
	}
	if all[0].Key != "fabric:/App" {
		t.Errorf("first key = %q, want fabric:/App (key order)", all[0].Key)
	}

	app, err := items.List(ctx, "fabric:/App")
	if err != nil {
		t.Fatalf("List prefix: %v", err)
	}
	if len(app) != 2 {
		t.Errorf("prefix list returned %d entries, want 2", len(app))
	}

	err = db.View(ctx, func(tx *Tx) error {
		got, err := items.ListTx(ctx, tx, "fabric:/Other")
		if err != nil {
			return err
		}
		if len(got) != 1 {
			t.Errorf("ListTx returned %d entries, want 1", len(got))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestScanTxStopsEarly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := NewCollection[record](db, "records")

	if err := db.Update(ctx, func(tx *Tx) error {
		for _, k := range []string{"1", "2", "3", "4"} {
			if err := c.Update(tx, k, record{Name: k}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx := db.CreateTransaction()
	defer tx.Abort()
	var seen []string
	err := c.ScanTx(ctx, tx, "", func(key string, _ record) (bool, error) {
		seen = append(seen, key)
		return len(seen) < 2, nil
	})
	if err != nil {
		t.Fatalf("ScanTx: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("visited %d keys, want 2", len(seen))
	}
}

func TestClosedStore(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c := NewCollection[record](db, "records")
	if _, _, err := c.Get(context.Background(), "a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get on closed store: expected ErrClosed, got %v", err)
	}
	if err := db.Update(context.Background(), func(*Tx) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Update on closed store: expected ErrClosed, got %v", err)
	}
}

func TestGCLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 10 * time.Millisecond
	db, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	g := NewGCLoop(db)
	g.RunOnce()
	last, err := g.LastRun()
	if err != nil {
		t.Errorf("RunOnce: %v", err)
	}
	if last.IsZero() {
		t.Error("LastRun not recorded")
	}

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !g.IsRunning() {
		t.Error("expected loop to be running")
	}
	time.Sleep(50 * time.Millisecond)
	g.Stop()
	g.Stop()
	if g.IsRunning() {
		t.Error("expected loop to be stopped")
	}
}

func TestGCLoopDisabled(t *testing.T) {
	db := openTestDB(t)
	db.config.GCInterval = 0
	g := NewGCLoop(db)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if g.IsRunning() {
		t.Error("zero interval should leave the loop stopped")
	}
}
