// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package store

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
)

// GCLoop runs value log garbage collection on a fixed interval.
type GCLoop struct {
	db       *DB
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

// NewGCLoop creates a GC loop for db using its configured GCInterval.
func NewGCLoop(db *DB) *GCLoop {
	return &GCLoop{db: db, interval: db.config.GCInterval}
}

// Start begins the background loop. A zero interval makes Start a no-op.
func (g *GCLoop) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running || g.interval <= 0 {
		g.mu.Unlock()
		return nil
	}
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.running = true
	g.mu.Unlock()

	g.wg.Add(1)
	go g.run()

	logging.Info().Dur("interval", g.interval).Msg("Store GC started")
	return nil
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (g *GCLoop) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.cancel()
	g.running = false
	g.mu.Unlock()

	g.wg.Wait()
	logging.Info().Msg("Store GC stopped")
}

// IsRunning reports whether the loop is active.
func (g *GCLoop) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// LastRun returns when the last pass finished and its error.
func (g *GCLoop) LastRun() (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRun, g.lastErr
}

func (g *GCLoop) run() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.RunOnce()
		}
	}
}

// RunOnce performs a single GC pass.
func (g *GCLoop) RunOnce() {
	start := time.Now()
	err := g.db.RunGC()
	duration := time.Since(start)
	metrics.RecordStoreGC(duration, err)

	g.mu.Lock()
	g.lastRun = time.Now()
	g.lastErr = err
	g.mu.Unlock()

	if err != nil {
		logging.Error().Err(err).Msg("Store GC failed")
		return
	}
	logging.Debug().Dur("duration", duration).Msg("Store GC pass complete")
}
