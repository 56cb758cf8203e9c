// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package services

import (
	"context"
	"fmt"
)

// StartStopper is a background worker with a Start/Stop lifecycle.
//
// Satisfied by:
//   - *queue.Dispatcher
//   - *store.GCLoop
//   - *retention.Manager
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// NamedStartStopper is a StartStopper that names itself.
type NamedStartStopper interface {
	StartStopper
	Name() string
}

// workerService adapts a Start/Stop worker to suture's Serve pattern:
// Start, block until the context is cancelled, then Stop and wait.
type workerService struct {
	worker StartStopper
	name   string
}

func (s *workerService) Serve(ctx context.Context) error {
	if err := s.worker.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	<-ctx.Done()
	s.worker.Stop()
	return ctx.Err()
}

func (s *workerService) String() string {
	return s.name
}

// DispatcherService supervises one queue dispatcher.
//
// Stopping the service cancels the dispatcher's context. Items being
// processed at that moment stay in the in-process store and are re-queued
// by queue.RecoverInProcess on the next start.
//
//	main := queue.NewDispatcher(q, env, models.QueueMain)
//	tree.AddQueueService(services.NewDispatcherService(main))
type DispatcherService struct {
	workerService
}

// NewDispatcherService wraps d; the service takes d's name.
func NewDispatcherService(d NamedStartStopper) *DispatcherService {
	return &DispatcherService{workerService{worker: d, name: d.Name()}}
}

// StoreGCService supervises the store's value log GC loop.
type StoreGCService struct {
	workerService
}

// NewStoreGCService wraps loop.
func NewStoreGCService(loop StartStopper) *StoreGCService {
	return &StoreGCService{workerService{worker: loop, name: "store-gc"}}
}

// RetentionService supervises the retention manager. Stopping it disarms
// every policy timer; the next start re-arms them from the retention store.
type RetentionService struct {
	workerService
}

// NewRetentionService wraps m; the service takes m's name.
func NewRetentionService(m NamedStartStopper) *RetentionService {
	return &RetentionService{workerService{worker: m, name: m.Name()}}
}
