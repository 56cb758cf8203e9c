// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/workitem"
)

// Processing outcomes, used as metric labels.
const (
	outcomeCompleted   = "completed"
	outcomeRetried     = "retried"
	outcomeDropped     = "dropped"
	outcomeInterrupted = "interrupted"
)

// Dispatcher drains one queue: on every tick it claims as many due items as
// it has idle workers and runs each through workitem.Process. A tick never
// waits for earlier items, so a long-polling backup or restore only holds
// its own worker.
type Dispatcher struct {
	queue    *Queue
	env      *workitem.Env
	runType  models.QueueRunType
	interval time.Duration
	workers  int
	batch    int
	limiter  *rate.Limiter

	// slots holds one token per busy worker.
	slots    chan struct{}
	inflight sync.WaitGroup

	// Control
	ctx    context.Context
	cancel context.CancelFunc

	// State - all protected by mu
	mu       sync.Mutex
	running  bool
	stopping bool          // true while Stop() is waiting for goroutine
	stopDone chan struct{} // closed when Stop() completes
}

// NewDispatcher creates a dispatcher for the runType queue of q.
func NewDispatcher(q *Queue, env *workitem.Env, runType models.QueueRunType) *Dispatcher {
	cfg := q.Config()
	interval := cfg.PollInterval
	if runType == models.QueueRetry {
		interval = cfg.RetryPollInterval
	}
	limit := rate.Inf
	if cfg.DequeueRate > 0 {
		limit = rate.Limit(cfg.DequeueRate)
	}
	return &Dispatcher{
		queue:    q,
		env:      env,
		runType:  runType,
		interval: interval,
		workers:  cfg.Workers,
		batch:    cfg.DequeueBatch,
		limiter:  rate.NewLimiter(limit, cfg.DequeueBatch),
		slots:    make(chan struct{}, cfg.Workers),
	}
}

// Name identifies the dispatcher in logs and the supervisor tree.
func (d *Dispatcher) Name() string {
	return fmt.Sprintf("%s-dispatcher", d.runType)
}

// Start begins the dispatch loop.
// It will run until Stop is called or the context is canceled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()

	// Wait for any in-progress Stop() to complete
	for d.stopping {
		stopDone := d.stopDone
		d.mu.Unlock()
		<-stopDone
		d.mu.Lock()
	}

	if d.running {
		d.mu.Unlock()
		return nil
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.running = true
	d.stopDone = make(chan struct{})

	loopCtx := d.ctx
	done := d.stopDone

	d.mu.Unlock()

	go d.run(loopCtx, done)

	logging.Info().
		Str("queue", string(d.runType)).
		Dur("interval", d.interval).
		Int("workers", d.workers).
		Msg("Work item dispatcher started")
	return nil
}

// Stop cancels in-flight work and waits for the loop to exit. Items that
// were interrupted stay in process and are recovered on the next start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running || d.stopping {
		d.mu.Unlock()
		return
	}

	d.cancel()
	d.running = false
	d.stopping = true
	stopDone := d.stopDone
	d.mu.Unlock()

	<-stopDone

	d.mu.Lock()
	d.stopping = false
	d.mu.Unlock()

	logging.Info().Str("queue", string(d.runType)).Msg("Work item dispatcher stopped")
}

// IsRunning returns whether the dispatch loop is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer d.Wait()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Str("queue", string(d.runType)).Msg("Dispatch pass failed")
			}
		}
	}
}

// RunOnce claims due items up to the number of idle workers and starts
// processing them. It does not wait for them; use Wait for that. It returns
// the number of items claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	idle := cap(d.slots) - len(d.slots)
	if idle <= 0 {
		return 0, nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	leases, err := d.queue.Dequeue(ctx, d.runType, min(idle, d.batch))
	if len(leases) == 0 {
		return 0, err
	}
	if n := len(leases) - 1; n > 0 {
		// The first token was taken above.
		if werr := d.limiter.WaitN(ctx, min(n, d.batch)); werr != nil {
			logging.Debug().Err(werr).Msg("Dequeue limiter wait interrupted")
		}
	}

	for i := range leases {
		lease := leases[i]
		d.slots <- struct{}{}
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			defer func() { <-d.slots }()
			d.handle(ctx, &lease)
		}()
	}
	return len(leases), err
}

// Busy returns the number of items being processed.
func (d *Dispatcher) Busy() int {
	return len(d.slots)
}

// Wait blocks until every item started by RunOnce has been settled.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// handle runs one attempt of a claimed item and settles it.
func (d *Dispatcher) handle(ctx context.Context, lease *Lease) {
	item := lease.Item
	kind := string(item.Kind)
	ctx = logging.ContextWithWorkItem(logging.ContextWithNewCorrelationID(ctx), item.ID, kind)
	log := logging.Ctx(ctx)

	metrics.TrackInProcess(true)
	defer metrics.TrackInProcess(false)

	start := time.Now()
	done, err := workitem.Process(ctx, d.env, item)
	elapsed := time.Since(start)

	// Settle with a context that survives shutdown so a finished item is
	// not processed twice.
	settleCtx := context.WithoutCancel(ctx)

	var outcome string
	var settleErr error
	switch {
	case err == nil && done:
		outcome = outcomeCompleted
		settleErr = d.queue.Complete(settleCtx, item.ID)
	case errors.Is(err, workitem.ErrPermanent):
		outcome = outcomeDropped
		settleErr = d.queue.Drop(settleCtx, item.ID, err)
	case ctx.Err() != nil:
		outcome = outcomeInterrupted
		log.Info().Msg("Work item interrupted by shutdown, left in process")
	default:
		if err == nil {
			err = errors.New("work item not finished")
		}
		outcome = outcomeRetried
		settleErr = d.queue.ProcessFailureHandle(settleCtx, item.ID, err)
	}

	metrics.RecordProcessed(kind, outcome, elapsed)
	if settleErr != nil {
		log.Error().Err(settleErr).Str("outcome", outcome).Msg("Failed to settle work item")
		return
	}
	log.Debug().Str("outcome", outcome).Dur("elapsed", elapsed).Int("attempts", lease.Info.Attempts).Msg("Work item processed")
}
