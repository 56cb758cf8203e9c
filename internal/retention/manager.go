// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package retention deletes expired backups.

Every policy that carries a RetentionPolicy has a timer. When it fires, the
manager finds the partitions whose effective policy is that policy, lists
their recovery points in the policy's destination and deletes the points
older than RetentionDuration, never going below MinimumNumberOfBackups and
never deleting the newest expired full backup or anything newer.

Per-policy progress lives in the retention store, so a pass cut short by a
restart resumes at the next start and a half-deleted recovery point is
finished before anything else.
*/
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/policy"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/store"
)

// errRetired stops a pass whose policy was disarmed while it ran.
var errRetired = errors.New("retention disarmed")

const metaConflictRetries = 3

// Metadata is the retention state of one policy.
type Metadata struct {
	Policy         string                 `json:"policy"`
	Retention      models.RetentionPolicy `json:"retention"`
	LastStart      time.Time              `json:"last_start"`
	LastCompletion time.Time              `json:"last_completion"`
	// InFlight maps a partition ID to the recovery point being deleted.
	InFlight map[string]storage.RecoveryPoint `json:"in_flight,omitempty"`
}

// Manager runs the retention passes of every policy.
type Manager struct {
	config   Config
	db       *store.DB
	resolver *policy.Resolver
	topology fabric.TopologyClient
	opener   storage.Opener
	meta     *store.Collection[Metadata]
	log      zerolog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	due    chan string

	mu      sync.Mutex
	running bool
	timers  map[string]*time.Timer
}

// NewManager builds a manager over the stores in db.
func NewManager(db *store.DB, cfg Config, resolver *policy.Resolver, topology fabric.TopologyClient, opener storage.Opener) *Manager {
	return &Manager{
		config:   cfg,
		db:       db,
		resolver: resolver,
		topology: topology,
		opener:   opener,
		meta:     store.NewCollection[Metadata](db, store.RetentionStore),
		log:      logging.WithComponent("retention"),
		Now:      time.Now,
		timers:   make(map[string]*time.Timer),
	}
}

// Name identifies the manager in the supervisor tree.
func (m *Manager) Name() string {
	return "retention"
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

// Start reconciles the retention store with the policy store, arms a timer
// per policy and starts the loop that runs the passes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.due = make(chan string)
	m.running = true
	m.mu.Unlock()

	if err := m.reconcile(m.ctx); err != nil {
		m.Stop()
		return fmt.Errorf("reconcile retention: %w", err)
	}

	m.wg.Add(1)
	go m.run()

	m.log.Info().Dur("interval", m.config.Interval).Msg("Retention started")
	return nil
}

// Stop disarms every timer and waits for a running pass to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	for name, t := range m.timers {
		t.Stop()
		delete(m.timers, name)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info().Msg("Retention stopped")
}

// IsRunning reports whether the loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Arm records the retention of p and schedules its next pass. A policy
// without retention is disarmed.
func (m *Manager) Arm(ctx context.Context, p *models.BackupPolicy) error {
	if p.Retention == nil {
		return m.Disarm(ctx, p.Name)
	}

	var md Metadata
	err := m.withRetry(ctx, func(tx *store.Tx) error {
		cur, found, err := m.meta.GetForUpdate(tx, p.Name)
		if err != nil {
			return err
		}
		if !found {
			cur = Metadata{Policy: p.Name}
		}
		cur.Retention = *p.Retention
		md = cur
		return m.meta.Update(tx, p.Name, cur)
	})
	if err != nil {
		return err
	}

	m.schedule(p.Name, m.untilNext(md))
	m.log.Info().
		Str("policy", p.Name).
		Dur("retention_duration", p.Retention.RetentionDuration).
		Int("minimum_backups", p.Retention.MinimumNumberOfBackups).
		Msg("Retention armed")
	return nil
}

// Disarm cancels the timer of a policy and drops its retention state.
func (m *Manager) Disarm(ctx context.Context, name string) error {
	m.mu.Lock()
	if t, ok := m.timers[name]; ok {
		t.Stop()
		delete(m.timers, name)
	}
	m.mu.Unlock()

	removed := false
	err := m.withRetry(ctx, func(tx *store.Tx) error {
		_, found, err := m.meta.GetForUpdate(tx, name)
		if err != nil || !found {
			return err
		}
		removed = true
		return m.meta.Delete(tx, name)
	})
	if err != nil {
		return err
	}
	if removed {
		m.log.Info().Str("policy", name).Msg("Retention disarmed")
	}
	return nil
}

// State returns the retention state of a policy.
func (m *Manager) State(ctx context.Context, name string) (Metadata, bool, error) {
	return m.meta.Get(ctx, name)
}

// RunPass prunes every partition of the named policy once and returns how
// many recovery points it deleted. A pass over a policy that no longer
// exists, or no longer has retention, disarms it.
func (m *Manager) RunPass(ctx context.Context, name string) (int, error) {
	md, found, err := m.meta.Get(ctx, name)
	if err != nil || !found {
		return 0, err
	}
	pol, found, err := m.resolver.Policies.Get(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("load policy %q: %w", name, err)
	}
	if !found || pol.Retention == nil {
		return 0, m.Disarm(ctx, name)
	}
	// The stored policy wins over the armed copy when an Arm call was lost.
	md.Retention = *pol.Retention

	start := m.now()
	err = m.updateMeta(ctx, name, func(cur *Metadata) bool {
		cur.Retention = md.Retention
		cur.LastStart = start
		return true
	})
	if errors.Is(err, errRetired) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	pruned, err := m.pass(ctx, &pol, md.Retention, start)
	if errors.Is(err, errRetired) {
		metrics.RecordRetentionPass(pruned, nil)
		return pruned, nil
	}
	metrics.RecordRetentionPass(pruned, err)
	if err != nil {
		m.log.Warn().Err(err).Str("policy", name).Int("pruned", pruned).Msg("Retention pass failed")
		return pruned, err
	}

	if err := m.updateMeta(ctx, name, func(cur *Metadata) bool {
		cur.LastCompletion = m.now()
		return true
	}); err != nil && !errors.Is(err, errRetired) {
		return pruned, err
	}
	m.log.Info().
		Str("policy", name).
		Int("pruned", pruned).
		Dur("duration", m.now().Sub(start)).
		Msg("Retention pass complete")
	return pruned, nil
}

func (m *Manager) pass(ctx context.Context, pol *models.BackupPolicy, rp models.RetentionPolicy, start time.Time) (int, error) {
	parts, err := m.partitionsOf(ctx, pol.Name)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, nil
	}
	bs, err := m.opener.Open(&pol.Storage)
	if err != nil {
		return 0, fmt.Errorf("open destination of %q: %w", pol.Name, err)
	}

	cutoff := start.Add(-rp.RetentionDuration)
	var (
		pruned int
		result *multierror.Error
	)
	for _, part := range parts {
		n, err := m.prunePartition(ctx, bs, pol.Name, part, cutoff, rp.MinimumNumberOfBackups)
		pruned += n
		if errors.Is(err, errRetired) {
			return pruned, err
		}
		if ctx.Err() != nil {
			return pruned, ctx.Err()
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", models.PartitionKey(part.ServiceURI, part.PartitionID), err))
		}
	}
	return pruned, result.ErrorOrNil()
}

type partitionRef struct {
	ServiceURI  string
	PartitionID string
}

// partitionsOf returns the partitions whose effective policy is name.
// Application and service mappings are expanded through the topology.
func (m *Manager) partitionsOf(ctx context.Context, name string) ([]partitionRef, error) {
	var keys []string
	err := m.db.View(ctx, func(tx *store.Tx) error {
		return m.resolver.Mappings.ScanTx(ctx, tx, "", func(key string, bm models.BackupMapping) (bool, error) {
			if bm.BackupPolicyName == name {
				keys = append(keys, key)
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []partitionRef
	add := func(svc, pid string) error {
		key := models.PartitionKey(svc, pid)
		if seen[key] {
			return nil
		}
		seen[key] = true
		bm, err := m.resolver.EffectiveMappingForKey(ctx, key)
		if err != nil {
			return err
		}
		if bm != nil && bm.BackupPolicyName == name {
			out = append(out, partitionRef{ServiceURI: svc, PartitionID: pid})
		}
		return nil
	}

	for _, key := range keys {
		fk, err := models.ParseFabricKey(key)
		if err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("Skipping malformed mapping key")
			continue
		}
		if fk.Level == models.LevelPartition {
			if err := add(fk.Service, fk.PartitionID); err != nil {
				return nil, err
			}
			continue
		}

		services, err := m.topology.GetServiceList(ctx, fk.Application)
		if fabric.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list services of %s: %w", fk.Application, err)
		}
		for _, svc := range services {
			if fk.Level == models.LevelService && svc.Name != fk.Service {
				continue
			}
			if !svc.IsBackupCandidate() {
				continue
			}
			partitions, err := m.topology.GetPartitionList(ctx, svc.Name)
			if fabric.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list partitions of %s: %w", svc.Name, err)
			}
			for _, p := range partitions {
				if err := add(svc.Name, p.ID); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// reconcile creates state for every policy with retention, drops state of
// policies that are gone and arms a timer for each remaining policy.
func (m *Manager) reconcile(ctx context.Context) error {
	policies, err := m.resolver.Policies.List(ctx, "")
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(policies))
	for _, p := range policies {
		if p.Value.Retention == nil {
			continue
		}
		want[p.Key] = true
		if err := m.Arm(ctx, &p.Value); err != nil {
			return err
		}
	}

	states, err := m.meta.List(ctx, "")
	if err != nil {
		return err
	}
	for _, s := range states {
		if want[s.Key] {
			continue
		}
		if err := m.Disarm(ctx, s.Key); err != nil {
			return err
		}
	}
	return nil
}

// untilNext returns the wait before the next pass. A policy that never ran,
// or whose last pass did not complete, is due now.
func (m *Manager) untilNext(md Metadata) time.Duration {
	if md.LastStart.IsZero() || md.LastStart.After(md.LastCompletion) {
		return 0
	}
	interval := m.config.Interval
	if d := md.Retention.RetentionDuration; d > 0 && d < interval {
		interval = d
	}
	return max(md.LastCompletion.Add(interval).Sub(m.now()), 0)
}

// schedule (re)arms the timer of a policy. It does nothing while the
// manager is stopped; Start arms every policy.
func (m *Manager) schedule(name string, after time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if t, ok := m.timers[name]; ok {
		t.Stop()
	}
	ctx, due := m.ctx, m.due
	m.timers[name] = time.AfterFunc(after, func() {
		select {
		case due <- name:
		case <-ctx.Done():
		}
	})
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case name := <-m.due:
			m.runScheduled(m.ctx, name)
		}
	}
}

func (m *Manager) runScheduled(ctx context.Context, name string) {
	_, passErr := m.RunPass(ctx, name)
	if ctx.Err() != nil {
		return
	}
	md, found, err := m.meta.Get(ctx, name)
	if err != nil {
		m.log.Error().Err(err).Str("policy", name).Msg("Failed to read retention state")
		m.schedule(name, m.config.RetryDelay)
		return
	}
	if !found {
		return
	}
	if passErr != nil {
		m.schedule(name, m.config.RetryDelay)
		return
	}
	m.schedule(name, m.untilNext(md))
}

// updateMeta applies fn to the stored state of a policy and writes it back
// when fn reports a change. It returns errRetired when the state is gone.
func (m *Manager) updateMeta(ctx context.Context, name string, fn func(md *Metadata) bool) error {
	return m.withRetry(ctx, func(tx *store.Tx) error {
		md, found, err := m.meta.GetForUpdate(tx, name)
		if err != nil {
			return err
		}
		if !found {
			return errRetired
		}
		if !fn(&md) {
			return nil
		}
		return m.meta.Update(tx, name, md)
	})
}

func (m *Manager) withRetry(ctx context.Context, fn func(tx *store.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := m.db.Update(ctx, fn)
		if !errors.Is(err, store.ErrConflict) || attempt >= metaConflictRetries {
			return err
		}
		metrics.RecordConflict(store.RetentionStore)
	}
}
