// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthStatus is the body of /healthz.
type HealthStatus struct {
	Status         string  `json:"status"`
	StoreReachable bool    `json:"store_reachable"`
	Uptime         float64 `json:"uptime_seconds"`
}

// Health reports liveness. A store that cannot answer a queue count makes
// the service degraded and the response 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryContext(r)
	defer cancel()

	_, err := h.queue.Stats(ctx)
	health := HealthStatus{
		Status:         "healthy",
		StoreReachable: err == nil,
		Uptime:         time.Since(h.startTime).Seconds(),
	}
	code := http.StatusOK
	if err != nil {
		health.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, &Response{
		Status:   "success",
		Data:     health,
		Metadata: Metadata{Timestamp: time.Now()},
	})
}

// BackupStatus lists backup status below ?key=.
func (h *Handler) BackupStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, ok := requireKey(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	entries, err := h.svc.GetBackupStatus(ctx, key)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, entries, start)
}

// RestoreStatus lists restore status below ?key=.
func (h *Handler) RestoreStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, ok := requireKey(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	entries, err := h.svc.GetRestoreStatus(ctx, key)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, entries, start)
}

// QueueStats reports queue depths.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := h.queryContext(r)
	defer cancel()

	stats, err := h.queue.Stats(ctx)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, stats, start)
}

// Policies lists every backup policy.
func (h *Handler) Policies(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := h.queryContext(r)
	defer cancel()

	policies, err := h.svc.ListPolicies(ctx)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, policies, start)
}

// Policy returns one backup policy by name.
func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := h.queryContext(r)
	defer cancel()

	p, err := h.svc.GetPolicy(ctx, chi.URLParam(r, "name"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, p, start)
}

// EffectiveProtection resolves what applies to ?key= right now.
func (h *Handler) EffectiveProtection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, ok := requireKey(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	eff, err := h.svc.GetEffectivePolicyForKey(ctx, key)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, eff, start)
}

func requireKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, codeInvalidArgument, "query parameter 'key' is required")
		return "", false
	}
	return key, true
}
