// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/orchestrator"
	"github.com/tomtom215/fabricbrs/internal/queue"
)

// StatusReader answers the read-only queries the API exposes.
type StatusReader interface {
	GetBackupStatus(ctx context.Context, key string) ([]orchestrator.BackupStatusEntry, error)
	GetRestoreStatus(ctx context.Context, key string) ([]orchestrator.RestoreStatusEntry, error)
	GetEffectivePolicyForKey(ctx context.Context, key string) (*orchestrator.EffectivePolicy, error)
	GetPolicy(ctx context.Context, name string) (*models.BackupPolicy, error)
	ListPolicies(ctx context.Context) ([]models.BackupPolicy, error)
}

// Admin carries the operator-facing state changes.
type Admin interface {
	CreatePolicy(ctx context.Context, p *models.BackupPolicy) (*models.BackupPolicy, error)
	UpdatePolicy(ctx context.Context, p *models.BackupPolicy) (*models.BackupPolicy, error)
	DeletePolicy(ctx context.Context, name string) error
	EnableProtection(ctx context.Context, key, policyName string) (*models.BackupMapping, error)
	DisableProtection(ctx context.Context, key string) error
	SuspendProtection(ctx context.Context, key string) error
	ResumeProtection(ctx context.Context, key string) error
	RequestBackup(ctx context.Context, serviceURI, partitionID string, req orchestrator.BackupRequest) (string, error)
	RequestRestore(ctx context.Context, serviceURI, partitionID string, req orchestrator.RestoreRequest) (string, error)
}

// PartitionReports receives the callbacks partitions post while a backup or
// restore runs.
type PartitionReports interface {
	ReportBackupResult(ctx context.Context, serviceURI, partitionID string, result *models.BackupResult) (bool, error)
	ReportRestoreProgress(ctx context.Context, serviceURI, partitionID, requestID string) (bool, error)
	ReportRestoreResult(ctx context.Context, serviceURI, partitionID string, result *models.RestoreResult) (bool, error)
}

// Service is everything the routes call. *orchestrator.Orchestrator
// implements it.
type Service interface {
	StatusReader
	Admin
	PartitionReports
}

// QueueReader reports queue depths.
type QueueReader interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Handler serves the API routes.
type Handler struct {
	svc       Service
	queue     QueueReader
	timeout   time.Duration
	startTime time.Time
}

// NewHandler creates a handler. timeout bounds every store call; zero means
// no bound beyond the request's own context.
func NewHandler(svc Service, q QueueReader, timeout time.Duration) *Handler {
	return &Handler{
		svc:       svc,
		queue:     q,
		timeout:   timeout,
		startTime: time.Now(),
	}
}

// Router builds the chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(prometheusMetrics)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status/backup", h.BackupStatus)
		r.Get("/status/restore", h.RestoreStatus)
		r.Get("/queue/stats", h.QueueStats)
		r.Get("/policies", h.Policies)
		r.Get("/policies/{name}", h.Policy)
		r.Get("/protection/effective", h.EffectiveProtection)

		r.Post("/policies", h.CreatePolicy)
		r.Put("/policies/{name}", h.UpdatePolicy)
		r.Delete("/policies/{name}", h.DeletePolicy)

		r.Post("/protection/enable", h.EnableProtection)
		r.Post("/protection/disable", h.DisableProtection)
		r.Post("/protection/suspend", h.SuspendProtection)
		r.Post("/protection/resume", h.ResumeProtection)

		r.Post("/partitions/backup", h.RequestBackup)
		r.Post("/partitions/restore", h.RequestRestore)

		r.Route("/callbacks", func(r chi.Router) {
			r.Post("/backup-result", h.ReportBackupResult)
			r.Post("/restore-progress", h.ReportRestoreProgress)
			r.Post("/restore-result", h.ReportRestoreResult)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

func (h *Handler) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return r.Context(), func() {}
	}
	return context.WithTimeout(r.Context(), h.timeout)
}
