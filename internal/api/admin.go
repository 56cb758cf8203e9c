// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/orchestrator"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/validation"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// ProtectionRequest names a fabric key and, for enable, the policy to map.
type ProtectionRequest struct {
	Key        string `json:"key" validate:"required,fabricuri"`
	PolicyName string `json:"policy_name,omitempty"`
}

// PartitionRef names one partition. ServiceName may be hierarchical.
type PartitionRef struct {
	ServiceName string `json:"service_name" validate:"required,fabricuri"`
	PartitionID string `json:"partition_id" validate:"required,uuid"`
}

// BackupTrigger is the body of an on-demand backup.
type BackupTrigger struct {
	PartitionRef
	TimeoutSeconds int                 `json:"timeout_seconds,omitempty" validate:"gte=0"`
	Storage        *storage.Descriptor `json:"storage,omitempty"`
}

// RestoreTrigger is the body of an on-demand restore.
type RestoreTrigger struct {
	PartitionRef
	BackupID       string `json:"backup_id" validate:"required,uuid"`
	BackupLocation string `json:"backup_location" validate:"required"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" validate:"gte=0"`
	DataLossMode   string `json:"data_loss_mode,omitempty" validate:"omitempty,oneof=PartialDataLoss FullDataLoss"`
}

// BackupReport is the body a partition posts when a backup finishes.
type BackupReport struct {
	PartitionRef
	Result models.BackupResult `json:"result"`
}

// RestoreProgressReport is the body a partition posts when it starts
// restoring.
type RestoreProgressReport struct {
	PartitionRef
	RestoreRequestGUID string `json:"restore_request_guid" validate:"required,uuid"`
}

// RestoreReport is the body a partition posts when a restore finishes.
type RestoreReport struct {
	PartitionRef
	Result models.RestoreResult `json:"result"`
}

// Accepted answers a request that queued work.
type Accepted struct {
	OperationID string `json:"operation_id"`
}

// Applied answers a partition report. A report for a superseded or finished
// request is acknowledged with Applied false.
type Applied struct {
	Applied bool `json:"applied"`
}

// decodeBody reads a bounded JSON body into dst and validates it. It writes
// the 400 response itself and reports false when the body is unusable.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, codeInvalidArgument, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, codeInvalidArgument, "unreadable request body")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidArgument, "malformed JSON body")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		respondError(w, http.StatusBadRequest, codeInvalidArgument, verr.Error())
		return false
	}
	return true
}

func respondWritten(w http.ResponseWriter, status int, data any, start time.Time) {
	respondJSON(w, status, &Response{
		Status: "success",
		Data:   data,
		Metadata: Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// CreatePolicy stores a new backup policy.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var p models.BackupPolicy
	if !decodeBody(w, r, &p) {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	created, err := h.svc.CreatePolicy(ctx, &p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusCreated, created, start)
}

// UpdatePolicy replaces the content of the policy named in the path.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var p models.BackupPolicy
	if !decodeBody(w, r, &p) {
		return
	}
	if name := chi.URLParam(r, "name"); p.Name != name {
		respondError(w, http.StatusBadRequest, codeInvalidArgument,
			fmt.Sprintf("body names policy %q, path names %q", p.Name, name))
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	updated, err := h.svc.UpdatePolicy(ctx, &p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusOK, updated, start)
}

// DeletePolicy removes an unmapped policy.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := h.queryContext(r)
	defer cancel()

	if err := h.svc.DeletePolicy(ctx, chi.URLParam(r, "name")); err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusOK, nil, start)
}

// EnableProtection maps a policy onto a key.
func (h *Handler) EnableProtection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req ProtectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PolicyName == "" {
		respondError(w, http.StatusBadRequest, codeInvalidArgument, "policy_name is required")
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	m, err := h.svc.EnableProtection(ctx, req.Key, req.PolicyName)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusOK, m, start)
}

// keyAction serves disable, suspend and resume, which all take only a key.
func (h *Handler) keyAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, key string) error) {
	start := time.Now()
	var req ProtectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	if err := fn(ctx, req.Key); err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusOK, nil, start)
}

// DisableProtection removes the mapping on a key.
func (h *Handler) DisableProtection(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.svc.DisableProtection)
}

// SuspendProtection stops scheduled backups below a key.
func (h *Handler) SuspendProtection(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.svc.SuspendProtection)
}

// ResumeProtection lifts a suspension.
func (h *Handler) ResumeProtection(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.svc.ResumeProtection)
}

// RequestBackup queues an on-demand backup and answers 202.
func (h *Handler) RequestBackup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req BackupTrigger
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	id, err := h.svc.RequestBackup(ctx, req.ServiceName, req.PartitionID, orchestrator.BackupRequest{
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
		Storage: req.Storage,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusAccepted, Accepted{OperationID: id}, start)
}

// RequestRestore queues an on-demand restore and answers 202.
func (h *Handler) RequestRestore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req RestoreTrigger
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	id, err := h.svc.RequestRestore(ctx, req.ServiceName, req.PartitionID, orchestrator.RestoreRequest{
		BackupID:       req.BackupID,
		BackupLocation: req.BackupLocation,
		Timeout:        time.Duration(req.TimeoutSeconds) * time.Second,
		DataLossMode:   fabric.DataLossMode(req.DataLossMode),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusAccepted, Accepted{OperationID: id}, start)
}

// ReportBackupResult records the outcome a partition posts for a backup.
func (h *Handler) ReportBackupResult(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req BackupReport
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	applied, err := h.svc.ReportBackupResult(ctx, req.ServiceName, req.PartitionID, &req.Result)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusOK, Applied{Applied: applied}, start)
}

// ReportRestoreProgress records that a partition started restoring.
func (h *Handler) ReportRestoreProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req RestoreProgressReport
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	applied, err := h.svc.ReportRestoreProgress(ctx, req.ServiceName, req.PartitionID, req.RestoreRequestGUID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusOK, Applied{Applied: applied}, start)
}

// ReportRestoreResult records the outcome a partition posts for a restore.
func (h *Handler) ReportRestoreResult(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req RestoreReport
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.queryContext(r)
	defer cancel()

	applied, err := h.svc.ReportRestoreResult(ctx, req.ServiceName, req.PartitionID, &req.Result)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondWritten(w, http.StatusOK, Applied{Applied: applied}, start)
}
