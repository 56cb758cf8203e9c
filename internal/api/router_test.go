// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/fabricbrs/internal/metrics"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/orchestrator"
	"github.com/tomtom215/fabricbrs/internal/queue"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/store"
	"github.com/tomtom215/fabricbrs/internal/workitem"
)

const (
	testService   = "fabric:/App/Svc"
	testPartition = "0f4a2c1e-8d3b-4b6a-9e2f-1c7d5a3b9e80"
)

type mockService struct {
	backupErr error
	gotKey    string

	// writeErr is returned by every state-changing call.
	writeErr error
	calls    []string
	policy   *models.BackupPolicy
	backup   orchestrator.BackupRequest
	restore  orchestrator.RestoreRequest
	applied  bool
}

func (m *mockService) record(call, key string) error {
	m.calls = append(m.calls, call)
	m.gotKey = key
	return m.writeErr
}

func (m *mockService) CreatePolicy(_ context.Context, p *models.BackupPolicy) (*models.BackupPolicy, error) {
	m.policy = p
	if err := m.record("CreatePolicy", p.Name); err != nil {
		return nil, err
	}
	out := *p
	out.UniqueID = "7d3f1c2a-5b6e-4f80-9a1b-2c3d4e5f6a7b"
	return &out, nil
}

func (m *mockService) UpdatePolicy(_ context.Context, p *models.BackupPolicy) (*models.BackupPolicy, error) {
	m.policy = p
	if err := m.record("UpdatePolicy", p.Name); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *mockService) DeletePolicy(_ context.Context, name string) error {
	return m.record("DeletePolicy", name)
}

func (m *mockService) EnableProtection(_ context.Context, key, policyName string) (*models.BackupMapping, error) {
	if err := m.record("EnableProtection", key); err != nil {
		return nil, err
	}
	return &models.BackupMapping{ApplicationOrServiceURI: key, BackupPolicyName: policyName}, nil
}

func (m *mockService) DisableProtection(_ context.Context, key string) error {
	return m.record("DisableProtection", key)
}

func (m *mockService) SuspendProtection(_ context.Context, key string) error {
	return m.record("SuspendProtection", key)
}

func (m *mockService) ResumeProtection(_ context.Context, key string) error {
	return m.record("ResumeProtection", key)
}

func (m *mockService) RequestBackup(_ context.Context, serviceURI, partitionID string, req orchestrator.BackupRequest) (string, error) {
	m.backup = req
	if err := m.record("RequestBackup", models.PartitionKey(serviceURI, partitionID)); err != nil {
		return "", err
	}
	return "op-1", nil
}

func (m *mockService) RequestRestore(_ context.Context, serviceURI, partitionID string, req orchestrator.RestoreRequest) (string, error) {
	m.restore = req
	if err := m.record("RequestRestore", models.PartitionKey(serviceURI, partitionID)); err != nil {
		return "", err
	}
	return "restore-1", nil
}

func (m *mockService) ReportBackupResult(_ context.Context, serviceURI, partitionID string, _ *models.BackupResult) (bool, error) {
	err := m.record("ReportBackupResult", models.PartitionKey(serviceURI, partitionID))
	return m.applied, err
}

func (m *mockService) ReportRestoreProgress(_ context.Context, serviceURI, partitionID, _ string) (bool, error) {
	err := m.record("ReportRestoreProgress", models.PartitionKey(serviceURI, partitionID))
	return m.applied, err
}

func (m *mockService) ReportRestoreResult(_ context.Context, serviceURI, partitionID string, _ *models.RestoreResult) (bool, error) {
	err := m.record("ReportRestoreResult", models.PartitionKey(serviceURI, partitionID))
	return m.applied, err
}

func (m *mockService) GetBackupStatus(_ context.Context, key string) ([]orchestrator.BackupStatusEntry, error) {
	m.gotKey = key
	if m.backupErr != nil {
		return nil, m.backupErr
	}
	return []orchestrator.BackupStatusEntry{{Key: key}}, nil
}

func (m *mockService) GetRestoreStatus(_ context.Context, key string) ([]orchestrator.RestoreStatusEntry, error) {
	m.gotKey = key
	return nil, fmt.Errorf("%w: %q", orchestrator.ErrStatusNotFound, key)
}

func (m *mockService) GetEffectivePolicyForKey(_ context.Context, key string) (*orchestrator.EffectivePolicy, error) {
	return &orchestrator.EffectivePolicy{Key: key}, nil
}

func (m *mockService) GetPolicy(_ context.Context, name string) (*models.BackupPolicy, error) {
	return nil, fmt.Errorf("%w: %q", orchestrator.ErrPolicyNotFound, name)
}

func (m *mockService) ListPolicies(context.Context) ([]models.BackupPolicy, error) {
	return []models.BackupPolicy{}, nil
}

type mockQueue struct {
	stats queue.Stats
	err   error
}

func (m *mockQueue) Stats(context.Context) (queue.Stats, error) {
	return m.stats, m.err
}

func serve(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v (body %q)", path, err, rec.Body.String())
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		queueErr   error
		wantCode   int
		wantStatus string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"store closed", store.ErrClosed, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockService{}, &mockQueue{err: tt.queueErr}, time.Second).Router()
			rec, body := serve(t, h, "/healthz")
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			data, ok := body.Data.(map[string]any)
			if !ok {
				t.Fatalf("data = %T, want object", body.Data)
			}
			if data["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", data["status"], tt.wantStatus)
			}
			if rec.Header().Get("X-Request-Id") == "" {
				t.Error("missing X-Request-Id header")
			}
		})
	}
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"missing key", "/v1/status/backup", nil, http.StatusBadRequest, codeInvalidArgument},
		{"invalid key", "/v1/status/backup?key=x", fmt.Errorf("%w: bad", orchestrator.ErrInvalidArgument), http.StatusBadRequest, codeInvalidArgument},
		{"not found", "/v1/status/backup?key=fabric:/App", orchestrator.ErrStatusNotFound, http.StatusNotFound, codeNotFound},
		{"closed", "/v1/status/backup?key=fabric:/App", store.ErrClosed, http.StatusServiceUnavailable, codeUnavailable},
		{"internal", "/v1/status/backup?key=fabric:/App", errors.New("disk on fire"), http.StatusInternalServerError, codeInternal},
		{"restore not found", "/v1/status/restore?key=fabric:/App", nil, http.StatusNotFound, codeNotFound},
		{"policy not found", "/v1/policies/daily", nil, http.StatusNotFound, codeNotFound},
		{"unknown route", "/v1/nope", nil, http.StatusNotFound, codeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockService{backupErr: tt.err}, &mockQueue{}, time.Second).Router()
			rec, body := serve(t, h, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if body.Status != "error" || body.Error == nil {
				t.Fatalf("expected error envelope, got %+v", body)
			}
			if body.Error.Code != tt.wantErr {
				t.Errorf("error code = %s, want %s", body.Error.Code, tt.wantErr)
			}
		})
	}
}

func TestInternalErrorIsNotEchoed(t *testing.T) {
	h := NewHandler(&mockService{backupErr: errors.New("secret path /var/lib/x")}, &mockQueue{}, 0).Router()
	rec, body := serve(t, h, "/v1/status/backup?key=fabric:/App")
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("internal error leaked to client: %s", rec.Body.String())
	}
	if body.Error == nil || body.Error.RequestID == "" {
		t.Fatalf("internal error should carry a request id, got %s", rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-Id"); got != body.Error.RequestID {
		t.Errorf("request id %q does not match header %q", body.Error.RequestID, got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(&mockService{}, &mockQueue{}, 0).Router()
	req := httptest.NewRequest(http.MethodPost, "/v1/queue/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}

func TestQueueStats(t *testing.T) {
	q := &mockQueue{stats: queue.Stats{Main: 3, Retry: 1, InProcess: 2}}
	h := NewHandler(&mockService{}, q, 0).Router()
	rec, body := serve(t, h, "/v1/queue/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	data := body.Data.(map[string]any)
	if data["main"] != float64(3) || data["retry"] != float64(1) || data["in_process"] != float64(2) {
		t.Errorf("unexpected stats: %v", data)
	}
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	h := NewHandler(&mockService{}, &mockQueue{}, 0).Router()
	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/v1/policies/{name}", "404")
	before := testutil.ToFloat64(counter)

	serve(t, h, "/v1/policies/one")
	serve(t, h, "/v1/policies/two")

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("pattern counter delta = %v, want 2", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(&mockService{}, &mockQueue{}, 0).Router()
	serve(t, h, "/healthz")
	rec, _ := serve(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "brs_api_requests_total") {
		t.Error("metrics output missing API request counter")
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("sanitizeLogValue = %q", got)
	}
}

func TestEndToEndStatus(t *testing.T) {
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q := queue.New(db, queue.DefaultConfig())
	env := workitem.NewEnv(db, workitem.DefaultConfig(), nil, nil, nil, q)
	o := orchestrator.New(env, orchestrator.DefaultConfig(), nil)
	ctx := context.Background()

	pol := &models.BackupPolicy{
		Name:                  "hourly",
		MaxIncrementalBackups: 3,
		Schedule: models.Schedule{
			Kind:             models.ScheduleFrequencyBased,
			RunFrequencyType: models.FrequencyHours,
			Interval:         1,
		},
		Storage: storage.Descriptor{
			Kind:      storage.KindFileShare,
			FileShare: &storage.FileShare{Path: "/mnt/backups"},
		},
	}
	if _, err := o.CreatePolicy(ctx, pol); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	if _, err := o.RequestBackup(ctx, testService, testPartition, orchestrator.BackupRequest{}); err != nil {
		t.Fatalf("RequestBackup: %v", err)
	}

	h := NewHandler(o, q, time.Second).Router()

	rec, body := serve(t, h, "/v1/status/backup?key=fabric:/App")
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status code = %d (body %s)", rec.Code, rec.Body.String())
	}
	entries, ok := body.Data.([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one status entry, got %v", body.Data)
	}

	rec, _ = serve(t, h, "/v1/status/restore?key="+models.PartitionKey(testService, testPartition))
	if rec.Code != http.StatusNotFound {
		t.Errorf("restore status code = %d, want 404", rec.Code)
	}

	rec, body = serve(t, h, "/v1/queue/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("queue stats code = %d", rec.Code)
	}
	if body.Data.(map[string]any)["main"] != float64(1) {
		t.Errorf("expected the backup work item queued, got %v", body.Data)
	}

	rec, body = serve(t, h, "/v1/policies/hourly")
	if rec.Code != http.StatusOK {
		t.Fatalf("policy code = %d", rec.Code)
	}
	if body.Data.(map[string]any)["name"] != "hourly" {
		t.Errorf("unexpected policy body %v", body.Data)
	}

	rec, body = serve(t, h, "/v1/protection/effective?key="+testService)
	if rec.Code != http.StatusOK {
		t.Fatalf("effective code = %d", rec.Code)
	}
	if body.Data.(map[string]any)["suspended"] != false {
		t.Errorf("unexpected effective body %v", body.Data)
	}
}
