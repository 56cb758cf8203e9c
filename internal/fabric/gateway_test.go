// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package fabric

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

const testPartition = "0f5c3b3e-6a0c-4a8e-9d55-2a0b1c9d7e11"

func newTestGateway(t *testing.T, handler http.HandlerFunc) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultGatewayConfig()
	cfg.URL = srv.URL
	cfg.Timeout = 5 * time.Second
	c, err := NewGatewayClient(&cfg)
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}
	return c
}

func writeGatewayError(w http.ResponseWriter, status int, code string) {
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"Error":{"Code":"`+code+`","Message":"test"}}`)
}

func TestGatewayConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		wantErr bool
	}{
		{"defaults", func(*GatewayConfig) {}, false},
		{"relative url", func(c *GatewayConfig) { c.URL = "/gateway" }, true},
		{"ftp url", func(c *GatewayConfig) { c.URL = "ftp://host" }, true},
		{"zero timeout", func(c *GatewayConfig) { c.Timeout = 0 }, true},
		{"negative ttl", func(c *GatewayConfig) { c.TopologyCacheTTL = -time.Second }, true},
		{"bad failure ratio", func(c *GatewayConfig) { c.Breaker.FailureRatio = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGatewayConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetServiceListFollowsContinuation(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Applications/App/$/GetServices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") == "" {
			t.Error("api-version missing")
		}
		if r.URL.Query().Get("ContinuationToken") == "" {
			_, _ = io.WriteString(w, `{"ContinuationToken":"next","Items":[{"Name":"fabric:/App/A","ServiceKind":"Stateful","HasPersistedState":true}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"ContinuationToken":"","Items":[{"Name":"fabric:/App/B","ServiceKind":"Stateless"}]}`)
	})

	services, err := c.GetServiceList(context.Background(), "fabric:/App")
	if err != nil {
		t.Fatalf("GetServiceList: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("got %d services, want 2", len(services))
	}
	if !services[0].IsBackupCandidate() || services[1].IsBackupCandidate() {
		t.Errorf("unexpected backup candidacy: %+v", services)
	}
}

func TestGetPartitionList(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Services/App~Svc/$/GetPartitions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"Items":[{"PartitionInformation":{"Id":"`+testPartition+`"}}]}`)
	})

	partitions, err := c.GetPartitionList(context.Background(), "fabric:/App/Svc")
	if err != nil {
		t.Fatalf("GetPartitionList: %v", err)
	}
	if len(partitions) != 1 || partitions[0].ID != testPartition {
		t.Errorf("unexpected partitions: %+v", partitions)
	}
}

func TestValidatePartitionNotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "no content",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) },
			want:    ErrPartitionNotFound,
		},
		{
			name: "partition error code",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeGatewayError(w, http.StatusNotFound, "FABRIC_E_PARTITION_NOT_FOUND")
			},
			want: ErrPartitionNotFound,
		},
		{
			name: "service gone",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeGatewayError(w, http.StatusNotFound, "FABRIC_E_SERVICE_DOES_NOT_EXIST")
			},
			want: ErrServiceNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestGateway(t, tt.handler)
			err := c.ValidatePartition(context.Background(), "fabric:/App/Svc", testPartition)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !IsNotFound(err) {
				t.Error("IsNotFound should be true")
			}
		})
	}
}

func TestValidatePartitionExists(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"PartitionInformation":{"Id":"`+testPartition+`"}}`)
	})
	if err := c.ValidatePartition(context.Background(), "fabric:/App/Svc", testPartition); err != nil {
		t.Fatalf("ValidatePartition: %v", err)
	}
}

func TestEnableProtectionSendsPolicy(t *testing.T) {
	var got ProtectionPolicy
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/Partitions/"+testPartition+"/$/EnableBackup" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	policy := &ProtectionPolicy{
		Name:              "every30",
		ScheduleKind:      "FrequencyBased",
		FrequencySchedule: &FrequencySchedule{RunFrequencyType: "Minutes", Interval: 30},
		Storage:           BackupStorage{StorageKind: "FileShare", Path: `\\share\backups`},
	}
	if err := c.EnableProtection(context.Background(), "fabric:/App/Svc", testPartition, policy); err != nil {
		t.Fatalf("EnableProtection: %v", err)
	}
	if got.FrequencySchedule == nil || got.FrequencySchedule.Interval != 30 {
		t.Errorf("policy not sent intact: %+v", got)
	}
}

func TestBackupPartitionQuery(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("OperationId") != "op-1" {
			t.Errorf("OperationId = %q", q.Get("OperationId"))
		}
		if q.Get("BackupTimeout") != "2" {
			t.Errorf("BackupTimeout = %q, want 2", q.Get("BackupTimeout"))
		}
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.BackupPartition(context.Background(), "fabric:/App/Svc", testPartition, "op-1", &BackupConfiguration{Timeout: 2 * time.Minute})
	if err != nil {
		t.Fatalf("BackupPartition: %v", err)
	}
}

func TestServiceOfflineMapping(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "try later")
	})
	err := c.DisableProtection(context.Background(), "fabric:/App/Svc", testPartition)
	if !errors.Is(err, ErrServiceOffline) {
		t.Fatalf("expected ErrServiceOffline, got %v", err)
	}
	var gerr *GatewayError
	if !errors.As(err, &gerr) || gerr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected *GatewayError with 503, got %v", err)
	}
	if !strings.Contains(gerr.Message, "try later") {
		t.Errorf("Message = %q", gerr.Message)
	}
}

func TestDataLossProgress(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/$/GetDataLossProgress") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.URL.Path, "/Faults/Services/App~Svc/$/GetPartitions/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"State":"Faulted","InvokeDataLossResult":{"ErrorCode":-2147017729}}`)
	})

	p, err := c.GetPartitionDataLossProgress(context.Background(), "dl-1", "fabric:/App/Svc", testPartition)
	if err != nil {
		t.Fatalf("GetPartitionDataLossProgress: %v", err)
	}
	if p.State != DataLossFaulted || !p.State.Aborted() {
		t.Errorf("State = %q", p.State)
	}
	if p.Result == "" {
		t.Error("expected result to carry the error code")
	}
}

func TestCancelDataLoss(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Faults/$/Cancel" || r.URL.Query().Get("Force") != "false" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.CancelPartitionDataLoss(context.Background(), "dl-1", false); err != nil {
		t.Fatalf("CancelPartitionDataLoss: %v", err)
	}
}

func TestBreakerOpensOnFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultGatewayConfig()
	cfg.URL = srv.URL
	cfg.Breaker.MinRequests = 3
	cfg.Breaker.OpenTimeout = time.Hour
	c, err := NewGatewayClient(&cfg)
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	for i := 0; i < 3; i++ {
		_ = c.DisableProtection(context.Background(), "fabric:/App/Svc", testPartition)
	}
	if c.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", c.State())
	}
	err = c.DisableProtection(context.Background(), "fabric:/App/Svc", testPartition)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeGatewayError(w, http.StatusNotFound, "FABRIC_E_PARTITION_NOT_FOUND")
	}))
	defer srv.Close()

	cfg := DefaultGatewayConfig()
	cfg.URL = srv.URL
	cfg.Breaker.MinRequests = 2
	c, err := NewGatewayClient(&cfg)
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = c.ValidatePartition(context.Background(), "fabric:/App/Svc", testPartition)
	}
	if c.State() != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", c.State())
	}
}

func TestCallerDeadlineDoesNotTripBreaker(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := DefaultGatewayConfig()
	cfg.URL = srv.URL
	cfg.Breaker.MinRequests = 2
	c, err := NewGatewayClient(&cfg)
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}
	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := c.DisableProtection(ctx, "fabric:/App/Svc", testPartition)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("call %d: expected DeadlineExceeded, got %v", i, err)
		}
	}
	if c.State() != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", c.State())
	}
}

func TestNameID(t *testing.T) {
	if got := nameID("fabric:/App/Svc"); got != "App~Svc" {
		t.Errorf("nameID = %q, want App~Svc", got)
	}
	if got := nameID("fabric:/App"); got != "App" {
		t.Errorf("nameID = %q, want App", got)
	}
}
