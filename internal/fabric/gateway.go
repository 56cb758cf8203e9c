// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package fabric

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/metrics"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// GatewayClient implements PartitionClient, FaultClient and TopologyClient
// against the cluster REST gateway. Every call runs through one circuit
// breaker; an open breaker fails fast with gobreaker.ErrOpenState, which the
// retry queue treats like any other transient failure.
type GatewayClient struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[[]byte]
	name       string
}

var (
	_ PartitionClient = (*GatewayClient)(nil)
	_ FaultClient     = (*GatewayClient)(nil)
	_ TopologyClient  = (*GatewayClient)(nil)
)

// NewGatewayClient creates a gateway client from cfg.
func NewGatewayClient(cfg *GatewayConfig) (*GatewayClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := "cluster-gateway"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	breaker := cfg.Breaker
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: breaker.MaxRequests,
		Interval:    breaker.Interval,
		Timeout:     breaker.OpenTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breaker.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= breaker.FailureRatio
			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		// A missing target, or a caller context that was canceled or ran
		// out of time, says nothing about gateway health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				IsNotFound(err) ||
				errors.Is(err, ErrDataLossNotFound) ||
				errors.Is(err, ErrDataLossExists) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &GatewayClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         cb,
		name:       name,
	}, nil
}

// nameID converts "fabric:/App/Svc" into the gateway's "App~Svc" form.
func nameID(uri string) string {
	rest := strings.TrimPrefix(uri, "fabric:/")
	return url.PathEscape(strings.ReplaceAll(rest, "/", "~"))
}

func (c *GatewayClient) execute(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	start := time.Now()
	data, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, op, method, path, query, body)
	})
	metrics.RecordRemoteCall(op, time.Since(start), err)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
			logging.Warn().Err(err).Str("operation", op).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		counts := c.cb.Counts()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(c.name).Set(float64(counts.ConsecutiveFailures))
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(c.name).Set(0)
	return data, nil
}

func (c *GatewayClient) roundTrip(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)
	fullURL := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: read response: %w", op, err)
		}
		return data, nil
	}
	return nil, decodeGatewayError(op, resp)
}

func decodeGatewayError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope struct {
		Error struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
	}
	gerr := &GatewayError{Operation: op, StatusCode: resp.StatusCode}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Code != "" {
		gerr.Code = envelope.Error.Code
		gerr.Message = envelope.Error.Message
	} else {
		gerr.Message = strings.TrimSpace(string(raw))
	}
	return gerr
}

type pagedList[T any] struct {
	ContinuationToken string `json:"ContinuationToken"`
	Items             []T    `json:"Items"`
}

func listAll[T any](ctx context.Context, c *GatewayClient, op, path string) ([]T, error) {
	var (
		out   []T
		token string
	)
	for {
		query := url.Values{}
		if token != "" {
			query.Set("ContinuationToken", token)
		}
		data, err := c.execute(ctx, op, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}
		var page pagedList[T]
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", op, err)
		}
		out = append(out, page.Items...)
		if page.ContinuationToken == "" {
			return out, nil
		}
		token = page.ContinuationToken
	}
}

// GetServiceList lists the services of an application.
func (c *GatewayClient) GetServiceList(ctx context.Context, applicationURI string) ([]ServiceInfo, error) {
	path := "/Applications/" + nameID(applicationURI) + "/$/GetServices"
	return listAll[ServiceInfo](ctx, c, "GetServices", path)
}

type partitionItem struct {
	PartitionInformation struct {
		ID string `json:"Id"`
	} `json:"PartitionInformation"`
}

// GetPartitionList lists the partitions of a service.
func (c *GatewayClient) GetPartitionList(ctx context.Context, serviceURI string) ([]PartitionInfo, error) {
	path := "/Services/" + nameID(serviceURI) + "/$/GetPartitions"
	items, err := listAll[partitionItem](ctx, c, "GetPartitions", path)
	if err != nil {
		return nil, err
	}
	out := make([]PartitionInfo, 0, len(items))
	for _, it := range items {
		out = append(out, PartitionInfo{ID: it.PartitionInformation.ID})
	}
	return out, nil
}

// ValidatePartition checks that the partition still exists. The gateway
// answers 204 No Content for an unknown partition of a known service.
func (c *GatewayClient) ValidatePartition(ctx context.Context, serviceURI, partitionID string) error {
	path := "/Services/" + nameID(serviceURI) + "/$/GetPartitions/" + url.PathEscape(partitionID)
	data, err := c.execute(ctx, "GetPartitionInfo", http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("GetPartitionInfo %s/%s: %w", serviceURI, partitionID, ErrPartitionNotFound)
	}
	return nil
}

// BackupPartition asks the partition to take a backup tagged operationID.
func (c *GatewayClient) BackupPartition(ctx context.Context, _, partitionID, operationID string, cfg *BackupConfiguration) error {
	query := url.Values{}
	query.Set("OperationId", operationID)
	var body any
	if cfg != nil {
		if cfg.Timeout > 0 {
			minutes := int(cfg.Timeout.Round(time.Minute) / time.Minute)
			if minutes < 1 {
				minutes = 1
			}
			query.Set("BackupTimeout", strconv.Itoa(minutes))
		}
		if cfg.Storage != nil {
			body = cfg
		}
	}
	_, err := c.execute(ctx, "Backup", http.MethodPost, "/Partitions/"+url.PathEscape(partitionID)+"/$/Backup", query, body)
	return err
}

// EnableProtection pushes policy to the partition's backup agent.
func (c *GatewayClient) EnableProtection(ctx context.Context, _, partitionID string, policy *ProtectionPolicy) error {
	_, err := c.execute(ctx, "EnableBackup", http.MethodPost, "/Partitions/"+url.PathEscape(partitionID)+"/$/EnableBackup", nil, policy)
	return err
}

// DisableProtection stops periodic backups on the partition.
func (c *GatewayClient) DisableProtection(ctx context.Context, _, partitionID string) error {
	_, err := c.execute(ctx, "DisableBackup", http.MethodPost, "/Partitions/"+url.PathEscape(partitionID)+"/$/DisableBackup", nil, nil)
	return err
}

func faultPartitionPath(serviceURI, partitionID string) string {
	return "/Faults/Services/" + nameID(serviceURI) + "/$/GetPartitions/" + url.PathEscape(partitionID)
}

// InitiatePartitionDataLoss starts a data loss operation with id dataLossID.
func (c *GatewayClient) InitiatePartitionDataLoss(ctx context.Context, dataLossID, serviceURI, partitionID string, mode DataLossMode) error {
	query := url.Values{}
	query.Set("OperationId", dataLossID)
	query.Set("DataLossMode", string(mode))
	_, err := c.execute(ctx, "StartDataLoss", http.MethodPost, faultPartitionPath(serviceURI, partitionID)+"/$/StartDataLoss", query, nil)
	return err
}

type dataLossProgressWire struct {
	State                string `json:"State"`
	InvokeDataLossResult *struct {
		ErrorCode int64 `json:"ErrorCode"`
	} `json:"InvokeDataLossResult"`
}

// GetPartitionDataLossProgress reads the progress of a data loss operation.
func (c *GatewayClient) GetPartitionDataLossProgress(ctx context.Context, dataLossID, serviceURI, partitionID string) (*DataLossProgress, error) {
	query := url.Values{}
	query.Set("OperationId", dataLossID)
	data, err := c.execute(ctx, "GetDataLossProgress", http.MethodGet, faultPartitionPath(serviceURI, partitionID)+"/$/GetDataLossProgress", query, nil)
	if err != nil {
		return nil, err
	}
	var wire dataLossProgressWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("GetDataLossProgress: decode response: %w", err)
	}
	progress := &DataLossProgress{State: DataLossState(wire.State)}
	if wire.InvokeDataLossResult != nil && wire.InvokeDataLossResult.ErrorCode != 0 {
		progress.Result = "error code " + strconv.FormatInt(wire.InvokeDataLossResult.ErrorCode, 10)
	}
	return progress, nil
}

// CancelPartitionDataLoss cancels a running data loss operation.
func (c *GatewayClient) CancelPartitionDataLoss(ctx context.Context, dataLossID string, force bool) error {
	query := url.Values{}
	query.Set("OperationId", dataLossID)
	query.Set("Force", strconv.FormatBool(force))
	_, err := c.execute(ctx, "CancelOperation", http.MethodPost, "/Faults/$/Cancel", query, nil)
	return err
}

// State returns the current circuit breaker state.
func (c *GatewayClient) State() gobreaker.State {
	return c.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
