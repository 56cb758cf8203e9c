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
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/orchestrator"
	"github.com/tomtom215/fabricbrs/internal/store"
)

// Error codes.
const (
	codeInvalidArgument = "INVALID_ARGUMENT"
	codeNotFound        = "NOT_FOUND"
	codeConflict        = "CONFLICT"
	codeUnavailable     = "SERVICE_UNAVAILABLE"
	codeInternal        = "INTERNAL_ERROR"
)

// Response is the envelope of every JSON body.
type Response struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is a machine-readable error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RequestID matches the correlation_id of the server-side log entry.
	RequestID string `json:"request_id,omitempty"`
}

// sanitizeLogValue escapes control characters so request input cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func respondJSON(w http.ResponseWriter, status int, response *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondData(w http.ResponseWriter, data any, start time.Time) {
	respondJSON(w, http.StatusOK, &Response{
		Status: "success",
		Data:   data,
		Metadata: Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &Response{
		Status:   "error",
		Metadata: Metadata{Timestamp: time.Now()},
		Error:    &APIError{Code: code, Message: message},
	})
}

// respondErr maps a domain error onto a status code. Internal failures are
// logged and their text is not echoed to the client.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
	case errors.Is(err, orchestrator.ErrStatusNotFound),
		errors.Is(err, orchestrator.ErrPolicyNotFound),
		errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrProtectionNotEnabled):
		respondError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrPolicyExists),
		errors.Is(err, orchestrator.ErrPolicyInUse),
		errors.Is(err, orchestrator.ErrAlreadySuspended),
		errors.Is(err, orchestrator.ErrNotSuspended),
		errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, store.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, codeUnavailable, "service is shutting down or timed out")
	default:
		logging.Ctx(r.Context()).Error().
			Str("path", sanitizeLogValue(r.URL.Path)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API request failed")
		respondJSON(w, http.StatusInternalServerError, &Response{
			Status:   "error",
			Metadata: Metadata{Timestamp: time.Now()},
			Error: &APIError{
				Code:      codeInternal,
				Message:   "internal error",
				RequestID: logging.CorrelationIDFromContext(r.Context()),
			},
		})
	}
}
