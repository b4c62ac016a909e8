// Package respond writes JSON bodies and maps domain errors to HTTP statuses.
package respond

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	latest "telemetry-engine/internal/latest/domain"
	points "telemetry-engine/internal/points/domain"
	"telemetry-engine/internal/series/filter"
)

// ErrorBody is the JSON error payload.
type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Input string `json:"input,omitempty"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Status maps an error to its HTTP status.
func Status(err error) int {
	var pattern *filter.PatternError
	switch {
	case points.IsValidation(err), errors.As(err, &pattern), errors.Is(err, points.ErrInvalidSystemID), errors.Is(err, points.ErrEmptyPhysicalPath):
		return http.StatusBadRequest
	case errors.Is(err, points.ErrPointNotFound), errors.Is(err, points.ErrSystemNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, latest.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusServiceUnavailable
	}
}

// Error writes err as JSON. Validation errors echo the rejected input.
func Error(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := Status(err)
	body := ErrorBody{Error: err.Error()}
	var validation *points.ValidationError
	if errors.As(err, &validation) {
		body.Field = validation.Field
		body.Input = validation.Input
	}
	var pattern *filter.PatternError
	if errors.As(err, &pattern) {
		body.Field = "filter"
		body.Input = pattern.Pattern
	}
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	JSON(w, status, body)
}

// BadRequest writes a plain 400.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, ErrorBody{Error: message})
}
