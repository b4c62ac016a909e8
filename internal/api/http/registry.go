package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"telemetry-engine/internal/api/respond"
	points "telemetry-engine/internal/points/domain"
)

// RegistryBuilder rebuilds subscription entries.
type RegistryBuilder interface {
	Build(ctx context.Context, systemID *int64) error
}

// RegistryHandler serves POST /api/v1/registry/build[?systemId=].
type RegistryHandler struct {
	registry RegistryBuilder
	logger   *zap.Logger
}

// NewRegistryHandler constructs a handler.
func NewRegistryHandler(registry RegistryBuilder, logger *zap.Logger) (*RegistryHandler, error) {
	if registry == nil {
		return nil, errors.New("registry handler: nil registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryHandler{registry: registry, logger: logger.Named("http.registry")}, nil
}

// ServeHTTP rebuilds all entries, or those owned by one composite system.
func (h *RegistryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var scope *int64
	if raw := r.URL.Query().Get("systemId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respond.Error(w, h.logger, &points.ValidationError{Field: "systemId", Input: raw, Reason: "must be a positive integer"})
			return
		}
		scope = &id
	}
	if err := h.registry.Build(r.Context(), scope); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
