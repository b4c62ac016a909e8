package apihttp

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"telemetry-engine/internal/api/respond"
	latest "telemetry-engine/internal/latest/domain"
	points "telemetry-engine/internal/points/domain"
)

// LatestService is the latest-value cache surface.
type LatestService interface {
	GetLatest(ctx context.Context, systemID int64, logicalPath string) (latest.Entry, bool, error)
	GetAllLatest(ctx context.Context, systemID int64) (map[string]latest.Entry, error)
	Clear(ctx context.Context, systemID int64) error
	ClearAll(ctx context.Context) (int, error)
}

// LatestHandler serves latest values and cache administration.
type LatestHandler struct {
	cache  LatestService
	logger *zap.Logger
}

// NewLatestHandler constructs a handler.
func NewLatestHandler(cache LatestService, logger *zap.Logger) (*LatestHandler, error) {
	if cache == nil {
		return nil, errors.New("latest handler: nil cache")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LatestHandler{cache: cache, logger: logger.Named("http.latest")}, nil
}

// Get handles GET /api/v1/systems/{systemID}/latest[?path=].
func (h *LatestHandler) Get(w http.ResponseWriter, r *http.Request) {
	systemID, err := systemIDVar(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if path := r.URL.Query().Get("path"); path != "" {
		if _, _, ok := points.SplitLogicalPath(path); !ok {
			respond.Error(w, h.logger, &points.ValidationError{Field: "path", Input: path, Reason: "must be stem/metricType"})
			return
		}
		entry, ok, err := h.cache.GetLatest(r.Context(), systemID, path)
		if err != nil {
			respond.Error(w, h.logger, err)
			return
		}
		if !ok {
			respond.JSON(w, http.StatusNotFound, respond.ErrorBody{Error: "no latest value", Field: "path", Input: path})
			return
		}
		respond.JSON(w, http.StatusOK, entry)
		return
	}
	all, err := h.cache.GetAllLatest(r.Context(), systemID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if all == nil {
		all = map[string]latest.Entry{}
	}
	respond.JSON(w, http.StatusOK, all)
}

// ClearSystem handles DELETE /api/v1/cache/latest/{systemID}.
func (h *LatestHandler) ClearSystem(w http.ResponseWriter, r *http.Request) {
	systemID, err := systemIDVar(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if err := h.cache.Clear(r.Context(), systemID); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAll handles DELETE /api/v1/cache/latest.
func (h *LatestHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.ClearAll(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"systemsCleared": n})
}
