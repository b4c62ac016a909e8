package apihttp

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"telemetry-engine/internal/api/respond"
	"telemetry-engine/internal/series/application"
	"telemetry-engine/internal/series/filter"
)

// SeriesLister resolves series descriptors.
type SeriesLister interface {
	ListSeries(ctx context.Context, systemID int64, patterns []string, interval string) ([]application.SeriesDescriptor, error)
}

// SeriesHandler serves GET /api/v1/systems/{systemID}/series.
type SeriesHandler struct {
	series SeriesLister
	logger *zap.Logger
}

// NewSeriesHandler constructs a handler.
func NewSeriesHandler(series SeriesLister, logger *zap.Logger) (*SeriesHandler, error) {
	if series == nil {
		return nil, errors.New("series handler: nil resolver")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeriesHandler{series: series, logger: logger.Named("http.series")}, nil
}

// ServeHTTP lists series matching ?filter= and ?interval=.
func (h *SeriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	systemID, err := systemIDVar(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	query := r.URL.Query()
	var patterns []string
	if raw := query.Get("filter"); raw != "" {
		patterns, err = filter.ParsePatterns(raw)
		if err != nil {
			respond.Error(w, h.logger, err)
			return
		}
	}
	list, err := h.series.ListSeries(r.Context(), systemID, patterns, query.Get("interval"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if list == nil {
		list = []application.SeriesDescriptor{}
	}
	respond.JSON(w, http.StatusOK, list)
}
