// Package apihttp assembles the engine's HTTP surface.
package apihttp

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Routes holds the handlers mounted by NewRouter. Nil entries are not mounted.
type Routes struct {
	Points      *PointHandler
	Series      *SeriesHandler
	Latest      *LatestHandler
	Registry    *RegistryHandler
	Ingest      http.Handler
	Export      http.Handler
	Aggregation AggregationRoutes
	// Ready reports dependency health for /healthz; nil means always ready.
	Ready func(r *http.Request) error
}

// AggregationRoutes are the aggregation trigger endpoints.
type AggregationRoutes struct {
	Day        http.HandlerFunc
	Catchup    http.HandlerFunc
	Last       http.HandlerFunc
	Regenerate http.HandlerFunc
}

// NewRouter mounts the routes behind recovery, compression and access logging.
func NewRouter(routes Routes, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	if routes.Series != nil {
		api.Handle("/systems/{systemID}/series", routes.Series).Methods(http.MethodGet)
	}
	if routes.Latest != nil {
		api.HandleFunc("/systems/{systemID}/latest", routes.Latest.Get).Methods(http.MethodGet)
		api.HandleFunc("/cache/latest", routes.Latest.ClearAll).Methods(http.MethodDelete)
		api.HandleFunc("/cache/latest/{systemID}", routes.Latest.ClearSystem).Methods(http.MethodDelete)
	}
	if routes.Points != nil {
		api.HandleFunc("/systems/{systemID}/points/{pointIndex}", routes.Points.Get).Methods(http.MethodGet)
		api.HandleFunc("/systems/{systemID}/points/{pointIndex}", routes.Points.Patch).Methods(http.MethodPatch)
	}
	if routes.Export != nil {
		api.Handle("/systems/{systemID}/daily.xlsx", routes.Export).Methods(http.MethodGet)
	}
	if routes.Registry != nil {
		api.Handle("/registry/build", routes.Registry).Methods(http.MethodPost)
	}
	agg := routes.Aggregation
	if agg.Day != nil {
		api.HandleFunc("/aggregation/day", agg.Day).Methods(http.MethodPost)
	}
	if agg.Catchup != nil {
		api.HandleFunc("/aggregation/catchup", agg.Catchup).Methods(http.MethodPost)
	}
	if agg.Last != nil {
		api.HandleFunc("/aggregation/last", agg.Last).Methods(http.MethodPost)
	}
	if agg.Regenerate != nil {
		api.HandleFunc("/aggregation/regenerate", agg.Regenerate).Methods(http.MethodPost)
	}
	if routes.Ingest != nil {
		r.Handle("/ingest/readings", routes.Ingest).Methods(http.MethodPost)
	}

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if routes.Ready != nil {
			if err := routes.Ready(req); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	access := zap.NewStdLog(logger.Named("access")).Writer()
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger.Named("recovery"))),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(handlers.CompressHandler(handlers.CombinedLoggingHandler(access, r)))
}
