package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/api/respond"
	points "telemetry-engine/internal/points/domain"
	"telemetry-engine/internal/telemetry/application"
)

// Ingester is the ingest use case.
type Ingester interface {
	Ingest(ctx context.Context, batch application.Batch) (application.Result, error)
}

// Handler accepts reading batches from vendor adapters.
type Handler struct {
	app    Ingester
	logger *zap.Logger
}

// NewHandler constructs an ingest handler.
func NewHandler(app Ingester, logger *zap.Logger) (*Handler, error) {
	if app == nil {
		return nil, errors.New("ingest handler: nil ingester")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{app: app, logger: logger.Named("http.ingest")}, nil
}

// ServeHTTP ingests one batch.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("read body error", zap.Error(err))
		respond.BadRequest(w, "read body error")
		return
	}
	defer r.Body.Close()

	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn("decode error", zap.Error(err))
		respond.BadRequest(w, "invalid json")
		return
	}

	batch, err := req.toBatch()
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	res, err := h.app.Ingest(r.Context(), batch)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

type batchRequest struct {
	SystemID   int64           `json:"systemId"`
	ReceivedAt int64           `json:"receivedAt"`
	Samples    []sampleRequest `json:"samples"`
}

type sampleRequest struct {
	Path        string   `json:"path"`
	TS          int64    `json:"ts"`
	Value       *float64 `json:"value"`
	Quality     string   `json:"quality"`
	MetricType  string   `json:"metricType"`
	Unit        string   `json:"unit"`
	Name        string   `json:"name"`
	Subsystem   string   `json:"subsystem"`
	Integration string   `json:"integration"`
	Resolution  string   `json:"resolution"`
}

func (r batchRequest) toBatch() (application.Batch, error) {
	batch := application.Batch{SystemID: r.SystemID, Samples: make([]application.Sample, 0, len(r.Samples))}
	if r.ReceivedAt != 0 {
		received, err := parseTimestamp("receivedAt", r.ReceivedAt)
		if err != nil {
			return batch, err
		}
		batch.ReceivedTime = received
	}
	for i, s := range r.Samples {
		ts, err := parseTimestamp("samples["+strconv.Itoa(i)+"].ts", s.TS)
		if err != nil {
			return batch, err
		}
		batch.Samples = append(batch.Samples, application.Sample{
			PhysicalPathTail: s.Path,
			MeasurementTime:  ts,
			Value:            s.Value,
			Quality:          s.Quality,
			Meta: points.VendorMetadata{
				DefaultName: s.Name,
				MetricType:  points.MetricType(s.MetricType),
				MetricUnit:  s.Unit,
				Subsystem:   s.Subsystem,
				Integration: points.EnergyIntegration(s.Integration),
				Resolution:  points.Resolution(s.Resolution),
			},
		})
	}
	return batch, nil
}

// parseTimestamp accepts epoch milliseconds or seconds.
func parseTimestamp(field string, value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, &points.ValidationError{Field: field, Input: strconv.FormatInt(value, 10), Reason: "must be a positive epoch timestamp"}
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
