package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/application"
	"telemetry-engine/internal/analytics/domain/rollup"
	"telemetry-engine/internal/api/respond"
	points "telemetry-engine/internal/points/domain"
)

// Aggregator is the aggregation use-case surface served over HTTP.
type Aggregator interface {
	AggregateDay(ctx context.Context, systemID int64, day time.Time) (application.DayResult, error)
	AggregateAllMissingDaysForAllSystems(ctx context.Context) (application.SweepReport, error)
	AggregateLastNDays(ctx context.Context, n int) (application.SweepReport, error)
	RegenerateAll(ctx context.Context) (application.SweepReport, error)
}

// AggregationHandler triggers day aggregation and sweeps.
type AggregationHandler struct {
	app    Aggregator
	logger *zap.Logger
}

// NewAggregationHandler constructs the handler.
func NewAggregationHandler(app Aggregator, logger *zap.Logger) (*AggregationHandler, error) {
	if app == nil {
		return nil, errors.New("aggregation handler: nil app service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregationHandler{app: app, logger: logger.Named("http.aggregation")}, nil
}

type dayRequest struct {
	SystemID int64  `json:"systemId"`
	Day      string `json:"day"`
}

type dayResponse struct {
	SystemID int64  `json:"systemId"`
	Day      string `json:"day"`
	Rows     int    `json:"rows"`
	Degraded int    `json:"degraded"`
}

// Day handles POST /api/v1/aggregation/day.
func (h *AggregationHandler) Day(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respond.BadRequest(w, "read body error")
		return
	}
	defer r.Body.Close()

	var req dayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respond.BadRequest(w, "invalid json")
		return
	}
	if req.SystemID <= 0 {
		respond.Error(w, h.logger, &points.ValidationError{Field: "systemId", Input: strconv.FormatInt(req.SystemID, 10), Reason: "must be positive"})
		return
	}
	day, err := rollup.ParseDay(req.Day)
	if err != nil {
		respond.Error(w, h.logger, &points.ValidationError{Field: "day", Input: req.Day, Reason: "must be YYYY-MM-DD"})
		return
	}

	res, err := h.app.AggregateDay(r.Context(), req.SystemID, day)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dayResponse{
		SystemID: res.SystemID,
		Day:      res.Day.Format("2006-01-02"),
		Rows:     res.Rows,
		Degraded: res.Degraded,
	})
}

// Catchup handles POST /api/v1/aggregation/catchup.
func (h *AggregationHandler) Catchup(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.AggregateAllMissingDaysForAllSystems(r.Context())
	h.writeReport(w, report, err)
}

// Last handles POST /api/v1/aggregation/last?days=N.
func (h *AggregationHandler) Last(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("days")
	n, err := strconv.Atoi(raw)
	if err != nil {
		respond.Error(w, h.logger, &points.ValidationError{Field: "days", Input: raw, Reason: "must be an integer"})
		return
	}
	report, err := h.app.AggregateLastNDays(r.Context(), n)
	h.writeReport(w, report, err)
}

// Regenerate handles POST /api/v1/aggregation/regenerate.
func (h *AggregationHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.RegenerateAll(r.Context())
	h.writeReport(w, report, err)
}

// SystemResultBody is the JSON form of one system's sweep outcome.
type SystemResultBody struct {
	SystemID int64    `json:"systemId"`
	Days     []string `json:"days"`
	Error    string   `json:"error,omitempty"`
}

// SweepReportBody is the JSON form of a sweep report.
type SweepReportBody struct {
	Sweep      string             `json:"sweep"`
	StartedAt  string             `json:"startedAt"`
	FinishedAt string             `json:"finishedAt"`
	Failed     int                `json:"failed"`
	Systems    []SystemResultBody `json:"systems"`
}

// ReportBody converts a sweep report for JSON output.
func ReportBody(report application.SweepReport) SweepReportBody {
	body := SweepReportBody{
		Sweep:      report.Sweep,
		StartedAt:  report.StartedAt.Format(time.RFC3339),
		FinishedAt: report.FinishedAt.Format(time.RFC3339),
		Failed:     len(report.Failed()),
		Systems:    make([]SystemResultBody, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		sys := SystemResultBody{SystemID: res.SystemID, Days: make([]string, 0, len(res.Days))}
		for _, day := range res.Days {
			sys.Days = append(sys.Days, day.Format("2006-01-02"))
		}
		if res.Err != nil {
			sys.Error = res.Err.Error()
		}
		body.Systems = append(body.Systems, sys)
	}
	return body
}

func (h *AggregationHandler) writeReport(w http.ResponseWriter, report application.SweepReport, err error) {
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if len(report.Failed()) > 0 {
		status = http.StatusMultiStatus
	}
	respond.JSON(w, status, ReportBody(report))
}
