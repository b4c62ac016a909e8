package interfaces

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/domain/rollup"
	"telemetry-engine/internal/api/respond"
	points "telemetry-engine/internal/points/domain"
)

// DailyReader loads what the export renders.
type DailyReader interface {
	ListDaily(ctx context.Context, systemID int64, from, to time.Time) ([]rollup.Daily, error)
	ListPoints(ctx context.Context, systemID int64) ([]points.Point, error)
}

var dailyHeader = []string{"Day", "Point", "Logical path", "Name", "Unit", "Avg", "Min", "Max", "Last", "Delta", "Intervals", "Expected", "Flags"}

// BuildDailyXLSX renders daily aggregates of one system.
func BuildDailyXLSX(systemID int64, from, to time.Time, pts []points.Point, rows []rollup.Daily) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	summarySheet := "summary"
	dailySheet := "daily"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(dailySheet); err != nil {
		return nil, err
	}

	byIndex := make(map[int]points.Point, len(pts))
	for _, p := range pts {
		byIndex[p.PointIndex] = p
	}
	degraded := 0
	for _, row := range rows {
		if row.Flags.Degraded() {
			degraded++
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Daily Aggregates")
	_ = f.SetCellValue(summarySheet, "A3", "System")
	_ = f.SetCellValue(summarySheet, "B3", systemID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", from.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A5", "To (exclusive)")
	_ = f.SetCellValue(summarySheet, "B5", to.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "Rows")
	_ = f.SetCellValue(summarySheet, "B6", len(rows))
	_ = f.SetCellValue(summarySheet, "A7", "Flagged rows")
	_ = f.SetCellValue(summarySheet, "B7", degraded)

	for i, title := range dailyHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(dailySheet, cell, title)
	}
	for i, row := range rows {
		line := i + 2
		p := byIndex[row.PointIndex]
		path, _ := p.LogicalPath()
		values := []any{
			row.Day.Format("2006-01-02"),
			row.PointIndex,
			path,
			p.Name(),
			p.MetricUnit,
			cellValue(row.Avg),
			cellValue(row.Min),
			cellValue(row.Max),
			cellValue(row.Last),
			cellValue(row.Delta),
			row.IntervalCount,
			row.ExpectedCount,
			row.Flags.String(),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, line)
			_ = f.SetCellValue(dailySheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellValue(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

// ExportHandler serves GET /api/v1/systems/{systemID}/daily.xlsx?from=&to=.
type ExportHandler struct {
	reader DailyReader
	logger *zap.Logger
}

// NewExportHandler constructs the handler.
func NewExportHandler(reader DailyReader, logger *zap.Logger) (*ExportHandler, error) {
	if reader == nil {
		return nil, errors.New("export handler: nil reader")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportHandler{reader: reader, logger: logger.Named("http.export")}, nil
}

// ServeHTTP renders the workbook.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["systemID"]
	systemID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || systemID <= 0 {
		respond.Error(w, h.logger, &points.ValidationError{Field: "systemID", Input: raw, Reason: "must be a positive integer"})
		return
	}
	query := r.URL.Query()
	from, err := rollup.ParseDay(query.Get("from"))
	if err != nil {
		respond.Error(w, h.logger, &points.ValidationError{Field: "from", Input: query.Get("from"), Reason: "must be YYYY-MM-DD"})
		return
	}
	to, err := rollup.ParseDay(query.Get("to"))
	if err != nil {
		respond.Error(w, h.logger, &points.ValidationError{Field: "to", Input: query.Get("to"), Reason: "must be YYYY-MM-DD"})
		return
	}

	rows, err := h.reader.ListDaily(r.Context(), systemID, from, to)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	pts, err := h.reader.ListPoints(r.Context(), systemID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	data, err := BuildDailyXLSX(systemID, from, to, pts, rows)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="system-%d-daily-%s-%s.xlsx"`, systemID, rollup.DayKey(from), rollup.DayKey(to)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
