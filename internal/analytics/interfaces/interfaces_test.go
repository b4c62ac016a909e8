package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"telemetry-engine/internal/analytics/application"
	"telemetry-engine/internal/analytics/domain/rollup"
	points "telemetry-engine/internal/points/domain"
)

type fakeAggregator struct {
	days   []time.Time
	lastN  int
	report application.SweepReport
	err    error
}

func (f *fakeAggregator) AggregateDay(_ context.Context, systemID int64, day time.Time) (application.DayResult, error) {
	f.days = append(f.days, day)
	if f.err != nil {
		return application.DayResult{}, f.err
	}
	return application.DayResult{SystemID: systemID, Day: day, Rows: 3, Degraded: 1}, nil
}

func (f *fakeAggregator) AggregateAllMissingDaysForAllSystems(context.Context) (application.SweepReport, error) {
	return f.report, f.err
}

func (f *fakeAggregator) AggregateLastNDays(_ context.Context, n int) (application.SweepReport, error) {
	f.lastN = n
	return f.report, f.err
}

func (f *fakeAggregator) RegenerateAll(context.Context) (application.SweepReport, error) {
	return f.report, f.err
}

func TestAggregationDay(t *testing.T) {
	agg := &fakeAggregator{}
	h, err := NewAggregationHandler(agg, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Day(rec, httptest.NewRequest(http.MethodPost, "/api/v1/aggregation/day", strings.NewReader(`{"systemId":7,"day":"2024-03-02"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body dayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, dayResponse{SystemID: 7, Day: "2024-03-02", Rows: 3, Degraded: 1}, body)
	require.Len(t, agg.days, 1)
	assert.True(t, agg.days[0].Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestAggregationDayRejectsBadInput(t *testing.T) {
	h, err := NewAggregationHandler(&fakeAggregator{}, nil)
	require.NoError(t, err)

	for _, body := range []string{`{`, `{"systemId":0,"day":"2024-03-02"}`, `{"systemId":7,"day":"03/02/2024"}`} {
		rec := httptest.NewRecorder()
		h.Day(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestAggregationLastParsesDays(t *testing.T) {
	agg := &fakeAggregator{report: application.SweepReport{Sweep: "last"}}
	h, err := NewAggregationHandler(agg, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Last(rec, httptest.NewRequest(http.MethodPost, "/?days=3", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, agg.lastN)

	rec = httptest.NewRecorder()
	h.Last(rec, httptest.NewRequest(http.MethodPost, "/?days=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweepWithFailuresIsMultiStatus(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	agg := &fakeAggregator{report: application.SweepReport{
		Sweep: "catchup",
		Results: []application.SystemResult{
			{SystemID: 1, Days: []time.Time{day}},
			{SystemID: 2, Err: errors.New("store down")},
		},
	}}
	h, err := NewAggregationHandler(agg, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Catchup(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusMultiStatus, rec.Code)

	var body SweepReportBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Failed)
	require.Len(t, body.Systems, 2)
	assert.Equal(t, []string{"2024-03-01"}, body.Systems[0].Days)
	assert.Equal(t, "store down", body.Systems[1].Error)
}

func TestSweepStoreErrorIsUnavailable(t *testing.T) {
	h, err := NewAggregationHandler(&fakeAggregator{err: errors.New("db down")}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Regenerate(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func f64(v float64) *float64 { return &v }

func exportFixture() ([]points.Point, []rollup.Daily) {
	stem := "source.solar"
	pts := []points.Point{{
		SystemID:         7,
		PointIndex:       1,
		PhysicalPathTail: "inv1/p",
		LogicalPathStem:  &stem,
		MetricType:       points.MetricPower,
		MetricUnit:       "W",
		DefaultName:      "PV power",
		Active:           true,
	}}
	rows := []rollup.Daily{{
		SystemID:      7,
		PointIndex:    1,
		Day:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Avg:           f64(12.5),
		Max:           f64(40),
		IntervalCount: 90,
		ExpectedCount: 288,
		Flags:         rollup.Flags{rollup.FlagPartial},
	}}
	return pts, rows
}

func TestBuildDailyXLSX(t *testing.T) {
	pts, rows := exportFixture()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	data, err := BuildDailyXLSX(7, from, from.AddDate(0, 0, 1), pts, rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	summary, err := f.GetCellValue("summary", "B6")
	require.NoError(t, err)
	assert.Equal(t, "1", summary)

	sheet, err := f.GetRows("daily")
	require.NoError(t, err)
	require.Len(t, sheet, 2)
	assert.Equal(t, dailyHeader, sheet[0])
	row := sheet[1]
	assert.Equal(t, "2024-03-01", row[0])
	assert.Equal(t, "source.solar/power", row[2])
	assert.Equal(t, "PV power", row[3])
	assert.Equal(t, "12.5", row[5])
	assert.Equal(t, "", row[6])
	assert.Equal(t, "40", row[7])
	assert.Equal(t, "90", row[10])
	assert.Equal(t, "288", row[11])
	assert.Equal(t, "partial", row[12])
}

type fakeReader struct {
	pts  []points.Point
	rows []rollup.Daily
	err  error
}

func (f fakeReader) ListDaily(context.Context, int64, time.Time, time.Time) ([]rollup.Daily, error) {
	return f.rows, f.err
}

func (f fakeReader) ListPoints(context.Context, int64) ([]points.Point, error) {
	return f.pts, nil
}

func exportRouter(t *testing.T, reader DailyReader) http.Handler {
	t.Helper()
	h, err := NewExportHandler(reader, nil)
	require.NoError(t, err)
	r := mux.NewRouter()
	r.Handle("/systems/{systemID}/daily.xlsx", h)
	return r
}

func TestExportHandler(t *testing.T) {
	pts, rows := exportFixture()
	router := exportRouter(t, fakeReader{pts: pts, rows: rows})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/systems/7/daily.xlsx?from=2024-03-01&to=2024-03-02", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "system-7-daily-20240301-20240302.xlsx")
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/systems/7/daily.xlsx?from=yesterday&to=2024-03-02", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/systems/x/daily.xlsx?from=2024-03-01&to=2024-03-02", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportHandlerUnknownSystem(t *testing.T) {
	router := exportRouter(t, fakeReader{err: points.ErrSystemNotFound})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/systems/9/daily.xlsx?from=2024-03-01&to=2024-03-02", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
