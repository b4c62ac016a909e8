package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	points "telemetry-engine/internal/points/domain"
	"telemetry-engine/internal/telemetry/application"
)

type recordingIngester struct {
	got application.Batch
	err error
}

func (r *recordingIngester) Ingest(ctx context.Context, batch application.Batch) (application.Result, error) {
	r.got = batch
	if r.err != nil {
		return application.Result{}, r.err
	}
	return application.Result{Readings: len(batch.Samples), Points: 1}, nil
}

func TestHandlerDecodesBatch(t *testing.T) {
	app := &recordingIngester{}
	h, err := NewHandler(app, nil)
	require.NoError(t, err)

	body := `{"systemId":7,"samples":[
		{"path":"inv/pv","ts":1709287200000,"value":12.5,"metricType":"power","name":"PV"},
		{"path":"inv/pv","ts":1709287260,"value":null,"quality":"error","metricType":"power"}
	]}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var res application.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Readings)

	require.Len(t, app.got.Samples, 2)
	assert.Equal(t, int64(7), app.got.SystemID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), app.got.Samples[0].MeasurementTime)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC), app.got.Samples[1].MeasurementTime)
	assert.Equal(t, points.MetricPower, app.got.Samples[0].Meta.MetricType)
	assert.Equal(t, "PV", app.got.Samples[0].Meta.DefaultName)
	assert.Nil(t, app.got.Samples[1].Value)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h, err := NewHandler(&recordingIngester{}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(`{"systemId":7,"samples":[{"path":"a","ts":-1}]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"input":"-1"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/readings", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerMapsServiceErrors(t *testing.T) {
	h, err := NewHandler(&recordingIngester{err: points.ErrInvalidSystemID}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(`{"systemId":0,"samples":[{"path":"a","ts":1709287200}]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
