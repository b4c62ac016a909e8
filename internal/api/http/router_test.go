package apihttp

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

	latestapp "telemetry-engine/internal/latest/application"
	latest "telemetry-engine/internal/latest/domain"
	latestmem "telemetry-engine/internal/latest/infrastructure/memory"
	pointsapp "telemetry-engine/internal/points/application"
	points "telemetry-engine/internal/points/domain"
	pointsmem "telemetry-engine/internal/points/infrastructure/memory"
	seriesapp "telemetry-engine/internal/series/application"
)

type server struct {
	handler http.Handler
	points  *pointsapp.Service
	latest  *latestapp.Service
	builds  []*int64
}

func (s *server) Build(ctx context.Context, systemID *int64) error {
	s.builds = append(s.builds, systemID)
	return nil
}

func newServer(t *testing.T) *server {
	t.Helper()
	repo := pointsmem.NewPointRepository()
	resolver, err := seriesapp.NewResolver(repo, nil)
	require.NoError(t, err)
	pointSvc, err := pointsapp.NewService(repo, resolver, nil)
	require.NoError(t, err)
	latestSvc, err := latestapp.NewService(latestmem.NewStore(), nil)
	require.NoError(t, err)

	s := &server{points: pointSvc, latest: latestSvc}
	pointH, err := NewPointHandler(pointSvc, nil)
	require.NoError(t, err)
	seriesH, err := NewSeriesHandler(resolver, nil)
	require.NoError(t, err)
	latestH, err := NewLatestHandler(latestSvc, nil)
	require.NoError(t, err)
	registryH, err := NewRegistryHandler(s, nil)
	require.NoError(t, err)

	s.handler = NewRouter(Routes{Points: pointH, Series: seriesH, Latest: latestH, Registry: registryH}, nil)
	return s
}

func (s *server) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestPointPatchMapsSeries(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	_, err := s.points.ResolvePoint(ctx, 42, "inv/pv", points.VendorMetadata{MetricType: points.MetricPower, DefaultName: "PV"})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/systems/42/series", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = s.do(t, http.MethodPatch, "/api/v1/systems/42/points/1", `{"logicalPathStem":"source.solar","displayName":"Roof"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var p pointResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.NotNil(t, p.LogicalPath)
	assert.Equal(t, "source.solar/power", *p.LogicalPath)
	assert.Equal(t, "Roof", p.Name)

	rec = s.do(t, http.MethodGet, "/api/v1/systems/42/series?filter=source.*/power.{avg,max}&interval=5m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []seriesapp.SeriesDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "42/source.solar/power.avg", list[0].ID)
	assert.Equal(t, "42/source.solar/power.max", list[1].ID)

	rec = s.do(t, http.MethodPatch, "/api/v1/systems/42/points/1", `{"logicalPathStem":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/systems/42/series", "")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestPointErrors(t *testing.T) {
	s := newServer(t)
	_, err := s.points.ResolvePoint(context.Background(), 42, "inv/pv", points.VendorMetadata{MetricType: points.MetricPower})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPatch, "/api/v1/systems/42/points/1", `{"logicalPathStem":"Source Solar"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"input":"Source Solar"`)

	rec = s.do(t, http.MethodGet, "/api/v1/systems/42/points/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/systems/abc/points/1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/systems/42/series?filter=a}b", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/systems/42/series?interval=1h", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"input":"1h"`)
}

func TestLatestRoutes(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.latest.PutLatest(ctx, latest.Entry{SystemID: 42, LogicalPath: "source.solar/power", PointIndex: 1, Value: 1200, MeasurementTime: at, MetricUnit: "W"})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/systems/42/latest?path=source.solar/power", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry latest.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, 1200.0, entry.Value)

	rec = s.do(t, http.MethodGet, "/api/v1/systems/42/latest?path=grid/power", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/systems/42/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "source.solar/power")

	rec = s.do(t, http.MethodDelete, "/api/v1/cache/latest/42", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/systems/42/latest", "")
	assert.JSONEq(t, "{}", rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/v1/cache/latest", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegistryAndHealth(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/registry/build?systemId=8", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/registry/build", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, s.builds, 2)
	require.NotNil(t, s.builds[0])
	assert.Equal(t, int64(8), *s.builds[0])
	assert.Nil(t, s.builds[1])

	rec = s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/systems/42/series", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
