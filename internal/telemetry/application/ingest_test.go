package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aggapp "telemetry-engine/internal/analytics/application"
	aggmem "telemetry-engine/internal/analytics/infrastructure/memory"
	"telemetry-engine/internal/eventing"
	latestapp "telemetry-engine/internal/latest/application"
	latestmem "telemetry-engine/internal/latest/infrastructure/memory"
	pointsapp "telemetry-engine/internal/points/application"
	points "telemetry-engine/internal/points/domain"
	pointsmem "telemetry-engine/internal/points/infrastructure/memory"
	telemetry "telemetry-engine/internal/telemetry/domain"
	telemem "telemetry-engine/internal/telemetry/infrastructure/memory"
)

type fixture struct {
	ingest   *IngestService
	points   *pointsapp.Service
	readings *telemem.ReadingRepository
	fivemin  *aggmem.FiveMinuteRepository
	latest   *latestapp.Service
	events   []telemetry.ReadingsIngested
}

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pointSvc, err := pointsapp.NewService(pointsmem.NewPointRepository(), nil, nil)
	require.NoError(t, err)
	f := &fixture{
		points:   pointSvc,
		readings: telemem.NewReadingRepository(),
		fivemin:  aggmem.NewFiveMinuteRepository(),
	}
	agg, err := aggapp.NewService(pointSvc, f.readings, f.fivemin, aggmem.NewDailyRepository(), nil)
	require.NoError(t, err)
	f.latest, err = latestapp.NewService(latestmem.NewStore(), nil)
	require.NoError(t, err)

	bus := eventing.NewInMemoryBus()
	bus.Subscribe(eventing.EventTypeOf[telemetry.ReadingsIngested](), func(ctx context.Context, event any) error {
		f.events = append(f.events, event.(telemetry.ReadingsIngested))
		return nil
	})
	f.ingest, err = NewIngestService(pointSvc, f.readings, agg, aggapp.BucketsTouched, nil,
		WithLatestWriter(f.latest),
		WithEventBus(bus),
		WithClock(func() time.Time { return base.Add(time.Hour) }),
	)
	require.NoError(t, err)
	return f
}

func value(v float64) *float64 { return &v }

func powerSample(tail string, at time.Time, v float64) Sample {
	return Sample{
		PhysicalPathTail: tail,
		Meta:             points.VendorMetadata{MetricType: points.MetricPower, DefaultName: "PV power"},
		MeasurementTime:  at,
		Value:            value(v),
	}
}

func TestIngestStoresRawAndBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{
		powerSample("inv/pv", base.Add(2*time.Minute), 300),
		powerSample("inv/pv", base.Add(time.Minute), 100),
		powerSample("inv/pv", base.Add(3*time.Minute), 200),
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Readings)
	assert.Equal(t, 1, res.Points)
	assert.Equal(t, 1, res.Buckets)
	assert.Zero(t, res.CacheWrites, "unmapped points are not cached")

	raw, err := f.readings.ListRange(ctx, 7, 1, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, base.Add(time.Hour), raw[0].ReceivedTime)

	rows, err := f.fivemin.ListPointRange(ctx, 7, 1, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Avg)
	assert.InDelta(t, 200, *rows[0].Avg, 1e-9)
	require.NotNil(t, rows[0].Last)
	assert.InDelta(t, 200, *rows[0].Last, 1e-9)

	require.Len(t, f.events, 1)
	assert.Equal(t, int64(7), f.events[0].SystemID)
	assert.Equal(t, []time.Time{base.Add(5 * time.Minute)}, f.events[0].BucketEnds)
}

func TestIngestWritesLatestForMappedPoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.points.ResolvePoint(ctx, 7, "inv/pv", points.VendorMetadata{MetricType: points.MetricPower})
	require.NoError(t, err)
	stem := "source.solar"
	_, err = f.points.UpdatePoint(ctx, 7, p.PointIndex, points.Patch{LogicalPathStem: &stem})
	require.NoError(t, err)

	res, err := f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{
		powerSample("inv/pv", base.Add(6*time.Minute), 950),
		powerSample("inv/pv", base.Add(time.Minute), 400),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CacheWrites)
	assert.Equal(t, 2, res.Buckets)

	entry, ok, err := f.latest.GetLatest(ctx, 7, "source.solar/power")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 950.0, entry.Value)
	assert.Equal(t, "W", entry.MetricUnit)
	assert.Equal(t, base.Add(6*time.Minute), entry.MeasurementTime)
}

func TestIngestAppliesInvert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.points.ResolvePoint(ctx, 7, "bat/power", points.VendorMetadata{MetricType: points.MetricPower})
	require.NoError(t, err)
	invert := "invert"
	_, err = f.points.UpdatePoint(ctx, 7, p.PointIndex, points.Patch{Transform: &invert})
	require.NoError(t, err)

	_, err = f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{powerSample("bat/power", base, 500)}})
	require.NoError(t, err)

	raw, err := f.readings.ListRange(ctx, 7, p.PointIndex, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, 500.0, *raw[0].RawValue)
	assert.Equal(t, -500.0, *raw[0].Value)
}

func TestIngestDifferentiatesCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	meta := points.VendorMetadata{MetricType: points.MetricEnergy}
	p, err := f.points.ResolvePoint(ctx, 7, "meter/total", meta)
	require.NoError(t, err)
	diff := "differentiate"
	_, err = f.points.UpdatePoint(ctx, 7, p.PointIndex, points.Patch{Transform: &diff})
	require.NoError(t, err)

	counter := func(at time.Time, v float64) Sample {
		return Sample{PhysicalPathTail: "meter/total", Meta: meta, MeasurementTime: at, Value: value(v)}
	}
	_, err = f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{
		counter(base, 1000),
		counter(base.Add(time.Minute), 1050),
	}})
	require.NoError(t, err)
	// Second batch continues from the stored predecessor; a reset yields no value.
	_, err = f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{
		counter(base.Add(2*time.Minute), 1080),
		counter(base.Add(3*time.Minute), 10),
	}})
	require.NoError(t, err)

	raw, err := f.readings.ListRange(ctx, 7, p.PointIndex, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, raw, 4)
	assert.Nil(t, raw[0].Value)
	assert.Equal(t, 50.0, *raw[1].Value)
	assert.Equal(t, 30.0, *raw[2].Value)
	assert.Nil(t, raw[3].Value)

	rows, err := f.fivemin.ListPointRange(ctx, 7, p.PointIndex, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Delta)
	assert.InDelta(t, 80, *rows[0].Delta, 1e-9)
}

func TestIngestLateCounterReadingRederivesSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	meta := points.VendorMetadata{MetricType: points.MetricEnergy}
	p, err := f.points.ResolvePoint(ctx, 7, "meter/total", meta)
	require.NoError(t, err)
	diff := "differentiate"
	_, err = f.points.UpdatePoint(ctx, 7, p.PointIndex, points.Patch{Transform: &diff})
	require.NoError(t, err)

	counter := func(at time.Time, v float64) Sample {
		return Sample{PhysicalPathTail: "meter/total", Meta: meta, MeasurementTime: at, Value: value(v)}
	}
	_, err = f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{
		counter(base, 1000),
		counter(base.Add(2*time.Minute), 1200),
		counter(base.Add(6*time.Minute), 1250),
	}})
	require.NoError(t, err)

	// 10:01 arrives after 10:02 was stored; 10:02 must now count from 10:01.
	res, err := f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{counter(base.Add(time.Minute), 1100)}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Readings)

	raw, err := f.readings.ListRange(ctx, 7, p.PointIndex, base, base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, raw, 4)
	assert.Nil(t, raw[0].Value)
	assert.Equal(t, 100.0, *raw[1].Value)
	assert.Equal(t, 100.0, *raw[2].Value)
	assert.Equal(t, 50.0, *raw[3].Value, "readings past the successor are untouched")

	rows, err := f.fivemin.ListPointRange(ctx, 7, p.PointIndex, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Delta)
	assert.InDelta(t, 200, *rows[0].Delta, 1e-9, "delta equals the counter advance")

	// Re-delivering the same reading changes nothing.
	_, err = f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{counter(base.Add(time.Minute), 1100)}})
	require.NoError(t, err)
	rows, err = f.fivemin.ListPointRange(ctx, 7, p.PointIndex, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 200, *rows[0].Delta, 1e-9)
}

func TestIngestRedeliveredTimeKeepsLastSample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{
		powerSample("inv/pv", base, 1),
		powerSample("inv/pv", base, 2),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Readings)

	raw, err := f.readings.ListRange(ctx, 7, 1, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, 2.0, *raw[0].Value)
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingest.Ingest(ctx, Batch{SystemID: 0, Samples: []Sample{powerSample("a", base, 1)}})
	assert.True(t, errors.Is(err, points.ErrInvalidSystemID))

	_, err = f.ingest.Ingest(ctx, Batch{SystemID: 7})
	assert.True(t, points.IsValidation(err))

	_, err = f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{{Meta: points.VendorMetadata{MetricType: points.MetricPower}, MeasurementTime: base}}})
	assert.True(t, errors.Is(err, points.ErrEmptyPhysicalPath))

	bad := powerSample("a", base, 1)
	bad.Quality = "suspicious"
	_, err = f.ingest.Ingest(ctx, Batch{SystemID: 7, Samples: []Sample{bad}})
	var verr *points.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "suspicious", verr.Input)

	assert.Empty(t, f.events)
	assert.Zero(t, f.readings.Count())
}
