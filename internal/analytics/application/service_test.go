package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-engine/internal/analytics/application/events"
	"telemetry-engine/internal/analytics/domain/rollup"
	aggmem "telemetry-engine/internal/analytics/infrastructure/memory"
	"telemetry-engine/internal/eventing"
	pointsapp "telemetry-engine/internal/points/application"
	points "telemetry-engine/internal/points/domain"
	pointsmem "telemetry-engine/internal/points/infrastructure/memory"
	telemetry "telemetry-engine/internal/telemetry/domain"
	telemem "telemetry-engine/internal/telemetry/infrastructure/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type failingDayCounts struct {
	*aggmem.FiveMinuteRepository
	systemID int64
}

func (f failingDayCounts) DayCounts(ctx context.Context, systemID int64) ([]rollup.DayCount, error) {
	if systemID == f.systemID {
		return nil, errors.New("boom")
	}
	return f.FiveMinuteRepository.DayCounts(ctx, systemID)
}

type captureArchiver struct{ got []telemetry.Reading }

func (a *captureArchiver) Archive(ctx context.Context, readings []telemetry.Reading) error {
	a.got = append(a.got, readings...)
	return nil
}

type harness struct {
	svc      *Service
	points   *pointsapp.Service
	readings *telemem.ReadingRepository
	fivemin  *aggmem.FiveMinuteRepository
	daily    *aggmem.DailyRepository
	bus      *eventing.InMemoryBus
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	pointSvc, err := pointsapp.NewService(pointsmem.NewPointRepository(), nil, nil)
	require.NoError(t, err)
	h := &harness{
		points:   pointSvc,
		readings: telemem.NewReadingRepository(),
		fivemin:  aggmem.NewFiveMinuteRepository(),
		daily:    aggmem.NewDailyRepository(),
		bus:      eventing.NewInMemoryBus(),
	}
	opts = append([]Option{WithEventBus(h.bus)}, opts...)
	h.svc, err = NewService(pointSvc, h.readings, h.fivemin, h.daily, nil, opts...)
	require.NoError(t, err)
	return h
}

func (h *harness) point(t *testing.T, systemID int64, tail string, meta points.VendorMetadata) points.Point {
	t.Helper()
	p, err := h.points.ResolvePoint(context.Background(), systemID, tail, meta)
	require.NoError(t, err)
	return p
}

func (h *harness) raw(t *testing.T, p points.Point, at time.Time, value float64) {
	t.Helper()
	require.NoError(t, h.readings.UpsertReadings(context.Background(), []telemetry.Reading{{
		SystemID: p.SystemID, PointIndex: p.PointIndex, MeasurementTime: at, ReceivedTime: at,
		RawValue: &value, Value: &value, Quality: telemetry.QualityGood,
	}}))
}

func fptr(v float64) *float64 { return &v }

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func TestRecomputeBucketsPower(t *testing.T) {
	h := newHarness(t)
	p := h.point(t, 42, "inv/pac", points.VendorMetadata{MetricType: points.MetricPower})
	h.raw(t, p, base, 100)
	h.raw(t, p, base.Add(time.Minute), 300)
	h.raw(t, p, base.Add(4*time.Minute), 200)

	n, err := h.svc.RecomputeBuckets(context.Background(), p, []time.Time{base.Add(5 * time.Minute), base.Add(10 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := h.fivemin.ListPointRange(context.Background(), 42, p.PointIndex, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, base.Add(5*time.Minute), rows[0].IntervalEnd)
	assert.InDelta(t, 200, *rows[0].Avg, 1e-9)
	assert.Equal(t, 100.0, *rows[0].Min)
	assert.Equal(t, 300.0, *rows[0].Max)
	assert.Equal(t, 200.0, *rows[0].Last)
}

func TestRecomputeBucketsTrapezoidCarriesPreviousSample(t *testing.T) {
	h := newHarness(t)
	p := h.point(t, 42, "meter/p", points.VendorMetadata{MetricType: points.MetricEnergy, Integration: points.IntegrationTrapezoid})
	var times []time.Time
	for i := 0; i < 10; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		h.raw(t, p, at, 1200)
		times = append(times, at)
	}

	ends := BucketsTouched(p, times)
	assert.Equal(t, []time.Time{base.Add(5 * time.Minute), base.Add(10 * time.Minute), base.Add(15 * time.Minute)}, ends)

	n, err := h.svc.RecomputeBuckets(context.Background(), p, ends)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := h.fivemin.ListPointRange(context.Background(), 42, p.PointIndex, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// four one-minute segments, then five including the carried-in 10:04 sample
	assert.InDelta(t, 80, *rows[0].Delta, 1e-9)
	assert.InDelta(t, 100, *rows[1].Delta, 1e-9)
}

func TestRecomputeBucketsRejectsUnalignedEnd(t *testing.T) {
	h := newHarness(t)
	p := h.point(t, 42, "inv/pac", points.VendorMetadata{MetricType: points.MetricPower})
	_, err := h.svc.RecomputeBuckets(context.Background(), p, []time.Time{base.Add(time.Minute)})
	assert.ErrorIs(t, err, rollup.ErrInvalidBucketEnd)
}

func seedEnergyDay(t *testing.T, h *harness, p points.Point, day time.Time) {
	t.Helper()
	rows := make([]rollup.FiveMinute, 0, points.BucketsPerDay)
	for i := 1; i <= points.BucketsPerDay; i++ {
		rows = append(rows, rollup.FiveMinute{
			SystemID: p.SystemID, PointIndex: p.PointIndex,
			IntervalEnd: day.Add(time.Duration(i) * rollup.BucketWidth),
			Delta:       fptr(2.5), SampleCount: 1, GoodCount: 1,
		})
	}
	require.NoError(t, h.fivemin.UpsertFiveMinute(context.Background(), rows))
}

func TestAggregateDayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	var published []events.DayAggregated
	h.bus.Subscribe(eventing.EventTypeOf[events.DayAggregated](), func(ctx context.Context, event any) error {
		published = append(published, event.(events.DayAggregated))
		return nil
	})
	p := h.point(t, 42, "meter/e", points.VendorMetadata{MetricType: points.MetricEnergy})
	day := rollup.DayStart(base)
	seedEnergyDay(t, h, p, day)

	for i := 0; i < 2; i++ {
		res, err := h.svc.AggregateDay(context.Background(), 42, day.Add(13*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Rows)
		assert.Equal(t, day, res.Day)
	}

	rows, err := h.daily.ListRange(context.Background(), 42, day, day.Add(rollup.Day))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 288*2.5, *rows[0].Delta, 1e-9)
	assert.Equal(t, 288, rows[0].IntervalCount)
	assert.Len(t, published, 2)
}

func TestAggregateDayUnknownSystem(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.AggregateDay(context.Background(), 77, base)
	assert.ErrorIs(t, err, points.ErrSystemNotFound)
}

func TestAggregateAllMissingDaysDetectsStaleDays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.point(t, 42, "meter/e", points.VendorMetadata{MetricType: points.MetricEnergy})
	day1 := rollup.DayStart(base)
	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, h.fivemin.UpsertFiveMinute(ctx, []rollup.FiveMinute{
		{SystemID: 42, PointIndex: p.PointIndex, IntervalEnd: day2.Add(10 * time.Minute), Delta: fptr(1), GoodCount: 1, SampleCount: 1},
		{SystemID: 42, PointIndex: p.PointIndex, IntervalEnd: day1.Add(10 * time.Minute), Delta: fptr(1), GoodCount: 1, SampleCount: 1},
	}))

	report, err := h.svc.AggregateAllMissingDaysForAllSystems(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, []time.Time{day1, day2}, report.Results[0].Days)

	report, err = h.svc.AggregateAllMissingDaysForAllSystems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DaysAggregated())

	require.NoError(t, h.fivemin.UpsertFiveMinute(ctx, []rollup.FiveMinute{
		{SystemID: 42, PointIndex: p.PointIndex, IntervalEnd: day1.Add(15 * time.Minute), Delta: fptr(1), GoodCount: 1, SampleCount: 1},
	}))
	report, err = h.svc.AggregateAllMissingDaysForAllSystems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day1}, report.Results[0].Days)

	rows, err := h.daily.ListRange(ctx, 42, day1, day1.Add(rollup.Day))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, *rows[0].Delta)
}

func TestSweepContinuesPastFailingSystem(t *testing.T) {
	pointSvc, err := pointsapp.NewService(pointsmem.NewPointRepository(), nil, nil)
	require.NoError(t, err)
	fivemin := aggmem.NewFiveMinuteRepository()
	svc, err := NewService(pointSvc, telemem.NewReadingRepository(), failingDayCounts{fivemin, 7}, aggmem.NewDailyRepository(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, sys := range []int64{7, 8} {
		p, err := pointSvc.ResolvePoint(ctx, sys, "meter/e", points.VendorMetadata{MetricType: points.MetricEnergy})
		require.NoError(t, err)
		require.NoError(t, fivemin.UpsertFiveMinute(ctx, []rollup.FiveMinute{
			{SystemID: sys, PointIndex: p.PointIndex, IntervalEnd: base.Add(5 * time.Minute), Delta: fptr(1), GoodCount: 1, SampleCount: 1},
		}))
	}

	report, err := svc.AggregateAllMissingDaysForAllSystems(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, int64(7), report.Failed()[0].SystemID)
	assert.Len(t, report.Results[1].Days, 1)
}

func TestAggregateLastNDays(t *testing.T) {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, WithClock(fixedClock{now}))
	h.point(t, 42, "inv/pac", points.VendorMetadata{MetricType: points.MetricPower})

	report, err := h.svc.AggregateLastNDays(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, []time.Time{
		time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
	}, report.Results[0].Days)

	_, err = h.svc.AggregateLastNDays(context.Background(), 0)
	assert.True(t, points.IsValidation(err))
}

func TestRegenerateAllDropsOrphanDailyRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.point(t, 42, "meter/e", points.VendorMetadata{MetricType: points.MetricEnergy})
	day := rollup.DayStart(base)
	seedEnergyDay(t, h, p, day)
	orphan := day.AddDate(0, 0, -3)
	require.NoError(t, h.daily.UpsertDaily(ctx, []rollup.Daily{{SystemID: 42, PointIndex: p.PointIndex, Day: orphan, Delta: fptr(9)}}))

	report, err := h.svc.RegenerateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DaysAggregated())

	rows, err := h.daily.ListRange(ctx, 42, orphan, day.Add(rollup.Day))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, day, rows[0].Day)
}

func TestPurgeHonoursRetentionOrdering(t *testing.T) {
	archive := &captureArchiver{}
	h := newHarness(t,
		WithArchiver(archive),
		WithRetention(Retention{Raw: 24 * time.Hour, FiveMinute: 48 * time.Hour, Daily: 72 * time.Hour, BatchSize: 1}),
	)
	ctx := context.Background()
	p := h.point(t, 42, "inv/pac", points.VendorMetadata{MetricType: points.MetricPower})
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	old := time.Date(2024, 6, 8, 10, 1, 0, 0, time.UTC)
	h.raw(t, p, old, 1)
	h.raw(t, p, old.Add(time.Minute), 2)
	h.raw(t, p, old.Add(time.Hour), 3)
	h.raw(t, p, time.Date(2024, 6, 9, 12, 0, 0, 0, time.UTC), 4)
	_, err := h.svc.RecomputeBuckets(ctx, p, []time.Time{rollup.BucketEnd(old)})
	require.NoError(t, err)

	rolled := time.Date(2024, 6, 7, 10, 5, 0, 0, time.UTC)
	unrolled := time.Date(2024, 6, 6, 10, 5, 0, 0, time.UTC)
	require.NoError(t, h.fivemin.UpsertFiveMinute(ctx, []rollup.FiveMinute{
		{SystemID: 42, PointIndex: p.PointIndex, IntervalEnd: rolled, Avg: fptr(1), GoodCount: 1, SampleCount: 1},
		{SystemID: 42, PointIndex: p.PointIndex, IntervalEnd: unrolled, Avg: fptr(1), GoodCount: 1, SampleCount: 1},
	}))
	_, err = h.svc.AggregateDay(ctx, 42, rolled)
	require.NoError(t, err)
	require.NoError(t, h.daily.UpsertDaily(ctx, []rollup.Daily{{SystemID: 42, PointIndex: p.PointIndex, Day: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}}))

	report, err := h.svc.Purge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RawDeleted)
	assert.Equal(t, int64(2), report.RawArchived)
	assert.Equal(t, int64(1), report.RawKept)
	assert.Equal(t, int64(1), report.FiveMinuteDeleted)
	assert.Equal(t, int64(1), report.DailyDeleted)
	assert.Len(t, archive.got, 2)
	assert.Equal(t, 2, h.readings.Count())

	left, err := h.fivemin.ListPointRange(ctx, 42, p.PointIndex, unrolled.Add(-time.Hour), rolled)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, unrolled, left[0].IntervalEnd)
}

func TestKeyedLocksReleaseEntries(t *testing.T) {
	locks := newKeyedLocks()
	release := locks.Lock("42:20240601")
	assert.Len(t, locks.locks, 1)
	release()
	assert.Empty(t, locks.locks)
}
