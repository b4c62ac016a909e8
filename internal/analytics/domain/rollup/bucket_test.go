package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	points "telemetry-engine/internal/points/domain"
)

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func v(f float64) *float64 { return &f }

func good(offset time.Duration, value float64) Sample {
	return Sample{Time: base.Add(offset), Value: v(value), Good: true}
}

func powerPoint() points.Point {
	return points.Point{SystemID: 1, PointIndex: 2, MetricType: points.MetricPower, Active: true}
}

func TestBucketEnd(t *testing.T) {
	assert.Equal(t, base.Add(5*time.Minute), BucketEnd(base))
	assert.Equal(t, base.Add(5*time.Minute), BucketEnd(base.Add(4*time.Minute+59*time.Second)))
	assert.Equal(t, base.Add(10*time.Minute), BucketEnd(base.Add(5*time.Minute)))

	local := time.FixedZone("X", 2*3600)
	assert.Equal(t, base.Add(5*time.Minute), BucketEnd(base.In(local).Add(time.Minute)))
	assert.Equal(t, time.UTC, BucketEnd(base.In(local)).Location())
}

func TestDayOfBucket(t *testing.T) {
	midnight := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), DayOfBucket(midnight))
	assert.Equal(t, midnight, DayOfBucket(midnight.Add(5*time.Minute)))

	after, through := DayBucketRange(base)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), after)
	assert.Equal(t, midnight, through)
	assert.Equal(t, "20240601", DayKey(base))
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, DayStart(base), d)
	d, err = ParseDay("20240601")
	require.NoError(t, err)
	assert.Equal(t, DayStart(base), d)
	_, err = ParseDay("June")
	assert.ErrorIs(t, err, ErrInvalidDay)
}

func TestIntegrateTrapezoidOneHour(t *testing.T) {
	wh, ok := IntegrateTrapezoid([]Sample{good(0, 100), good(time.Hour, 200)})
	require.True(t, ok)
	assert.InDelta(t, 150.0, wh, 1e-9)
}

func TestIntegrateTrapezoidSkipsNullSegments(t *testing.T) {
	samples := []Sample{
		good(0, 100),
		good(time.Hour, 200),
		{Time: base.Add(2 * time.Hour)},
		good(3*time.Hour, 300),
		good(4*time.Hour, 100),
	}
	wh, ok := IntegrateTrapezoid(samples)
	require.True(t, ok)
	assert.InDelta(t, 150.0+200.0, wh, 1e-9)
}

func TestIntegrateTrapezoidNeedsTwoValidSamples(t *testing.T) {
	_, ok := IntegrateTrapezoid([]Sample{good(0, 100)})
	assert.False(t, ok)
	_, ok = IntegrateTrapezoid([]Sample{good(0, 100), {Time: base.Add(time.Minute), Value: v(50)}})
	assert.False(t, ok)
}

func TestIntegrateTrapezoidNoIntegrableSegment(t *testing.T) {
	gap := []Sample{
		good(0, 100),
		{Time: base.Add(time.Minute), Value: v(80)},
		good(2*time.Minute, 120),
	}
	wh, ok := IntegrateTrapezoid(gap)
	assert.False(t, ok)
	assert.Zero(t, wh)

	p := powerPoint()
	p.MetricType = points.MetricEnergy
	p.Integration = points.IntegrationTrapezoid
	row, ok := AggregateBucket(p, BucketInput{End: BucketEnd(base), Samples: gap})
	require.True(t, ok)
	assert.Nil(t, row.Delta, "no energy is reported where no segment had data")
}

func TestAggregateBucketPower(t *testing.T) {
	end := BucketEnd(base)
	row, ok := AggregateBucket(powerPoint(), BucketInput{End: end, Samples: []Sample{
		good(time.Minute, 300),
		good(0, 100),
		{Time: base.Add(2 * time.Minute), Value: v(900)},
		good(3*time.Minute, 200),
		{Time: base.Add(4 * time.Minute), Value: v(50)},
		good(5*time.Minute, 1000),
	}})
	require.True(t, ok)
	assert.Equal(t, 5, row.SampleCount)
	assert.Equal(t, 3, row.GoodCount)
	assert.InDelta(t, 200.0, *row.Avg, 1e-9)
	assert.Equal(t, 100.0, *row.Min)
	assert.Equal(t, 300.0, *row.Max)
	assert.Equal(t, 50.0, *row.Last)
	assert.Nil(t, row.Delta)
	assert.False(t, row.Flags.Degraded())
}

func TestAggregateBucketEmptyIsNotMaterialized(t *testing.T) {
	_, ok := AggregateBucket(powerPoint(), BucketInput{End: BucketEnd(base), Samples: []Sample{good(10*time.Minute, 1)}})
	assert.False(t, ok)
}

func TestAggregateBucketAllNonGood(t *testing.T) {
	row, ok := AggregateBucket(powerPoint(), BucketInput{End: BucketEnd(base), Samples: []Sample{
		{Time: base, Value: v(10)},
		{Time: base.Add(time.Minute), Value: v(20)},
	}})
	require.True(t, ok)
	assert.Nil(t, row.Avg)
	assert.Nil(t, row.Min)
	assert.Nil(t, row.Max)
	assert.Equal(t, 20.0, *row.Last)
	assert.True(t, row.Flags.Has(FlagNoGoodSamples))
}

func TestAggregateBucketSOCHasNoLast(t *testing.T) {
	p := powerPoint()
	p.MetricType = points.MetricSOC
	row, ok := AggregateBucket(p, BucketInput{End: BucketEnd(base), Samples: []Sample{good(0, 40), good(time.Minute, 42)}})
	require.True(t, ok)
	assert.Nil(t, row.Last)
	assert.Equal(t, 42.0, *row.Max)
}

func TestAggregateBucketIntervalEnergy(t *testing.T) {
	p := powerPoint()
	p.MetricType = points.MetricEnergy
	row, ok := AggregateBucket(p, BucketInput{End: BucketEnd(base), Samples: []Sample{good(0, 4), good(time.Minute, 6), {Time: base.Add(2 * time.Minute), Value: v(100)}}})
	require.True(t, ok)
	require.NotNil(t, row.Delta)
	assert.Equal(t, 10.0, *row.Delta)
	assert.Nil(t, row.Avg)
	assert.Nil(t, row.Last)
}

func TestAggregateBucketTrapezoidEnergy(t *testing.T) {
	p := powerPoint()
	p.MetricType = points.MetricEnergy
	p.Integration = points.IntegrationTrapezoid

	prev := Sample{Time: base.Add(-time.Minute), Value: v(600), Good: true}
	row, ok := AggregateBucket(p, BucketInput{
		End:      BucketEnd(base),
		Samples:  []Sample{good(0, 600), good(3*time.Minute, 600)},
		Previous: &prev,
	})
	require.True(t, ok)
	require.NotNil(t, row.Delta)
	assert.InDelta(t, 600.0*4/60, *row.Delta, 1e-9)
	require.NotNil(t, row.Avg)

	single, ok := AggregateBucket(p, BucketInput{End: BucketEnd(base), Samples: []Sample{good(0, 600)}})
	require.True(t, ok)
	assert.Nil(t, single.Delta)
	assert.Equal(t, 600.0, *single.Avg)

	stale := Sample{Time: base.Add(-20 * time.Minute), Value: v(600), Good: true}
	noCarry, ok := AggregateBucket(p, BucketInput{End: BucketEnd(base), Samples: []Sample{good(0, 600)}, Previous: &stale})
	require.True(t, ok)
	assert.Nil(t, noCarry.Delta)
}

func TestAggregateBucketIsDeterministic(t *testing.T) {
	samples := []Sample{good(2*time.Minute, 3), good(0, 1), good(time.Minute, 2)}
	a, _ := AggregateBucket(powerPoint(), BucketInput{End: BucketEnd(base), Samples: samples})
	b, _ := AggregateBucket(powerPoint(), BucketInput{End: BucketEnd(base), Samples: samples})
	assert.Equal(t, a, b)
}
