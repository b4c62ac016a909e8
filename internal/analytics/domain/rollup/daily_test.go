package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	points "telemetry-engine/internal/points/domain"
)

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func fullDay(p points.Point, fill func(i int, row *FiveMinute)) []FiveMinute {
	rows := make([]FiveMinute, 0, points.BucketsPerDay)
	for i := 1; i <= points.BucketsPerDay; i++ {
		row := FiveMinute{
			SystemID:    p.SystemID,
			PointIndex:  p.PointIndex,
			IntervalEnd: day.Add(time.Duration(i) * BucketWidth),
			SampleCount: 5,
			GoodCount:   5,
		}
		fill(i, &row)
		rows = append(rows, row)
	}
	return rows
}

func TestRollupDaySumsDeltas(t *testing.T) {
	p := points.Point{SystemID: 3, PointIndex: 1, MetricType: points.MetricEnergy}
	rows := fullDay(p, func(_ int, row *FiveMinute) { row.Delta = v(2.5) })

	out, ok := RollupDay(p, day.Add(13*time.Hour), rows)
	require.True(t, ok)
	assert.Equal(t, day, out.Day)
	assert.Equal(t, 288, out.IntervalCount)
	assert.Equal(t, 288, out.ExpectedCount)
	assert.InDelta(t, 288*2.5, *out.Delta, 1e-9)
	assert.True(t, out.Complete())
	assert.False(t, out.Flags.Degraded())
}

func TestRollupDayPowerColumns(t *testing.T) {
	p := powerPoint()
	rows := []FiveMinute{
		{SystemID: 1, PointIndex: 2, IntervalEnd: day.Add(10 * time.Minute), Avg: v(100), Min: v(50), Max: v(150), Last: v(120), GoodCount: 1},
		{SystemID: 1, PointIndex: 2, IntervalEnd: day.Add(5 * time.Minute), Avg: v(400), Min: v(10), Max: v(900), Last: v(300), GoodCount: 3},
		{SystemID: 1, PointIndex: 2, IntervalEnd: day.Add(24*time.Hour + 5*time.Minute), Avg: v(1e6), GoodCount: 1},
		{SystemID: 9, PointIndex: 2, IntervalEnd: day.Add(15 * time.Minute), Avg: v(1e6), GoodCount: 1},
	}
	out, ok := RollupDay(p, day, rows)
	require.True(t, ok)
	assert.Equal(t, 2, out.IntervalCount)
	assert.InDelta(t, (100.0*1+400.0*3)/4, *out.Avg, 1e-9)
	assert.Equal(t, 10.0, *out.Min)
	assert.Equal(t, 900.0, *out.Max)
	assert.Equal(t, 120.0, *out.Last)
	assert.True(t, out.Flags.Has(FlagPartial))
}

func TestRollupDayMidnightBucketBelongsToPreviousDay(t *testing.T) {
	p := powerPoint()
	rows := []FiveMinute{{SystemID: 1, PointIndex: 2, IntervalEnd: day.Add(24 * time.Hour), Avg: v(1), GoodCount: 1}}
	_, ok := RollupDay(p, day.Add(24*time.Hour), rows)
	assert.False(t, ok)
	out, ok := RollupDay(p, day, rows)
	require.True(t, ok)
	assert.Equal(t, 1, out.IntervalCount)
}

func TestRollupDayDegradedEnergy(t *testing.T) {
	stem := "bidi.battery"
	p := points.Point{
		SystemID:        4,
		PointIndex:      7,
		MetricType:      points.MetricEnergy,
		Integration:     points.IntegrationTrapezoid,
		Resolution:      points.Resolution1d,
		LogicalPathStem: &stem,
	}
	rows := []FiveMinute{{SystemID: 4, PointIndex: 7, IntervalEnd: day.Add(5 * time.Minute), Avg: v(250), SampleCount: 1, GoodCount: 1}}

	out, ok := RollupDay(p, day, rows)
	require.True(t, ok)
	assert.Equal(t, 1, out.ExpectedCount)
	assert.InDelta(t, 6000.0, *out.Delta, 1e-9)
	assert.True(t, out.Flags.Has(FlagApproximate))
	assert.True(t, out.Flags.Has(FlagDirectionless))
	assert.False(t, out.Flags.Has(FlagPartial))

	solar := "source.solar"
	p.LogicalPathStem = &solar
	out, _ = RollupDay(p, day, rows)
	assert.True(t, out.Flags.Has(FlagApproximate))
	assert.False(t, out.Flags.Has(FlagDirectionless))
}

func TestRollupDayAllBad(t *testing.T) {
	p := powerPoint()
	rows := []FiveMinute{{SystemID: 1, PointIndex: 2, IntervalEnd: day.Add(5 * time.Minute), Last: v(3), SampleCount: 2, Flags: Flags{FlagNoGoodSamples}}}
	out, ok := RollupDay(p, day, rows)
	require.True(t, ok)
	assert.Nil(t, out.Avg)
	assert.Equal(t, 3.0, *out.Last)
	assert.True(t, out.Flags.Has(FlagNoGoodSamples))
}

func TestRollupDayIsIdempotent(t *testing.T) {
	p := powerPoint()
	rows := fullDay(p, func(i int, row *FiveMinute) { row.Avg = v(float64(i)); row.Last = v(float64(i)) })
	a, _ := RollupDay(p, day, rows)
	b, _ := RollupDay(p, day, rows)
	assert.Equal(t, a, b)
}

func TestFlagsRoundTrip(t *testing.T) {
	fs := Flags{}.With(FlagPartial).With(FlagApproximate).With(FlagPartial)
	assert.Equal(t, "approximate,partial", fs.String())
	assert.Equal(t, fs, ParseFlags(fs.String()))
	assert.Empty(t, ParseFlags(""))
}
