package rollup

import (
	"sort"
	"time"

	points "telemetry-engine/internal/points/domain"
)

// Daily is a daily aggregate row derived from five-minute rows.
type Daily struct {
	SystemID   int64
	PointIndex int
	Day        time.Time

	Avg   *float64
	Min   *float64
	Max   *float64
	Last  *float64
	Delta *float64

	IntervalCount int
	ExpectedCount int
	Flags         Flags
}

// Complete reports whether every expected interval contributed.
func (d Daily) Complete() bool { return d.IntervalCount >= d.ExpectedCount }

// RollupDay combines a day's five-minute rows for p. Rows outside the day are
// ignored; ok is false when none remain.
func RollupDay(p points.Point, day time.Time, rows []FiveMinute) (Daily, bool) {
	day = DayStart(day)
	inDay := make([]FiveMinute, 0, len(rows))
	for _, r := range rows {
		if r.SystemID != p.SystemID || r.PointIndex != p.PointIndex {
			continue
		}
		if !DayOfBucket(r.IntervalEnd).Equal(day) {
			continue
		}
		inDay = append(inDay, r)
	}
	if len(inDay) == 0 {
		return Daily{}, false
	}
	sort.Slice(inDay, func(i, j int) bool { return inDay[i].IntervalEnd.Before(inDay[j].IntervalEnd) })

	out := Daily{
		SystemID:      p.SystemID,
		PointIndex:    p.PointIndex,
		Day:           day,
		IntervalCount: len(inDay),
		ExpectedCount: p.EffectiveResolution().ExpectedIntervals(),
	}

	var (
		weighted  float64
		weight    int
		deltaSum  float64
		haveDelta bool
		allBad    = true
	)
	for _, r := range inDay {
		if !r.Flags.Has(FlagNoGoodSamples) {
			allBad = false
		}
		if r.Avg != nil && r.GoodCount > 0 {
			weighted += *r.Avg * float64(r.GoodCount)
			weight += r.GoodCount
		}
		if r.Min != nil && (out.Min == nil || *r.Min < *out.Min) {
			out.Min = float64Ptr(*r.Min)
		}
		if r.Max != nil && (out.Max == nil || *r.Max > *out.Max) {
			out.Max = float64Ptr(*r.Max)
		}
		if r.Last != nil {
			out.Last = float64Ptr(*r.Last)
		}
		if r.Delta != nil {
			deltaSum += *r.Delta
			haveDelta = true
		}
	}
	if weight > 0 {
		out.Avg = float64Ptr(weighted / float64(weight))
	}
	if haveDelta {
		out.Delta = float64Ptr(deltaSum)
	}

	if p.MetricType == points.MetricEnergy && !haveDelta && out.Avg != nil &&
		p.EffectiveIntegration() == points.IntegrationTrapezoid {
		out.Delta = float64Ptr(*out.Avg * Day.Hours())
		out.Flags = out.Flags.With(FlagApproximate)
		if p.IsBidirectional() {
			out.Flags = out.Flags.With(FlagDirectionless)
		}
	}

	if allBad {
		out.Flags = out.Flags.With(FlagNoGoodSamples)
	}
	if out.IntervalCount < out.ExpectedCount {
		out.Flags = out.Flags.With(FlagPartial)
	}
	return out, true
}
