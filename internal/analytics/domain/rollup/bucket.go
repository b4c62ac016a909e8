package rollup

import (
	"sort"
	"time"

	points "telemetry-engine/internal/points/domain"
)

// Sample is one raw value as seen by the aggregator.
type Sample struct {
	Time  time.Time
	Value *float64
	Good  bool
}

func (s Sample) valid() bool { return s.Good && s.Value != nil }

// FiveMinute is a five-minute aggregate row.
// Invariant: never produced for a bucket without samples.
type FiveMinute struct {
	SystemID    int64
	PointIndex  int
	IntervalEnd time.Time

	Avg   *float64
	Min   *float64
	Max   *float64
	Last  *float64
	Delta *float64

	SampleCount int
	GoodCount   int
	Flags       Flags
}

// BucketInput is what AggregateBucket needs for one bucket.
type BucketInput struct {
	End     time.Time
	Samples []Sample
	// Previous is the last sample before the bucket start, at most one bucket
	// earlier. Trapezoid energy attributes the segment ending in this bucket here.
	Previous *Sample
}

// AggregateBucket computes the five-minute row for p. ok is false when the
// bucket holds no samples.
func AggregateBucket(p points.Point, in BucketInput) (FiveMinute, bool) {
	start := BucketStart(in.End)
	samples := make([]Sample, 0, len(in.Samples))
	for _, s := range in.Samples {
		if s.Time.Before(start) || !s.Time.Before(in.End) {
			continue
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return FiveMinute{}, false
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })

	row := FiveMinute{
		SystemID:    p.SystemID,
		PointIndex:  p.PointIndex,
		IntervalEnd: in.End.UTC(),
		SampleCount: len(samples),
	}

	var sum float64
	for _, s := range samples {
		if s.Value != nil {
			row.Last = float64Ptr(*s.Value)
		}
		if !s.valid() {
			continue
		}
		v := *s.Value
		row.GoodCount++
		sum += v
		if row.Min == nil || v < *row.Min {
			row.Min = float64Ptr(v)
		}
		if row.Max == nil || v > *row.Max {
			row.Max = float64Ptr(v)
		}
	}
	if row.GoodCount > 0 {
		row.Avg = float64Ptr(sum / float64(row.GoodCount))
	} else {
		row.Flags = row.Flags.With(FlagNoGoodSamples)
	}

	if p.MetricType == points.MetricEnergy {
		switch p.EffectiveIntegration() {
		case points.IntegrationTrapezoid:
			series := samples
			if in.Previous != nil && !in.Previous.Time.Before(start.Add(-BucketWidth)) && in.Previous.Time.Before(start) {
				series = append([]Sample{*in.Previous}, samples...)
			}
			if wh, ok := IntegrateTrapezoid(series); ok {
				row.Delta = float64Ptr(wh)
			}
		default:
			if row.GoodCount > 0 {
				row.Delta = float64Ptr(sum)
			}
		}
	}

	mask(&row, p)
	return row, true
}

// IntegrateTrapezoid integrates power samples in W to energy in Wh.
// Segments with a missing or non-good endpoint are skipped. ok is false when
// no segment could be integrated.
func IntegrateTrapezoid(samples []Sample) (float64, bool) {
	sorted := append([]Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var (
		wh       float64
		segments int
	)
	for i := 0; i+1 < len(sorted); i++ {
		a, b := sorted[i], sorted[i+1]
		if !a.valid() || !b.valid() {
			continue
		}
		hours := b.Time.Sub(a.Time).Hours()
		if hours <= 0 {
			continue
		}
		wh += (*a.Value + *b.Value) / 2 * hours
		segments++
	}
	return wh, segments > 0
}

// mask clears columns the metric type does not expose. Trapezoid energy keeps
// Avg so the daily rollup can fall back to average power.
func mask(row *FiveMinute, p points.Point) {
	keepAvg := p.MetricType.Allows(points.ColumnAvg) ||
		(p.MetricType == points.MetricEnergy && p.EffectiveIntegration() == points.IntegrationTrapezoid)
	if !keepAvg {
		row.Avg = nil
	}
	if !p.MetricType.Allows(points.ColumnMin) {
		row.Min = nil
	}
	if !p.MetricType.Allows(points.ColumnMax) {
		row.Max = nil
	}
	if !p.MetricType.Allows(points.ColumnLast) {
		row.Last = nil
	}
	if !p.MetricType.Allows(points.ColumnDelta) {
		row.Delta = nil
	}
}

func float64Ptr(v float64) *float64 { return &v }
