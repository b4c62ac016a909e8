package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/domain/rollup"
	"telemetry-engine/internal/observability/metrics"
	points "telemetry-engine/internal/points/domain"
	telemetry "telemetry-engine/internal/telemetry/domain"
)

// RecomputeBuckets rebuilds the given five-minute buckets of p from raw
// readings and upserts them in one statement batch. Empty buckets are skipped.
func (s *Service) RecomputeBuckets(ctx context.Context, p points.Point, bucketEnds []time.Time) (int, error) {
	ends, err := normalizeEnds(bucketEnds)
	if err != nil {
		return 0, err
	}
	if len(ends) == 0 {
		return 0, nil
	}

	release := s.bktLocks.Lock(p.Ref().String())
	defer release()

	trapezoid := p.MetricType == points.MetricEnergy && p.EffectiveIntegration() == points.IntegrationTrapezoid
	rows := make([]rollup.FiveMinute, 0, len(ends))
	for _, end := range ends {
		start := rollup.BucketStart(end)
		readings, err := s.readings.ListRange(ctx, p.SystemID, p.PointIndex, start, end)
		if err != nil {
			return 0, fmt.Errorf("load raw readings for %s at %s: %w", p.Ref(), end.Format(time.RFC3339), err)
		}
		in := rollup.BucketInput{End: end, Samples: toSamples(readings)}
		if trapezoid && len(in.Samples) > 0 {
			prev, ok, err := s.readings.Previous(ctx, p.SystemID, p.PointIndex, start)
			if err != nil {
				return 0, fmt.Errorf("load carry-in reading for %s: %w", p.Ref(), err)
			}
			if ok && !prev.MeasurementTime.Before(start.Add(-rollup.BucketWidth)) {
				sample := toSample(prev)
				in.Previous = &sample
			}
		}
		row, ok := rollup.AggregateBucket(p, in)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.fivemin.UpsertFiveMinute(ctx, rows); err != nil {
		return 0, fmt.Errorf("upsert five-minute rows for %s: %w", p.Ref(), err)
	}
	metrics.AddBucketUpserts(len(rows))
	s.logger.Debug("buckets recomputed",
		zap.Int64("system_id", p.SystemID),
		zap.Int("point_index", p.PointIndex),
		zap.Int("buckets", len(rows)),
	)
	return len(rows), nil
}

// BucketsTouched returns the buckets a batch of measurement times affects for p.
// Trapezoid energy also touches the following bucket, whose first segment
// starts at the last sample of the previous one.
func BucketsTouched(p points.Point, times []time.Time) []time.Time {
	trapezoid := p.MetricType == points.MetricEnergy && p.EffectiveIntegration() == points.IntegrationTrapezoid
	seen := make(map[time.Time]struct{}, len(times))
	out := make([]time.Time, 0, len(times))
	add := func(t time.Time) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range times {
		end := rollup.BucketEnd(t)
		add(end)
		if trapezoid {
			add(end.Add(rollup.BucketWidth))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func normalizeEnds(ends []time.Time) ([]time.Time, error) {
	seen := make(map[time.Time]struct{}, len(ends))
	out := make([]time.Time, 0, len(ends))
	for _, end := range ends {
		end = end.UTC()
		if !end.Equal(end.Truncate(rollup.BucketWidth)) {
			return nil, fmt.Errorf("%w: %s", rollup.ErrInvalidBucketEnd, end.Format(time.RFC3339Nano))
		}
		if _, ok := seen[end]; ok {
			continue
		}
		seen[end] = struct{}{}
		out = append(out, end)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func toSamples(readings []telemetry.Reading) []rollup.Sample {
	out := make([]rollup.Sample, 0, len(readings))
	for _, r := range readings {
		out = append(out, toSample(r))
	}
	return out
}

func toSample(r telemetry.Reading) rollup.Sample {
	return rollup.Sample{Time: r.MeasurementTime, Value: r.Value, Good: r.Quality.IsGood()}
}
