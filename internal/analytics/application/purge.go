package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/application/events"
	"telemetry-engine/internal/analytics/domain/rollup"
	"telemetry-engine/internal/observability/metrics"
	points "telemetry-engine/internal/points/domain"
	telemetry "telemetry-engine/internal/telemetry/domain"
)

// PurgeReport counts what a retention pass removed.
type PurgeReport struct {
	RawDeleted        int64
	RawArchived       int64
	RawKept           int64
	FiveMinuteDeleted int64
	DailyDeleted      int64
}

// Purge applies the retention windows relative to now. Raw readings go only
// once their five-minute bucket exists; five-minute rows go only once their
// day has daily rows.
func (s *Service) Purge(ctx context.Context, now time.Time) (PurgeReport, error) {
	ctx, span := s.tracer.Start(ctx, "aggregation.Purge")
	defer span.End()

	now = now.UTC()
	var report PurgeReport
	if s.retention.Raw > 0 {
		if err := s.purgeRaw(ctx, now.Add(-s.retention.Raw), &report); err != nil {
			return report, err
		}
	}
	if s.retention.FiveMinute > 0 {
		if err := s.purgeFiveMinute(ctx, rollup.DayStart(now.Add(-s.retention.FiveMinute)), &report); err != nil {
			return report, err
		}
	}
	if s.retention.Daily > 0 {
		deleted, err := s.daily.DeleteBefore(ctx, rollup.DayStart(now.Add(-s.retention.Daily)))
		if err != nil {
			return report, fmt.Errorf("purge daily rows: %w", err)
		}
		report.DailyDeleted = deleted
		metrics.AddPurgedRows("daily", deleted)
	}

	s.logger.Info("retention pass finished",
		zap.Int64("raw_deleted", report.RawDeleted),
		zap.Int64("raw_archived", report.RawArchived),
		zap.Int64("raw_kept", report.RawKept),
		zap.Int64("fivemin_deleted", report.FiveMinuteDeleted),
		zap.Int64("daily_deleted", report.DailyDeleted),
	)
	s.publish(ctx, events.RawPurged{
		RawDeleted:        report.RawDeleted,
		FiveMinuteDeleted: report.FiveMinuteDeleted,
		DailyDeleted:      report.DailyDeleted,
		OccurredAt:        s.now(),
	})
	return report, nil
}

func (s *Service) purgeRaw(ctx context.Context, cutoff time.Time, report *PurgeReport) error {
	var after *telemetry.ReadingKey
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.readings.ListBefore(ctx, cutoff, after, s.retention.BatchSize)
		if err != nil {
			return fmt.Errorf("page raw readings: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		last := page[len(page)-1].Key()
		after = &last

		aggregated, err := s.aggregatedReadings(ctx, page)
		if err != nil {
			return err
		}
		report.RawKept += int64(len(page) - len(aggregated))
		if len(aggregated) == 0 {
			continue
		}
		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, aggregated); err != nil {
				return fmt.Errorf("archive raw readings: %w", err)
			}
			report.RawArchived += int64(len(aggregated))
		}
		keys := make([]telemetry.ReadingKey, 0, len(aggregated))
		for _, r := range aggregated {
			keys = append(keys, r.Key())
		}
		deleted, err := s.readings.DeleteReadings(ctx, keys)
		if err != nil {
			return fmt.Errorf("delete raw readings: %w", err)
		}
		report.RawDeleted += deleted
		metrics.AddPurgedRows("raw", deleted)
	}
}

// aggregatedReadings keeps the readings whose five-minute bucket is materialized.
func (s *Service) aggregatedReadings(ctx context.Context, page []telemetry.Reading) ([]telemetry.Reading, error) {
	type span struct{ first, last time.Time }
	spans := make(map[points.Ref]*span)
	for _, r := range page {
		ref := points.Ref{SystemID: r.SystemID, PointIndex: r.PointIndex}
		end := rollup.BucketEnd(r.MeasurementTime)
		sp := spans[ref]
		if sp == nil {
			spans[ref] = &span{first: end, last: end}
			continue
		}
		if end.Before(sp.first) {
			sp.first = end
		}
		if end.After(sp.last) {
			sp.last = end
		}
	}

	present := make(map[points.Ref]map[time.Time]struct{}, len(spans))
	for ref, sp := range spans {
		rows, err := s.fivemin.ListPointRange(ctx, ref.SystemID, ref.PointIndex, sp.first.Add(-rollup.BucketWidth), sp.last)
		if err != nil {
			return nil, fmt.Errorf("check five-minute buckets of %s: %w", ref, err)
		}
		ends := make(map[time.Time]struct{}, len(rows))
		for _, row := range rows {
			ends[row.IntervalEnd.UTC()] = struct{}{}
		}
		present[ref] = ends
	}

	out := make([]telemetry.Reading, 0, len(page))
	for _, r := range page {
		ref := points.Ref{SystemID: r.SystemID, PointIndex: r.PointIndex}
		if _, ok := present[ref][rollup.BucketEnd(r.MeasurementTime)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) purgeFiveMinute(ctx context.Context, cutoff time.Time, report *PurgeReport) error {
	systems, err := s.points.ListSystems(ctx)
	if err != nil {
		return fmt.Errorf("list systems: %w", err)
	}
	for _, systemID := range systems {
		rolled, err := s.daily.DayCounts(ctx, systemID)
		if err != nil {
			return fmt.Errorf("daily day counts of system %d: %w", systemID, err)
		}
		days := make(map[time.Time]struct{}, len(rolled))
		for _, c := range rolled {
			day := rollup.DayStart(c.Day)
			if day.Before(cutoff) {
				days[day] = struct{}{}
			}
		}
		for _, day := range sortedDays(days) {
			deleted, err := s.fivemin.DeleteSystemDay(ctx, systemID, day)
			if err != nil {
				return fmt.Errorf("delete five-minute rows of system %d day %s: %w", systemID, rollup.DayKey(day), err)
			}
			report.FiveMinuteDeleted += deleted
			metrics.AddPurgedRows("fivemin", deleted)
		}
	}
	return nil
}
