package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/application/events"
	"telemetry-engine/internal/analytics/domain/rollup"
	"telemetry-engine/internal/observability/metrics"
	points "telemetry-engine/internal/points/domain"
)

// DayResult summarizes one AggregateDay call.
type DayResult struct {
	SystemID int64
	Day      time.Time
	Rows     int
	Degraded int
}

// AggregateDay rebuilds every daily row of a system day from five-minute rows.
// Calls for the same system and day are serialized; the upsert is idempotent.
func (s *Service) AggregateDay(ctx context.Context, systemID int64, day time.Time) (result DayResult, err error) {
	day = rollup.DayStart(day)
	result = DayResult{SystemID: systemID, Day: day}
	if systemID <= 0 {
		return result, points.ErrInvalidSystemID
	}

	ctx, span := s.tracer.Start(ctx, "aggregation.AggregateDay")
	span.SetAttributes(attribute.Int64("system_id", systemID), attribute.String("day", rollup.DayKey(day)))
	started := time.Now()
	defer func() {
		outcome := metrics.ResultSuccess
		if err != nil {
			outcome = metrics.ResultError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveAggregationDay(outcome, time.Since(started))
		span.End()
	}()

	release := s.dayLocks.Lock(strconv.FormatInt(systemID, 10) + ":" + rollup.DayKey(day))
	defer release()

	pts, err := s.points.ListPoints(ctx, systemID, true)
	if err != nil {
		return result, fmt.Errorf("list points of system %d: %w", systemID, err)
	}
	rows, err := s.fivemin.ListSystemDay(ctx, systemID, day)
	if err != nil {
		return result, fmt.Errorf("load five-minute rows of system %d day %s: %w", systemID, rollup.DayKey(day), err)
	}
	byPoint := make(map[int][]rollup.FiveMinute)
	for _, row := range rows {
		byPoint[row.PointIndex] = append(byPoint[row.PointIndex], row)
	}

	dailies := make([]rollup.Daily, 0, len(byPoint))
	for _, p := range pts {
		pointRows := byPoint[p.PointIndex]
		if len(pointRows) == 0 {
			continue
		}
		delete(byPoint, p.PointIndex)
		daily, ok := rollup.RollupDay(p, day, pointRows)
		if !ok {
			continue
		}
		if daily.Flags.Has(rollup.FlagApproximate) {
			result.Degraded++
			s.logger.Warn("daily energy approximated from average power",
				zap.Int64("system_id", systemID),
				zap.Int("point_index", p.PointIndex),
				zap.String("day", rollup.DayKey(day)),
				zap.String("flags", daily.Flags.String()),
			)
		}
		for _, flag := range daily.Flags {
			metrics.IncDegradedRow(string(flag))
		}
		dailies = append(dailies, daily)
	}
	for idx := range byPoint {
		s.logger.Warn("five-minute rows without point metadata",
			zap.Int64("system_id", systemID),
			zap.Int("point_index", idx),
			zap.String("day", rollup.DayKey(day)),
		)
	}

	if len(dailies) > 0 {
		if err := s.daily.UpsertDaily(ctx, dailies); err != nil {
			return result, fmt.Errorf("upsert daily rows of system %d day %s: %w", systemID, rollup.DayKey(day), err)
		}
	}
	result.Rows = len(dailies)
	span.SetAttributes(attribute.Int("rows", result.Rows))

	s.logger.Info("day aggregated",
		zap.Int64("system_id", systemID),
		zap.String("day", rollup.DayKey(day)),
		zap.Int("rows", result.Rows),
		zap.Int("degraded", result.Degraded),
	)
	s.publish(ctx, events.DayAggregated{
		SystemID:   systemID,
		Day:        day,
		Rows:       result.Rows,
		Degraded:   result.Degraded,
		OccurredAt: s.now(),
	})
	return result, nil
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", fmt.Sprintf("%T", event)), zap.Error(err))
	}
}

// ListDaily returns a system's daily rows with day in [from, to).
func (s *Service) ListDaily(ctx context.Context, systemID int64, from, to time.Time) ([]rollup.Daily, error) {
	from, to = rollup.DayStart(from), rollup.DayStart(to)
	if !to.After(from) {
		return nil, &points.ValidationError{Field: "to", Input: rollup.DayKey(to), Reason: "must be after from"}
	}
	return s.daily.ListRange(ctx, systemID, from, to)
}

// ListPoints exposes the catalog to exporters.
func (s *Service) ListPoints(ctx context.Context, systemID int64) ([]points.Point, error) {
	return s.points.ListPoints(ctx, systemID, true)
}
