package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/domain/rollup"
	"telemetry-engine/internal/observability/metrics"
	points "telemetry-engine/internal/points/domain"
)

const (
	SweepMissing    = "missing"
	SweepLastNDays  = "last_n_days"
	SweepRegenerate = "regenerate"
)

// SystemResult is the outcome of a sweep for one system. Days lists the days
// aggregated before Err, if any, stopped the system.
type SystemResult struct {
	SystemID int64
	Days     []time.Time
	Err      error
}

// SweepReport collects per-system outcomes. A sweep never aborts on one system.
type SweepReport struct {
	Sweep      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []SystemResult
}

// Failed returns the systems whose sweep stopped with an error.
func (r SweepReport) Failed() []SystemResult {
	var out []SystemResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// DaysAggregated counts aggregated system days.
func (r SweepReport) DaysAggregated() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Days)
	}
	return n
}

// AggregateAllMissingDaysForAllSystems aggregates every day that has
// five-minute rows but no daily row, or a daily row whose interval count no
// longer matches, in chronological order per system.
func (s *Service) AggregateAllMissingDaysForAllSystems(ctx context.Context) (SweepReport, error) {
	return s.sweep(ctx, SweepMissing, s.missingDays)
}

// AggregateLastNDays recomputes the last n UTC days, today included.
func (s *Service) AggregateLastNDays(ctx context.Context, n int) (SweepReport, error) {
	if n < 1 {
		return SweepReport{}, &points.ValidationError{Field: "days", Input: fmt.Sprint(n), Reason: "must be at least 1"}
	}
	today := rollup.DayStart(s.now())
	days := make([]time.Time, 0, n)
	for i := n - 1; i >= 0; i-- {
		days = append(days, today.AddDate(0, 0, -i))
	}
	return s.sweep(ctx, SweepLastNDays, func(context.Context, int64) ([]time.Time, error) {
		return days, nil
	})
}

// RegenerateAll clears the daily store and rebuilds every day from five-minute rows.
func (s *Service) RegenerateAll(ctx context.Context) (SweepReport, error) {
	deleted, err := s.daily.DeleteAll(ctx)
	if err != nil {
		return SweepReport{Sweep: SweepRegenerate}, fmt.Errorf("clear daily store: %w", err)
	}
	s.logger.Warn("daily store cleared for regeneration", zap.Int64("rows", deleted))
	return s.sweep(ctx, SweepRegenerate, s.allDays)
}

type dayPlanner func(ctx context.Context, systemID int64) ([]time.Time, error)

func (s *Service) sweep(ctx context.Context, name string, plan dayPlanner) (SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "aggregation.sweep")
	defer span.End()
	span.SetAttributes(attribute.String("sweep", name))

	report := SweepReport{Sweep: name, StartedAt: s.now()}
	systems, err := s.points.ListSystems(ctx)
	if err != nil {
		return report, fmt.Errorf("list systems: %w", err)
	}
	for _, systemID := range systems {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := SystemResult{SystemID: systemID}
		days, err := plan(ctx, systemID)
		if err != nil {
			res.Err = err
		}
		for _, day := range days {
			if res.Err != nil {
				break
			}
			if _, err := s.AggregateDay(ctx, systemID, day); err != nil {
				res.Err = err
				break
			}
			res.Days = append(res.Days, day)
		}
		if res.Err != nil {
			metrics.IncSweepFailure(name)
			s.logger.Error("sweep failed for system",
				zap.String("sweep", name),
				zap.Int64("system_id", systemID),
				zap.Int("days_done", len(res.Days)),
				zap.Error(res.Err),
			)
		}
		report.Results = append(report.Results, res)
	}
	report.FinishedAt = s.now()
	span.SetAttributes(attribute.Int("systems", len(report.Results)), attribute.Int("failed", len(report.Failed())))
	s.logger.Info("sweep finished",
		zap.String("sweep", name),
		zap.Int("systems", len(report.Results)),
		zap.Int("days", report.DaysAggregated()),
		zap.Int("failed", len(report.Failed())),
	)
	return report, nil
}

// missingDays compares five-minute row counts with recorded interval counts.
func (s *Service) missingDays(ctx context.Context, systemID int64) ([]time.Time, error) {
	have, err := s.fivemin.DayCounts(ctx, systemID)
	if err != nil {
		return nil, fmt.Errorf("five-minute day counts: %w", err)
	}
	recorded, err := s.daily.DayCounts(ctx, systemID)
	if err != nil {
		return nil, fmt.Errorf("daily day counts: %w", err)
	}
	type key struct {
		idx int
		day time.Time
	}
	done := make(map[key]int, len(recorded))
	for _, c := range recorded {
		done[key{c.PointIndex, rollup.DayStart(c.Day)}] = c.Count
	}
	stale := make(map[time.Time]struct{})
	for _, c := range have {
		day := rollup.DayStart(c.Day)
		if count, ok := done[key{c.PointIndex, day}]; ok && count == c.Count {
			continue
		}
		stale[day] = struct{}{}
	}
	return sortedDays(stale), nil
}

func (s *Service) allDays(ctx context.Context, systemID int64) ([]time.Time, error) {
	have, err := s.fivemin.DayCounts(ctx, systemID)
	if err != nil {
		return nil, fmt.Errorf("five-minute day counts: %w", err)
	}
	days := make(map[time.Time]struct{}, len(have))
	for _, c := range have {
		days[rollup.DayStart(c.Day)] = struct{}{}
	}
	return sortedDays(days), nil
}

func sortedDays(set map[time.Time]struct{}) []time.Time {
	out := make([]time.Time, 0, len(set))
	for day := range set {
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
