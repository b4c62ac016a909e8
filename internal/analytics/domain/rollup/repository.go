package rollup

import (
	"context"
	"time"
)

// DayCount is the number of five-minute rows (or the recorded interval count)
// for one point on one day.
type DayCount struct {
	PointIndex int
	Day        time.Time
	Count      int
}

// FiveMinuteRepository persists five-minute aggregates.
type FiveMinuteRepository interface {
	// UpsertFiveMinute writes rows atomically keyed by (system, point, interval end).
	UpsertFiveMinute(ctx context.Context, rows []FiveMinute) error
	// ListPointRange returns a point's rows with interval end in (after, through].
	ListPointRange(ctx context.Context, systemID int64, pointIndex int, after, through time.Time) ([]FiveMinute, error)
	// ListSystemDay returns every row of a system belonging to day.
	ListSystemDay(ctx context.Context, systemID int64, day time.Time) ([]FiveMinute, error)
	// DayCounts returns row counts per point and day for a system.
	DayCounts(ctx context.Context, systemID int64) ([]DayCount, error)
	// DeleteSystemDay removes a system's rows for day.
	DeleteSystemDay(ctx context.Context, systemID int64, day time.Time) (int64, error)
}

// DailyRepository persists daily aggregates.
type DailyRepository interface {
	// UpsertDaily writes rows atomically keyed by (system, point, day).
	UpsertDaily(ctx context.Context, rows []Daily) error
	// ListRange returns a system's rows with day in [from, to).
	ListRange(ctx context.Context, systemID int64, from, to time.Time) ([]Daily, error)
	// DayCounts returns the recorded interval counts per point and day.
	DayCounts(ctx context.Context, systemID int64) ([]DayCount, error)
	// DeleteAll clears the store.
	DeleteAll(ctx context.Context) (int64, error)
	// DeleteBefore removes rows with day before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
