package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"telemetry-engine/internal/analytics/domain/rollup"
)

type rowKey struct {
	systemID   int64
	pointIndex int
	at         int64
}

// FiveMinuteRepository is an in-memory five-minute aggregate store.
type FiveMinuteRepository struct {
	mu   sync.RWMutex
	rows map[rowKey]rollup.FiveMinute
}

// NewFiveMinuteRepository constructs an empty store.
func NewFiveMinuteRepository() *FiveMinuteRepository {
	return &FiveMinuteRepository{rows: make(map[rowKey]rollup.FiveMinute)}
}

// UpsertFiveMinute writes rows keyed by interval end.
func (r *FiveMinuteRepository) UpsertFiveMinute(ctx context.Context, rows []rollup.FiveMinute) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		row.IntervalEnd = row.IntervalEnd.UTC()
		r.rows[rowKey{row.SystemID, row.PointIndex, row.IntervalEnd.Unix()}] = row
	}
	return nil
}

// ListPointRange returns rows with interval end in (after, through].
func (r *FiveMinuteRepository) ListPointRange(ctx context.Context, systemID int64, pointIndex int, after, through time.Time) ([]rollup.FiveMinute, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rollup.FiveMinute
	for k, row := range r.rows {
		if k.systemID != systemID || k.pointIndex != pointIndex {
			continue
		}
		if !row.IntervalEnd.After(after) || row.IntervalEnd.After(through) {
			continue
		}
		out = append(out, row)
	}
	sortFiveMinute(out)
	return out, nil
}

// ListSystemDay returns a system's rows for day.
func (r *FiveMinuteRepository) ListSystemDay(ctx context.Context, systemID int64, day time.Time) ([]rollup.FiveMinute, error) {
	_ = ctx
	after, through := rollup.DayBucketRange(day)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rollup.FiveMinute
	for k, row := range r.rows {
		if k.systemID != systemID {
			continue
		}
		if !row.IntervalEnd.After(after) || row.IntervalEnd.After(through) {
			continue
		}
		out = append(out, row)
	}
	sortFiveMinute(out)
	return out, nil
}

// DayCounts counts rows per point and day.
func (r *FiveMinuteRepository) DayCounts(ctx context.Context, systemID int64) ([]rollup.DayCount, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	type key struct {
		point int
		day   int64
	}
	counts := make(map[key]int)
	for k, row := range r.rows {
		if k.systemID != systemID {
			continue
		}
		counts[key{k.pointIndex, rollup.DayOfBucket(row.IntervalEnd).Unix()}]++
	}
	out := make([]rollup.DayCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, rollup.DayCount{PointIndex: k.point, Day: time.Unix(k.day, 0).UTC(), Count: n})
	}
	sortDayCounts(out)
	return out, nil
}

// DeleteSystemDay removes a system's rows for day.
func (r *FiveMinuteRepository) DeleteSystemDay(ctx context.Context, systemID int64, day time.Time) (int64, error) {
	_ = ctx
	after, through := rollup.DayBucketRange(day)
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for k, row := range r.rows {
		if k.systemID != systemID {
			continue
		}
		if !row.IntervalEnd.After(after) || row.IntervalEnd.After(through) {
			continue
		}
		delete(r.rows, k)
		deleted++
	}
	return deleted, nil
}

// DailyRepository is an in-memory daily aggregate store.
type DailyRepository struct {
	mu   sync.RWMutex
	rows map[rowKey]rollup.Daily
}

// NewDailyRepository constructs an empty store.
func NewDailyRepository() *DailyRepository {
	return &DailyRepository{rows: make(map[rowKey]rollup.Daily)}
}

// UpsertDaily writes rows keyed by day.
func (r *DailyRepository) UpsertDaily(ctx context.Context, rows []rollup.Daily) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		row.Day = rollup.DayStart(row.Day)
		r.rows[rowKey{row.SystemID, row.PointIndex, row.Day.Unix()}] = row
	}
	return nil
}

// ListRange returns rows with day in [from, to).
func (r *DailyRepository) ListRange(ctx context.Context, systemID int64, from, to time.Time) ([]rollup.Daily, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rollup.Daily
	for k, row := range r.rows {
		if k.systemID != systemID {
			continue
		}
		if row.Day.Before(from) || !row.Day.Before(to) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].PointIndex < out[j].PointIndex
	})
	return out, nil
}

// DayCounts returns recorded interval counts.
func (r *DailyRepository) DayCounts(ctx context.Context, systemID int64) ([]rollup.DayCount, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rollup.DayCount
	for k, row := range r.rows {
		if k.systemID != systemID {
			continue
		}
		out = append(out, rollup.DayCount{PointIndex: row.PointIndex, Day: row.Day, Count: row.IntervalCount})
	}
	sortDayCounts(out)
	return out, nil
}

// DeleteAll clears the store.
func (r *DailyRepository) DeleteAll(ctx context.Context) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.rows))
	r.rows = make(map[rowKey]rollup.Daily)
	return n, nil
}

// DeleteBefore removes rows with day before cutoff.
func (r *DailyRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for k, row := range r.rows {
		if row.Day.Before(cutoff) {
			delete(r.rows, k)
			deleted++
		}
	}
	return deleted, nil
}

func sortFiveMinute(rows []rollup.FiveMinute) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].IntervalEnd.Equal(rows[j].IntervalEnd) {
			return rows[i].IntervalEnd.Before(rows[j].IntervalEnd)
		}
		return rows[i].PointIndex < rows[j].PointIndex
	})
}

func sortDayCounts(counts []rollup.DayCount) {
	sort.Slice(counts, func(i, j int) bool {
		if !counts[i].Day.Equal(counts[j].Day) {
			return counts[i].Day.Before(counts[j].Day)
		}
		return counts[i].PointIndex < counts[j].PointIndex
	})
}
