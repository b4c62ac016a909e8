package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "telemetry-engine/internal/telemetry/domain"
)

type seriesKey struct {
	systemID   int64
	pointIndex int
}

// ReadingRepository keeps raw readings in memory.
type ReadingRepository struct {
	mu   sync.RWMutex
	data map[seriesKey]map[int64]telemetry.Reading
}

// NewReadingRepository constructs an empty repository.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{data: make(map[seriesKey]map[int64]telemetry.Reading)}
}

// UpsertReadings stores readings keyed by (system, point, measurement time).
func (r *ReadingRepository) UpsertReadings(ctx context.Context, readings []telemetry.Reading) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reading := range readings {
		key := seriesKey{reading.SystemID, reading.PointIndex}
		byTime := r.data[key]
		if byTime == nil {
			byTime = make(map[int64]telemetry.Reading)
			r.data[key] = byTime
		}
		reading.MeasurementTime = reading.MeasurementTime.UTC()
		reading.ReceivedTime = reading.ReceivedTime.UTC()
		byTime[reading.MeasurementTime.UnixNano()] = reading
	}
	return nil
}

// ListRange returns readings in [from, to) ordered by time.
func (r *ReadingRepository) ListRange(ctx context.Context, systemID int64, pointIndex int, from, to time.Time) ([]telemetry.Reading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []telemetry.Reading
	for _, reading := range r.data[seriesKey{systemID, pointIndex}] {
		if reading.MeasurementTime.Before(from) || !reading.MeasurementTime.Before(to) {
			continue
		}
		out = append(out, reading)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeasurementTime.Before(out[j].MeasurementTime) })
	return out, nil
}

// Previous returns the latest reading strictly before the given time.
func (r *ReadingRepository) Previous(ctx context.Context, systemID int64, pointIndex int, before time.Time) (telemetry.Reading, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best  telemetry.Reading
		found bool
	)
	for _, reading := range r.data[seriesKey{systemID, pointIndex}] {
		if !reading.MeasurementTime.Before(before) {
			continue
		}
		if !found || reading.MeasurementTime.After(best.MeasurementTime) {
			best = reading
			found = true
		}
	}
	return best, found, nil
}

// Next returns the earliest reading strictly after the given time.
func (r *ReadingRepository) Next(ctx context.Context, systemID int64, pointIndex int, after time.Time) (telemetry.Reading, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best  telemetry.Reading
		found bool
	)
	for _, reading := range r.data[seriesKey{systemID, pointIndex}] {
		if !reading.MeasurementTime.After(after) {
			continue
		}
		if !found || reading.MeasurementTime.Before(best.MeasurementTime) {
			best = reading
			found = true
		}
	}
	return best, found, nil
}

// ListBefore pages readings older than cutoff in key order.
func (r *ReadingRepository) ListBefore(ctx context.Context, cutoff time.Time, after *telemetry.ReadingKey, limit int) ([]telemetry.Reading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []telemetry.Reading
	for _, byTime := range r.data {
		for _, reading := range byTime {
			if !reading.MeasurementTime.Before(cutoff) {
				continue
			}
			if after != nil && !after.Less(reading.Key()) {
				continue
			}
			out = append(out, reading)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteReadings removes readings by key.
func (r *ReadingRepository) DeleteReadings(ctx context.Context, keys []telemetry.ReadingKey) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for _, k := range keys {
		byTime := r.data[seriesKey{k.SystemID, k.PointIndex}]
		ts := k.MeasurementTime.UTC().UnixNano()
		if _, ok := byTime[ts]; ok {
			delete(byTime, ts)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the number of stored readings.
func (r *ReadingRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byTime := range r.data {
		n += len(byTime)
	}
	return n
}
