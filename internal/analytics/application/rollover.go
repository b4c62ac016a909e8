package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/domain/rollup"
	telemetry "telemetry-engine/internal/telemetry/domain"
)

// DayAggregator is the slice of Service the rollover handler drives.
type DayAggregator interface {
	AggregateDay(ctx context.Context, systemID int64, day time.Time) (DayResult, error)
}

// RolloverHandler re-rolls daily aggregates when ingest closes a day or
// delivers late data for an already closed day.
type RolloverHandler struct {
	days   DayAggregator
	clock  rollup.Clock
	logger *zap.Logger

	mu      sync.Mutex
	lastDay map[int64]time.Time
}

// NewRolloverHandler constructs the handler.
func NewRolloverHandler(days DayAggregator, clock rollup.Clock, logger *zap.Logger) (*RolloverHandler, error) {
	if days == nil {
		return nil, errors.New("rollover handler: nil aggregator")
	}
	if clock == nil {
		clock = rollup.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RolloverHandler{days: days, clock: clock, logger: logger.Named("rollover"), lastDay: make(map[int64]time.Time)}, nil
}

// HandleReadingsIngested aggregates every closed day the batch touched, plus
// the system's previous day when the batch moved it into a new one.
func (h *RolloverHandler) HandleReadingsIngested(ctx context.Context, evt telemetry.ReadingsIngested) error {
	if evt.SystemID <= 0 || len(evt.BucketEnds) == 0 {
		return nil
	}
	today := rollup.DayStart(h.clock.Now())

	due := make(map[time.Time]struct{})
	var newest time.Time
	for _, end := range evt.BucketEnds {
		day := rollup.DayOfBucket(end)
		if day.After(newest) {
			newest = day
		}
		if day.Before(today) {
			due[day] = struct{}{}
		}
	}

	h.mu.Lock()
	previous, seen := h.lastDay[evt.SystemID]
	if !seen || newest.After(previous) {
		h.lastDay[evt.SystemID] = newest
	}
	h.mu.Unlock()
	if seen && newest.After(previous) {
		due[previous] = struct{}{}
	}

	var errs []error
	for _, day := range sortedDays(due) {
		if _, err := h.days.AggregateDay(ctx, evt.SystemID, day); err != nil {
			h.logger.Error("rollover aggregation failed",
				zap.Int64("system_id", evt.SystemID),
				zap.String("day", rollup.DayKey(day)),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
