package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/eventing"
	latest "telemetry-engine/internal/latest/domain"
	"telemetry-engine/internal/observability/metrics"
)

// Service is the latest-value cache facade used by ingest, composites and the API.
type Service struct {
	store  latest.Store
	policy latest.OrderingPolicy
	bus    eventing.EventBus
	logger *zap.Logger
	now    func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithPolicy sets the ordering policy.
func WithPolicy(policy latest.OrderingPolicy) Option {
	return func(s *Service) {
		if policy != "" {
			s.policy = policy
		}
	}
}

// WithEventBus publishes LatestValueWritten after every accepted write.
func WithEventBus(bus eventing.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the cache service.
func NewService(store latest.Store, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("latest service: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		policy: latest.LastWriteWins,
		logger: logger.Named("latest"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the configured ordering policy.
func (s *Service) Policy() latest.OrderingPolicy { return s.policy }

// PutLatest stores e. written is false when the ordering policy refused it.
func (s *Service) PutLatest(ctx context.Context, e latest.Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	e.MeasurementTime = e.MeasurementTime.UTC()
	if e.ReceivedTime.IsZero() {
		e.ReceivedTime = s.now()
	}
	written, err := s.store.Put(ctx, e, s.policy)
	if err != nil {
		metrics.IncCacheWrite(metrics.ResultError)
		return false, err
	}
	if !written {
		metrics.IncCacheWrite(metrics.CacheRejected)
		s.logger.Debug("older write rejected",
			zap.Int64("system_id", e.SystemID),
			zap.String("path", e.LogicalPath),
			zap.Time("measurement_time", e.MeasurementTime),
		)
		return false, nil
	}
	metrics.IncCacheWrite(metrics.CacheWritten)

	if s.bus != nil {
		event := latest.LatestValueWritten{
			SystemID:        e.SystemID,
			LogicalPath:     e.LogicalPath,
			PointIndex:      e.PointIndex,
			Value:           e.Value,
			MeasurementTime: e.MeasurementTime,
			OccurredAt:      s.now(),
		}
		if err := s.bus.Publish(ctx, event); err != nil {
			s.logger.Warn("latest value subscribers failed",
				zap.Int64("system_id", e.SystemID),
				zap.String("path", e.LogicalPath),
				zap.Error(err),
			)
		}
	}
	return true, nil
}

// GetLatest returns the cached entry. Absence is (zero, false, nil).
func (s *Service) GetLatest(ctx context.Context, systemID int64, logicalPath string) (latest.Entry, bool, error) {
	e, ok, err := s.store.Get(ctx, systemID, logicalPath)
	if err != nil {
		return latest.Entry{}, false, err
	}
	metrics.IncCacheLookup(ok)
	return e, ok, nil
}

// GetAllLatest returns every cached entry of a system keyed by logical path.
func (s *Service) GetAllLatest(ctx context.Context, systemID int64) (map[string]latest.Entry, error) {
	return s.store.GetAll(ctx, systemID)
}

// Clear drops a system's cache.
func (s *Service) Clear(ctx context.Context, systemID int64) error {
	if err := s.store.Clear(ctx, systemID); err != nil {
		return err
	}
	s.logger.Info("latest cache cleared", zap.Int64("system_id", systemID))
	return nil
}

// ClearAll drops every system's cache.
func (s *Service) ClearAll(ctx context.Context) (int, error) {
	n, err := s.store.ClearAll(ctx)
	if err != nil {
		return n, err
	}
	s.logger.Info("latest cache cleared", zap.Int("systems", n))
	return n, nil
}
