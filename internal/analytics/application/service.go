package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/domain/rollup"
	"telemetry-engine/internal/eventing"
	points "telemetry-engine/internal/points/domain"
	telemetry "telemetry-engine/internal/telemetry/domain"
)

// PointCatalog is the slice of the point service aggregation depends on.
type PointCatalog interface {
	ListPoints(ctx context.Context, systemID int64, includeInactive bool) ([]points.Point, error)
	ListSystems(ctx context.Context) ([]int64, error)
}

// RawArchiver copies raw readings somewhere durable before they are purged.
type RawArchiver interface {
	Archive(ctx context.Context, readings []telemetry.Reading) error
}

// Retention windows. A zero window keeps the store forever.
type Retention struct {
	Raw        time.Duration
	FiveMinute time.Duration
	Daily      time.Duration
	BatchSize  int
}

const defaultPurgeBatch = 1000

// Service runs the raw to five-minute to daily pipeline.
type Service struct {
	points   PointCatalog
	readings telemetry.Repository
	fivemin  rollup.FiveMinuteRepository
	daily    rollup.DailyRepository

	bus       eventing.EventBus
	archiver  RawArchiver
	retention Retention
	clock     rollup.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
	dayLocks  *keyedLocks
	bktLocks  *keyedLocks
}

// Option configures the service.
type Option func(*Service)

// WithEventBus publishes DayAggregated after each day.
func WithEventBus(bus eventing.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithArchiver archives raw readings before purge deletes them.
func WithArchiver(archiver RawArchiver) Option {
	return func(s *Service) { s.archiver = archiver }
}

// WithRetention sets purge windows.
func WithRetention(r Retention) Option {
	return func(s *Service) { s.retention = r }
}

// WithClock overrides the time source.
func WithClock(clock rollup.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs the aggregation service.
func NewService(
	catalog PointCatalog,
	readings telemetry.Repository,
	fivemin rollup.FiveMinuteRepository,
	daily rollup.DailyRepository,
	logger *zap.Logger,
	opts ...Option,
) (*Service, error) {
	if catalog == nil {
		return nil, errors.New("aggregation service: nil point catalog")
	}
	if readings == nil {
		return nil, errors.New("aggregation service: nil reading repository")
	}
	if fivemin == nil {
		return nil, errors.New("aggregation service: nil five-minute repository")
	}
	if daily == nil {
		return nil, errors.New("aggregation service: nil daily repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		points:   catalog,
		readings: readings,
		fivemin:  fivemin,
		daily:    daily,
		clock:    rollup.SystemClock{},
		logger:   logger.Named("aggregation"),
		tracer:   otel.Tracer("telemetry-engine/analytics"),
		dayLocks: newKeyedLocks(),
		bktLocks: newKeyedLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retention.BatchSize <= 0 {
		s.retention.BatchSize = defaultPurgeBatch
	}
	return s, nil
}

func (s *Service) now() time.Time { return s.clock.Now().UTC() }
