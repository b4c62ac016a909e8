// Package composite recomputes derived points when one of their sources changes.
package composite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/eventing"
	latest "telemetry-engine/internal/latest/domain"
	"telemetry-engine/internal/observability/metrics"
	points "telemetry-engine/internal/points/domain"
	subscriptions "telemetry-engine/internal/subscriptions/domain"
)

// DefaultMaxHops bounds composite-of-composite chains.
const DefaultMaxHops = 4

// ErrHopLimit is returned when a recomputation chain exceeds the hop limit.
var ErrHopLimit = errors.New("composite: hop limit exceeded")

// Subscribers resolves the composites fed by a source point.
type Subscribers interface {
	GetSubscribers(ctx context.Context, systemID int64, sourcePointIndex int) ([]points.Ref, error)
	Definition(ctx context.Context, composite points.Ref) (subscriptions.Definition, bool, error)
}

// PointReader loads point metadata.
type PointReader interface {
	GetPoint(ctx context.Context, systemID int64, pointIndex int) (points.Point, error)
}

// LatestCache reads and writes latest values.
type LatestCache interface {
	GetLatest(ctx context.Context, systemID int64, logicalPath string) (latest.Entry, bool, error)
	PutLatest(ctx context.Context, e latest.Entry) (bool, error)
}

type hopKey struct{}

func hops(ctx context.Context) int {
	n, _ := ctx.Value(hopKey{}).(int)
	return n
}

func withHop(ctx context.Context) context.Context {
	return context.WithValue(ctx, hopKey{}, hops(ctx)+1)
}

// Handler writes Σ factor×value to each composite subscribed to a written source.
type Handler struct {
	subs    Subscribers
	points  PointReader
	cache   LatestCache
	logger  *zap.Logger
	maxHops int
}

// NewHandler constructs a handler.
func NewHandler(subs Subscribers, pointReader PointReader, cache LatestCache, logger *zap.Logger) (*Handler, error) {
	if subs == nil || pointReader == nil || cache == nil {
		return nil, errors.New("composite handler: missing dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{subs: subs, points: pointReader, cache: cache, logger: logger.Named("composite"), maxHops: DefaultMaxHops}, nil
}

// WithMaxHops overrides the hop limit.
func (h *Handler) WithMaxHops(n int) *Handler {
	if n > 0 {
		h.maxHops = n
	}
	return h
}

// Attach subscribes the handler to cache writes.
func (h *Handler) Attach(bus eventing.EventBus) {
	bus.Subscribe(eventing.EventTypeOf[latest.LatestValueWritten](), h.Handle)
}

// Handle processes one LatestValueWritten event.
func (h *Handler) Handle(ctx context.Context, event any) error {
	var written latest.LatestValueWritten
	switch e := event.(type) {
	case latest.LatestValueWritten:
		written = e
	case *latest.LatestValueWritten:
		if e == nil {
			return eventing.ErrNilEvent
		}
		written = *e
	default:
		return fmt.Errorf("composite: unexpected event %T", event)
	}

	targets, err := h.subs.GetSubscribers(ctx, written.SystemID, written.PointIndex)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}
	if hops(ctx) >= h.maxHops {
		metrics.IncCompositeRecompute(metrics.ResultSkipped)
		h.logger.Warn("composite chain stopped at hop limit",
			zap.Int64("system_id", written.SystemID),
			zap.Int("point_index", written.PointIndex),
			zap.Int("hops", hops(ctx)),
		)
		return ErrHopLimit
	}

	var errs []error
	next := withHop(ctx)
	for _, target := range targets {
		if err := h.recompute(next, target); err != nil {
			metrics.IncCompositeRecompute(metrics.ResultError)
			h.logger.Error("composite recompute failed", zap.String("composite", target.String()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) recompute(ctx context.Context, target points.Ref) error {
	def, ok, err := h.subs.Definition(ctx, target)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	point, err := h.points.GetPoint(ctx, target.SystemID, target.PointIndex)
	if err != nil {
		return fmt.Errorf("load composite %s: %w", target, err)
	}
	path, mapped := point.LogicalPath()
	if !mapped || !point.Active {
		metrics.IncCompositeRecompute(metrics.ResultSkipped)
		return nil
	}

	var (
		sum    float64
		newest time.Time
	)
	for _, link := range def.Sources {
		source, err := h.points.GetPoint(ctx, link.Source.SystemID, link.Source.PointIndex)
		if err != nil {
			return fmt.Errorf("load source %s: %w", link.Source, err)
		}
		sourcePath, ok := source.LogicalPath()
		if !ok {
			metrics.IncCompositeRecompute(metrics.ResultSkipped)
			return nil
		}
		value, ok, err := h.cache.GetLatest(ctx, link.Source.SystemID, sourcePath)
		if err != nil {
			return err
		}
		if !ok {
			metrics.IncCompositeRecompute(metrics.ResultSkipped)
			h.logger.Debug("composite source has no latest value",
				zap.String("composite", target.String()),
				zap.String("source", link.Source.String()),
			)
			return nil
		}
		sum += link.Factor * value.Value
		if value.MeasurementTime.After(newest) {
			newest = value.MeasurementTime
		}
	}

	_, err = h.cache.PutLatest(ctx, latest.Entry{
		SystemID:        target.SystemID,
		LogicalPath:     path,
		PointIndex:      target.PointIndex,
		Value:           sum,
		MeasurementTime: newest,
		MetricUnit:      point.MetricUnit,
	})
	if err != nil {
		return err
	}
	metrics.IncCompositeRecompute(metrics.ResultSuccess)
	return nil
}
