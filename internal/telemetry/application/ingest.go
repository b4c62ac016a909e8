package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	latest "telemetry-engine/internal/latest/domain"
	"telemetry-engine/internal/eventing"
	"telemetry-engine/internal/observability/metrics"
	points "telemetry-engine/internal/points/domain"
	telemetry "telemetry-engine/internal/telemetry/domain"
)

// PointResolver maps a vendor path to a point, creating it on first sight.
type PointResolver interface {
	ResolvePoint(ctx context.Context, systemID int64, physicalPathTail string, meta points.VendorMetadata) (points.Point, error)
}

// BucketRecomputer rebuilds five-minute buckets from raw readings.
type BucketRecomputer interface {
	RecomputeBuckets(ctx context.Context, p points.Point, bucketEnds []time.Time) (int, error)
}

// BucketPlanner lists the buckets a set of measurement times affects.
type BucketPlanner func(p points.Point, times []time.Time) []time.Time

// LatestWriter is the latest-value cache write path.
type LatestWriter interface {
	PutLatest(ctx context.Context, e latest.Entry) (bool, error)
}

// Sample is one vendor observation as delivered by an adapter.
type Sample struct {
	PhysicalPathTail string
	Meta             points.VendorMetadata
	MeasurementTime  time.Time
	Value            *float64
	Quality          string
}

// Batch is a vendor adapter delivery for one system.
type Batch struct {
	SystemID     int64
	ReceivedTime time.Time
	Samples      []Sample
}

// Result summarizes a committed batch.
type Result struct {
	Readings      int `json:"readings"`
	Points        int `json:"points"`
	Buckets       int `json:"buckets"`
	CacheWrites   int `json:"cacheWrites"`
	CacheFailures int `json:"cacheFailures"`
}

// IngestService stores raw readings and keeps derived state current.
type IngestService struct {
	resolver PointResolver
	readings telemetry.Repository
	buckets  BucketRecomputer
	planner  BucketPlanner
	cache    LatestWriter
	bus      eventing.EventBus
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures the ingest service.
type Option func(*IngestService)

// WithLatestWriter enables latest-value cache writes.
func WithLatestWriter(cache LatestWriter) Option {
	return func(s *IngestService) { s.cache = cache }
}

// WithEventBus publishes ReadingsIngested after each batch.
func WithEventBus(bus eventing.EventBus) Option {
	return func(s *IngestService) { s.bus = bus }
}

// WithClock overrides the received-time source.
func WithClock(now func() time.Time) Option {
	return func(s *IngestService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewIngestService constructs the ingest service.
func NewIngestService(resolver PointResolver, readings telemetry.Repository, buckets BucketRecomputer, planner BucketPlanner, logger *zap.Logger, opts ...Option) (*IngestService, error) {
	if resolver == nil {
		return nil, errors.New("ingest service: nil point resolver")
	}
	if readings == nil {
		return nil, errors.New("ingest service: nil reading repository")
	}
	if buckets == nil || planner == nil {
		return nil, errors.New("ingest service: nil bucket recomputer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &IngestService{
		resolver: resolver,
		readings: readings,
		buckets:  buckets,
		planner:  planner,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type pointBatch struct {
	point    points.Point
	readings []telemetry.Reading
	// rederived holds stored readings whose derived value changed because the
	// batch filled a gap before them.
	rederived []telemetry.Reading
}

// Ingest validates a batch, stores its raw readings, recomputes the touched
// five-minute buckets and refreshes the latest-value cache.
func (s *IngestService) Ingest(ctx context.Context, batch Batch) (Result, error) {
	start := time.Now()
	result, err := s.ingest(ctx, batch)
	switch {
	case err == nil:
		metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
		metrics.AddIngestedReadings(result.Readings)
	case points.IsValidation(err) || errors.Is(err, points.ErrInvalidSystemID) || errors.Is(err, points.ErrEmptyPhysicalPath):
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		metrics.IncIngestError("validation")
	default:
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		metrics.IncIngestError("store")
		s.logger.Error("ingest failed", zap.Int64("system_id", batch.SystemID), zap.Error(err))
	}
	return result, err
}

func (s *IngestService) ingest(ctx context.Context, batch Batch) (Result, error) {
	var result Result
	if err := validateBatch(batch); err != nil {
		return result, err
	}
	received := batch.ReceivedTime
	if received.IsZero() {
		received = s.now()
	}
	received = received.UTC()

	grouped, order, err := s.resolve(ctx, batch, received)
	if err != nil {
		return result, err
	}

	var allEnds []time.Time
	for _, tail := range order {
		pb := grouped[tail]
		if err := s.applyTransform(ctx, pb); err != nil {
			return result, err
		}
		upserts := append(append([]telemetry.Reading(nil), pb.readings...), pb.rederived...)
		if err := s.readings.UpsertReadings(ctx, upserts); err != nil {
			return result, fmt.Errorf("upsert raw readings for %s: %w", pb.point.Ref(), err)
		}
		times := make([]time.Time, 0, len(upserts))
		for _, r := range upserts {
			times = append(times, r.MeasurementTime)
		}
		ends := s.planner(pb.point, times)
		n, err := s.buckets.RecomputeBuckets(ctx, pb.point, ends)
		if err != nil {
			return result, err
		}
		allEnds = append(allEnds, ends...)
		result.Readings += len(pb.readings)
		result.Buckets += n
		result.Points++

		written, failed := s.writeLatest(ctx, pb)
		result.CacheWrites += written
		result.CacheFailures += failed
	}

	s.publish(ctx, telemetry.ReadingsIngested{
		SystemID:   batch.SystemID,
		Readings:   result.Readings,
		BucketEnds: uniqueSorted(allEnds),
		OccurredAt: s.now(),
	})
	s.logger.Debug("batch ingested",
		zap.Int64("system_id", batch.SystemID),
		zap.Int("readings", result.Readings),
		zap.Int("buckets", result.Buckets),
	)
	return result, nil
}

func validateBatch(batch Batch) error {
	if batch.SystemID <= 0 {
		return points.ErrInvalidSystemID
	}
	if len(batch.Samples) == 0 {
		return &points.ValidationError{Field: "samples", Reason: "must not be empty"}
	}
	for i, sample := range batch.Samples {
		if sample.PhysicalPathTail == "" {
			return fmt.Errorf("sample %d: %w", i, points.ErrEmptyPhysicalPath)
		}
		if sample.MeasurementTime.IsZero() {
			return &points.ValidationError{Field: "samples[" + strconv.Itoa(i) + "].measurementTime", Reason: "must be set"}
		}
		if _, err := telemetry.ParseDataQuality(sample.Quality); err != nil {
			return err
		}
	}
	return nil
}

// resolve groups samples per point in first-seen order. Readings within a
// point are sorted by time; a re-delivered time keeps the last sample.
func (s *IngestService) resolve(ctx context.Context, batch Batch, received time.Time) (map[string]*pointBatch, []string, error) {
	grouped := make(map[string]*pointBatch)
	var order []string
	for _, sample := range batch.Samples {
		pb, ok := grouped[sample.PhysicalPathTail]
		if !ok {
			p, err := s.resolver.ResolvePoint(ctx, batch.SystemID, sample.PhysicalPathTail, sample.Meta)
			if err != nil {
				return nil, nil, err
			}
			pb = &pointBatch{point: p}
			grouped[sample.PhysicalPathTail] = pb
			order = append(order, sample.PhysicalPathTail)
		}
		quality, _ := telemetry.ParseDataQuality(sample.Quality)
		pb.readings = append(pb.readings, telemetry.Reading{
			SystemID:        pb.point.SystemID,
			PointIndex:      pb.point.PointIndex,
			MeasurementTime: sample.MeasurementTime.UTC(),
			ReceivedTime:    received,
			RawValue:        copyValue(sample.Value),
			Quality:         quality,
		})
	}
	for _, pb := range grouped {
		pb.readings = dedupeByTime(pb.readings)
	}
	return grouped, order, nil
}

func dedupeByTime(readings []telemetry.Reading) []telemetry.Reading {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].MeasurementTime.Before(readings[j].MeasurementTime)
	})
	out := readings[:0]
	for _, r := range readings {
		if n := len(out); n > 0 && out[n-1].MeasurementTime.Equal(r.MeasurementTime) {
			out[n-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}

// applyTransform fills Value from RawValue. Differentiate subtracts the
// previous raw value of the point; a missing predecessor or a counter reset
// yields no value.
func (s *IngestService) applyTransform(ctx context.Context, pb *pointBatch) error {
	p := pb.point
	switch p.Transform {
	case points.TransformInvert:
		for i := range pb.readings {
			if v := pb.readings[i].RawValue; v != nil {
				inverted := -*v
				pb.readings[i].Value = &inverted
			}
		}
	case points.TransformDifferentiate:
		return s.differentiate(ctx, pb)
	default:
		for i := range pb.readings {
			pb.readings[i].Value = copyValue(pb.readings[i].RawValue)
		}
	}
	return nil
}

// differentiate derives interval values from a cumulative counter. The batch
// is merged with the stored readings it overlaps and with the first stored
// reading after it, so a late reading also re-derives its stored successors.
func (s *IngestService) differentiate(ctx context.Context, pb *pointBatch) error {
	if len(pb.readings) == 0 {
		return nil
	}
	p := pb.point
	first := pb.readings[0].MeasurementTime
	last := pb.readings[len(pb.readings)-1].MeasurementTime

	var prevRaw *float64
	prev, ok, err := s.readings.Previous(ctx, p.SystemID, p.PointIndex, first)
	if err != nil {
		return fmt.Errorf("load previous reading for %s: %w", p.Ref(), err)
	}
	if ok {
		prevRaw = prev.RawValue
	}

	stored, err := s.readings.ListRange(ctx, p.SystemID, p.PointIndex, first, last.Add(time.Nanosecond))
	if err != nil {
		return fmt.Errorf("load overlapped readings for %s: %w", p.Ref(), err)
	}
	next, ok, err := s.readings.Next(ctx, p.SystemID, p.PointIndex, last)
	if err != nil {
		return fmt.Errorf("load next reading for %s: %w", p.Ref(), err)
	}
	if ok {
		stored = append(stored, next)
	}

	incoming := make(map[time.Time]int, len(pb.readings))
	for i, r := range pb.readings {
		incoming[r.MeasurementTime] = i
	}
	merged := make([]*telemetry.Reading, 0, len(pb.readings)+len(stored))
	for i := range pb.readings {
		merged = append(merged, &pb.readings[i])
	}
	for i := range stored {
		if _, dup := incoming[stored[i].MeasurementTime.UTC()]; dup {
			continue
		}
		merged = append(merged, &stored[i])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].MeasurementTime.Before(merged[j].MeasurementTime)
	})

	for _, r := range merged {
		_, fromBatch := incoming[r.MeasurementTime.UTC()]
		var derived *float64
		if cur := r.RawValue; cur != nil && prevRaw != nil && *cur >= *prevRaw {
			diff := *cur - *prevRaw
			derived = &diff
		}
		if r.RawValue != nil {
			prevRaw = r.RawValue
		}
		if fromBatch {
			r.Value = derived
			continue
		}
		if !sameValue(r.Value, derived) {
			r.Value = derived
			pb.rederived = append(pb.rederived, *r)
		}
	}
	return nil
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// writeLatest caches the newest valued reading of a mapped, active point.
// Cache failures are logged; the raw data is already committed.
func (s *IngestService) writeLatest(ctx context.Context, pb *pointBatch) (written, failed int) {
	if s.cache == nil || !pb.point.Active {
		return 0, 0
	}
	path, ok := pb.point.LogicalPath()
	if !ok {
		return 0, 0
	}
	for i := len(pb.readings) - 1; i >= 0; i-- {
		r := pb.readings[i]
		if r.Value == nil {
			continue
		}
		stored, err := s.cache.PutLatest(ctx, latest.Entry{
			SystemID:        r.SystemID,
			LogicalPath:     path,
			PointIndex:      r.PointIndex,
			Value:           *r.Value,
			MeasurementTime: r.MeasurementTime,
			ReceivedTime:    r.ReceivedTime,
			MetricUnit:      pb.point.MetricUnit,
		})
		if err != nil {
			s.logger.Warn("latest cache write failed",
				zap.Int64("system_id", r.SystemID),
				zap.Int("point_index", r.PointIndex),
				zap.Error(err),
			)
			return 0, 1
		}
		if stored {
			return 1, 0
		}
		return 0, 0
	}
	return 0, 0
}

func (s *IngestService) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", eventing.EventType(event)), zap.Error(err))
	}
}

func uniqueSorted(times []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(times))
	out := make([]time.Time, 0, len(times))
	for _, t := range times {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func copyValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
