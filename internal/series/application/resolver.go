package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"telemetry-engine/internal/observability/metrics"
	points "telemetry-engine/internal/points/domain"
	"telemetry-engine/internal/series/filter"
)

// Interval names a series granularity.
type Interval string

const (
	Interval5m Interval = "5m"
	Interval1d Interval = "1d"
)

// ParseInterval accepts "", "5m" and "1d". Empty means any interval.
func ParseInterval(value string) (Interval, error) {
	switch value {
	case "":
		return "", nil
	case string(Interval5m):
		return Interval5m, nil
	case string(Interval1d):
		return Interval1d, nil
	default:
		return "", &points.ValidationError{Field: "interval", Input: value, Reason: "must be 5m or 1d"}
	}
}

// SeriesDescriptor is one queryable (point, column) view.
type SeriesDescriptor struct {
	ID          string        `json:"id"`
	SystemID    int64         `json:"systemId"`
	PointIndex  int           `json:"pointIndex"`
	LogicalPath string        `json:"logicalPath"`
	Column      points.Column `json:"column"`
	Intervals   []Interval    `json:"intervals"`
	Label       string        `json:"label"`
	Unit        string        `json:"unit"`
}

// HasInterval reports whether the series is available at interval.
func (d SeriesDescriptor) HasInterval(interval Interval) bool {
	for _, i := range d.Intervals {
		if i == interval {
			return true
		}
	}
	return false
}

// SeriesID builds "<systemID>/<logicalPath>.<column>".
func SeriesID(systemID int64, logicalPath string, column points.Column) string {
	return strconv.FormatInt(systemID, 10) + "/" + logicalPath + "." + string(column)
}

// PointLister is the point store view the resolver needs.
type PointLister interface {
	ListBySystem(ctx context.Context, systemID int64, includeInactive bool) ([]points.Point, error)
}

// Resolver enumerates series per system and caches the result until invalidated.
type Resolver struct {
	points PointLister
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[int64][]SeriesDescriptor
	// gen is bumped by Invalidate; a load that started under an older
	// generation does not fill the cache.
	gen map[int64]uint64
}

// NewResolver constructs a resolver.
func NewResolver(pointStore PointLister, logger *zap.Logger) (*Resolver, error) {
	if pointStore == nil {
		return nil, errors.New("series resolver: nil point store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		points: pointStore,
		logger: logger.Named("series"),
		cache:  make(map[int64][]SeriesDescriptor),
		gen:    make(map[int64]uint64),
	}, nil
}

// ListSeries returns the system's series, filtered by patterns and interval,
// sorted by ID. An unknown system yields an empty list.
func (r *Resolver) ListSeries(ctx context.Context, systemID int64, patterns []string, interval string) ([]SeriesDescriptor, error) {
	wanted, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	matcher, err := filter.Compile(patterns)
	if err != nil {
		return nil, err
	}
	all, err := r.load(ctx, systemID)
	if err != nil {
		return nil, err
	}
	result := make([]SeriesDescriptor, 0, len(all))
	for _, d := range all {
		if wanted != "" && !d.HasInterval(wanted) {
			continue
		}
		if !matcher.Match(d.ID) {
			continue
		}
		result = append(result, d)
	}
	return result, nil
}

// Invalidate drops the cached descriptors for a system.
func (r *Resolver) Invalidate(ctx context.Context, systemID int64) error {
	_ = ctx
	r.mu.Lock()
	delete(r.cache, systemID)
	r.gen[systemID]++
	r.mu.Unlock()
	return nil
}

func (r *Resolver) load(ctx context.Context, systemID int64) ([]SeriesDescriptor, error) {
	r.mu.RLock()
	cached, ok := r.cache[systemID]
	gen := r.gen[systemID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	list, err := r.points.ListBySystem(ctx, systemID, false)
	if errors.Is(err, points.ErrSystemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("series resolver: list points: %w", err)
	}
	built := Build(list)

	r.mu.Lock()
	current := r.gen[systemID] == gen
	if current {
		r.cache[systemID] = built
	}
	r.mu.Unlock()
	if !current {
		r.logger.Debug("series cache fill skipped after invalidation", zap.Int64("system_id", systemID))
		return built, nil
	}
	metrics.IncSeriesRebuild()
	r.logger.Debug("series cache rebuilt", zap.Int64("system_id", systemID), zap.Int("series", len(built)))
	return built, nil
}

// Build expands active, mapped points into descriptors sorted by ID.
func Build(list []points.Point) []SeriesDescriptor {
	var result []SeriesDescriptor
	for _, p := range list {
		if !p.Active {
			continue
		}
		path, ok := p.LogicalPath()
		if !ok {
			continue
		}
		intervals := []Interval{Interval5m, Interval1d}
		if p.EffectiveResolution() == points.Resolution1d {
			intervals = []Interval{Interval1d}
		}
		for _, col := range p.MetricType.Columns() {
			result = append(result, SeriesDescriptor{
				ID:          SeriesID(p.SystemID, path, col),
				SystemID:    p.SystemID,
				PointIndex:  p.PointIndex,
				LogicalPath: path,
				Column:      col,
				Intervals:   append([]Interval(nil), intervals...),
				Label:       p.Name() + " (" + string(col) + ")",
				Unit:        p.MetricUnit,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
