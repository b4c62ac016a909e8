package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	points "telemetry-engine/internal/points/domain"
)

// PointRepository is an in-memory point store for tests and single-process runs.
type PointRepository struct {
	mu      sync.RWMutex
	bySys   map[int64]map[int]points.Point
	byPath  map[int64]map[string]int
	nowFunc func() time.Time
}

// NewPointRepository constructs an empty repository.
func NewPointRepository() *PointRepository {
	return &PointRepository{
		bySys:   make(map[int64]map[int]points.Point),
		byPath:  make(map[int64]map[string]int),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns or creates a point keyed by its physical path.
func (r *PointRepository) GetOrCreate(ctx context.Context, systemID int64, physicalPathTail string, meta points.VendorMetadata) (points.Point, bool, error) {
	_ = ctx
	if systemID <= 0 {
		return points.Point{}, false, points.ErrInvalidSystemID
	}
	if physicalPathTail == "" {
		return points.Point{}, false, points.ErrEmptyPhysicalPath
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	paths := r.byPath[systemID]
	if paths == nil {
		paths = make(map[string]int)
		r.byPath[systemID] = paths
		r.bySys[systemID] = make(map[int]points.Point)
	}
	if idx, ok := paths[physicalPathTail]; ok {
		p := r.bySys[systemID][idx]
		if meta.DefaultName != "" && meta.DefaultName != p.DefaultName {
			p.DefaultName = meta.DefaultName
			p.UpdatedAt = r.nowFunc()
			r.bySys[systemID][idx] = p
		}
		return p, false, nil
	}

	next := 1
	for idx := range r.bySys[systemID] {
		if idx >= next {
			next = idx + 1
		}
	}
	p := points.NewPoint(systemID, next, physicalPathTail, meta, r.nowFunc())
	r.bySys[systemID][next] = p
	paths[physicalPathTail] = next
	return p, true, nil
}

// Get loads a point by identity.
func (r *PointRepository) Get(ctx context.Context, systemID int64, pointIndex int) (points.Point, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySys[systemID][pointIndex]
	if !ok {
		return points.Point{}, points.ErrPointNotFound
	}
	return p, nil
}

// ListBySystem returns the system's points ordered by index.
func (r *PointRepository) ListBySystem(ctx context.Context, systemID int64, includeInactive bool) ([]points.Point, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.bySys[systemID]
	if !ok {
		return nil, points.ErrSystemNotFound
	}
	result := make([]points.Point, 0, len(list))
	for _, p := range list {
		if !includeInactive && !p.Active {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PointIndex < result[j].PointIndex })
	return result, nil
}

// Update persists user-editable fields.
func (r *PointRepository) Update(ctx context.Context, p points.Point) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.bySys[p.SystemID][p.PointIndex]
	if !ok {
		return points.ErrPointNotFound
	}
	current.LogicalPathStem = p.LogicalPathStem
	current.DisplayName = p.DisplayName
	current.Active = p.Active
	current.Transform = p.Transform
	current.UpdatedAt = r.nowFunc()
	r.bySys[p.SystemID][p.PointIndex] = current
	return nil
}

// ListSystems returns all known system ids in ascending order.
func (r *PointRepository) ListSystems(ctx context.Context) ([]int64, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.bySys))
	for id := range r.bySys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
