package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	points "telemetry-engine/internal/points/domain"
	subscriptions "telemetry-engine/internal/subscriptions/domain"
)

// Registry maps source points to the composite points derived from them.
type Registry struct {
	defs   subscriptions.DefinitionSource
	store  subscriptions.Store
	logger *zap.Logger
	now    func() time.Time

	buildMu sync.Mutex
}

// NewRegistry constructs a registry over a definition source and an entry store.
func NewRegistry(defs subscriptions.DefinitionSource, store subscriptions.Store, logger *zap.Logger) (*Registry, error) {
	if defs == nil {
		return nil, errors.New("subscription registry: nil definition source")
	}
	if store == nil {
		return nil, errors.New("subscription registry: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defs:   defs,
		store:  store,
		logger: logger.Named("subscriptions"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Build rescans composite definitions. A nil systemID replaces every entry;
// otherwise only the subscribers owned by that composite system are replaced.
func (r *Registry) Build(ctx context.Context, systemID *int64) error {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	links, err := r.defs.Links(ctx, systemID)
	if err != nil {
		return fmt.Errorf("subscription registry: load definitions: %w", err)
	}
	existing, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("subscription registry: list entries: %w", err)
	}

	working := make(map[int64]*subscriptions.Entry, len(existing))
	previous := make(map[int64]bool, len(existing))
	for _, entry := range existing {
		previous[entry.SystemID] = true
		if systemID == nil {
			continue
		}
		clone := entry.Clone()
		clone.RemoveCompositeSystem(*systemID)
		working[entry.SystemID] = &clone
	}

	skipped := 0
	for _, link := range links {
		if err := link.Validate(); err != nil {
			skipped++
			r.logger.Warn("skipping invalid composite link",
				zap.String("composite", link.Composite.String()),
				zap.String("source", link.Source.String()),
			)
			continue
		}
		entry := working[link.Source.SystemID]
		if entry == nil {
			entry = &subscriptions.Entry{SystemID: link.Source.SystemID}
			working[link.Source.SystemID] = entry
		}
		entry.Add(link.Source.PointIndex, link.Composite)
	}

	stamp := r.now().UnixMilli()
	for id, entry := range working {
		if entry.Empty() {
			continue
		}
		entry.LastUpdatedMs = stamp
		if err := r.store.Save(ctx, *entry); err != nil {
			return fmt.Errorf("subscription registry: save system %d: %w", id, err)
		}
	}
	for id := range previous {
		if entry, ok := working[id]; ok && !entry.Empty() {
			continue
		}
		if err := r.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("subscription registry: delete system %d: %w", id, err)
		}
	}

	fields := []zap.Field{zap.Int("links", len(links)), zap.Int("skipped", skipped), zap.Int("source_systems", len(working))}
	if systemID != nil {
		fields = append(fields, zap.Int64("composite_system_id", *systemID))
	}
	r.logger.Info("subscription registry built", fields...)
	return nil
}

// GetSubscribers returns the composites fed by a source point. Unknown systems
// and points yield an empty list.
func (r *Registry) GetSubscribers(ctx context.Context, systemID int64, sourcePointIndex int) ([]points.Ref, error) {
	entry, ok, err := r.store.Load(ctx, systemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []points.Ref{}, nil
	}
	refs := entry.Subscribers(sourcePointIndex)
	if refs == nil {
		return []points.Ref{}, nil
	}
	return refs, nil
}

// Entry returns a system's registry record.
func (r *Registry) Entry(ctx context.Context, systemID int64) (subscriptions.Entry, bool, error) {
	return r.store.Load(ctx, systemID)
}

// Definition returns the sources of one composite point.
func (r *Registry) Definition(ctx context.Context, composite points.Ref) (subscriptions.Definition, bool, error) {
	return r.defs.Definition(ctx, composite)
}
