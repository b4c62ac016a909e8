package memory

import (
	"context"
	"sort"
	"sync"

	points "telemetry-engine/internal/points/domain"
	subscriptions "telemetry-engine/internal/subscriptions/domain"
)

// Store keeps registry entries in an owned map.
type Store struct {
	mu      sync.RWMutex
	entries map[int64]subscriptions.Entry
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[int64]subscriptions.Entry)}
}

// Load returns a copy of the entry.
func (s *Store) Load(ctx context.Context, systemID int64) (subscriptions.Entry, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[systemID]
	if !ok {
		return subscriptions.Entry{}, false, nil
	}
	return e.Clone(), true, nil
}

// List returns all entries ordered by system.
func (s *Store) List(ctx context.Context) ([]subscriptions.Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]subscriptions.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SystemID < out[j].SystemID })
	return out, nil
}

// Save replaces the entry.
func (s *Store) Save(ctx context.Context, entry subscriptions.Entry) error {
	_ = ctx
	s.mu.Lock()
	s.entries[entry.SystemID] = entry.Clone()
	s.mu.Unlock()
	return nil
}

// Delete drops the entry.
func (s *Store) Delete(ctx context.Context, systemID int64) error {
	_ = ctx
	s.mu.Lock()
	delete(s.entries, systemID)
	s.mu.Unlock()
	return nil
}

// Definitions is an in-memory DefinitionSource.
type Definitions struct {
	mu    sync.RWMutex
	links []subscriptions.Link
}

// NewDefinitions seeds a definition source.
func NewDefinitions(links ...subscriptions.Link) *Definitions {
	return &Definitions{links: append([]subscriptions.Link(nil), links...)}
}

// Set replaces all links.
func (d *Definitions) Set(links ...subscriptions.Link) {
	d.mu.Lock()
	d.links = append([]subscriptions.Link(nil), links...)
	d.mu.Unlock()
}

// Links returns links, optionally only those owned by a composite system.
func (d *Definitions) Links(ctx context.Context, compositeSystemID *int64) ([]subscriptions.Link, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []subscriptions.Link
	for _, link := range d.links {
		if compositeSystemID != nil && link.Composite.SystemID != *compositeSystemID {
			continue
		}
		out = append(out, link)
	}
	return out, nil
}

// Definition returns the sources of one composite.
func (d *Definitions) Definition(ctx context.Context, composite points.Ref) (subscriptions.Definition, bool, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	def := subscriptions.Definition{Composite: composite}
	for _, link := range d.links {
		if link.Composite == composite {
			def.Sources = append(def.Sources, link)
		}
	}
	return def, len(def.Sources) > 0, nil
}
