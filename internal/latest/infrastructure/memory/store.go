package memory

import (
	"context"
	"sync"

	latest "telemetry-engine/internal/latest/domain"
)

// Store is an in-memory latest-value cache.
type Store struct {
	mu      sync.RWMutex
	systems map[int64]map[string]latest.Entry
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{systems: make(map[int64]map[string]latest.Entry)}
}

// Put writes e under the policy.
func (s *Store) Put(ctx context.Context, e latest.Entry, policy latest.OrderingPolicy) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := s.systems[e.SystemID]
	if paths == nil {
		paths = make(map[string]latest.Entry)
		s.systems[e.SystemID] = paths
	}
	if current, ok := paths[e.LogicalPath]; ok && policy == latest.RejectOlder && e.MeasurementTime.Before(current.MeasurementTime) {
		return false, nil
	}
	paths[e.LogicalPath] = e
	return true, nil
}

// Get returns the entry for a path.
func (s *Store) Get(ctx context.Context, systemID int64, logicalPath string) (latest.Entry, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.systems[systemID][logicalPath]
	return e, ok, nil
}

// GetAll returns a copy of a system's entries.
func (s *Store) GetAll(ctx context.Context, systemID int64) (map[string]latest.Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]latest.Entry, len(s.systems[systemID]))
	for path, e := range s.systems[systemID] {
		out[path] = e
	}
	return out, nil
}

// Clear drops a system namespace.
func (s *Store) Clear(ctx context.Context, systemID int64) error {
	_ = ctx
	s.mu.Lock()
	delete(s.systems, systemID)
	s.mu.Unlock()
	return nil
}

// ClearAll drops every namespace.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.systems)
	s.systems = make(map[int64]map[string]latest.Entry)
	return n, nil
}
