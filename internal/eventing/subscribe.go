package eventing

import (
	"context"
	"sync"
)

// ProcessedStore remembers which relayed envelopes a consumer has handled.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// Subscribe registers handler under consumerName. With a store, a relayed
// envelope is handled at most once per consumer; local events always run.
func Subscribe(bus EventBus, eventType, consumerName string, handler EventHandler, store ProcessedStore) {
	if store != nil {
		handler = WrapHandler(consumerName, handler, store)
	}
	bus.Subscribe(eventType, handler)
}

// WrapHandler skips envelopes consumerName already handled. The envelope is
// marked only after the handler succeeds, so a failure is retried on redelivery.
func WrapHandler(consumerName string, handler EventHandler, store ProcessedStore) EventHandler {
	return func(ctx context.Context, event any) error {
		env, relayed := EnvelopeFromContext(ctx)
		if !relayed || env.EventID == "" {
			return handler(ctx, event)
		}
		done, err := store.HasProcessed(ctx, env.EventID, consumerName)
		if err != nil || done {
			return err
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.MarkProcessed(ctx, env.EventID, consumerName)
	}
}

// DefaultProcessedCapacity bounds NewMemoryProcessedStore.
const DefaultProcessedCapacity = 10_000

type processedKey struct {
	consumer string
	eventID  string
}

// MemoryProcessedStore keeps the most recent ids per process. Once full, the
// oldest id is forgotten first.
type MemoryProcessedStore struct {
	mu    sync.Mutex
	seen  map[processedKey]struct{}
	order []processedKey
	next  int
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return NewBoundedProcessedStore(DefaultProcessedCapacity)
}

// NewBoundedProcessedStore keeps at most capacity ids.
func NewBoundedProcessedStore(capacity int) *MemoryProcessedStore {
	if capacity <= 0 {
		capacity = DefaultProcessedCapacity
	}
	return &MemoryProcessedStore{
		seen:  make(map[processedKey]struct{}, capacity),
		order: make([]processedKey, 0, capacity),
	}
}

func (s *MemoryProcessedStore) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[processedKey{consumer: consumerName, eventID: eventID}]
	return ok, nil
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	key := processedKey{consumer: consumerName, eventID: eventID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return nil
	}
	if len(s.order) < cap(s.order) {
		s.order = append(s.order, key)
	} else {
		delete(s.seen, s.order[s.next])
		s.order[s.next] = key
		s.next = (s.next + 1) % len(s.order)
	}
	s.seen[key] = struct{}{}
	return nil
}
