// Package eventing carries engine events between components in-process and
// wraps them in envelopes for broker relays.
package eventing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

var (
	ErrNilEvent         = errors.New("eventing: nil event")
	ErrInvalidEventType = errors.New("eventing: invalid event type")
)

// HandlerPanic is returned by Publish when a handler panicked.
type HandlerPanic struct {
	EventType string
	Value     any
}

func (p *HandlerPanic) Error() string {
	return fmt.Sprintf("eventing: handler for %s panicked: %v", p.EventType, p.Value)
}

// InMemoryBus delivers synchronously on the publisher's goroutine, in
// subscription order. A failing handler does not stop the others.
type InMemoryBus struct {
	mu     sync.RWMutex
	topics map[string][]EventHandler
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{topics: make(map[string][]EventHandler)}
}

// Publish runs every handler of the event's type and joins their errors.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	name := EventType(event)
	switch {
	case event == nil:
		return ErrNilEvent
	case name == "":
		return ErrInvalidEventType
	}

	b.mu.RLock()
	handlers := b.topics[name]
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := deliver(ctx, name, h, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, name string, h EventHandler, event any) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &HandlerPanic{EventType: name, Value: v}
		}
	}()
	return h(ctx, event)
}

// Subscribe appends handler to the event type. The handler slice is
// replaced rather than grown in place so Publish can iterate without a lock.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.topics[eventType]
	next := make([]EventHandler, len(current), len(current)+1)
	copy(next, current)
	b.topics[eventType] = append(next, handler)
}

// Subscribers counts the handlers of an event type.
func (b *InMemoryBus) Subscribers(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[eventType])
}

// EventType names an event by its package-qualified type, e.g.
// "telemetry.ReadingsIngested". Pointers name their element type.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	return typeName(reflect.TypeOf(event))
}

// EventTypeOf names the event type T.
func EventTypeOf[T any]() string {
	return typeName(reflect.TypeOf((*T)(nil)).Elem())
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
