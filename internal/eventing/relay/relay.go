// Package relay forwards in-process events to an external broker and feeds
// relayed events from a broker back into a local bus.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telemetry-engine/internal/eventing"
	"telemetry-engine/internal/observability/metrics"
)

// Sink delivers an envelope to a broker.
type Sink interface {
	Send(ctx context.Context, env eventing.Envelope) error
	Close() error
}

// Forwarder subscribes to bus event types and sends them to a sink.
type Forwarder struct {
	sink   Sink
	logger *zap.Logger
}

// NewForwarder constructs a forwarder.
func NewForwarder(sink Sink, logger *zap.Logger) (*Forwarder, error) {
	if sink == nil {
		return nil, errors.New("relay: nil sink")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{sink: sink, logger: logger.Named("relay")}, nil
}

// Attach subscribes the forwarder to every type in the registry. Relay
// failures are logged and never fail the publisher.
func (f *Forwarder) Attach(bus eventing.EventBus, registry *eventing.Registry) {
	for _, eventType := range registry.Types() {
		eventType := eventType
		bus.Subscribe(eventType, func(ctx context.Context, event any) error {
			if _, relayed := eventing.EnvelopeFromContext(ctx); relayed {
				return nil
			}
			env, err := eventing.BuildEnvelope(ctx, event)
			if err != nil {
				f.logger.Warn("relay envelope failed", zap.String("event_type", eventType), zap.Error(err))
				return nil
			}
			if err := f.sink.Send(ctx, env); err != nil {
				f.logger.Warn("relay send failed", zap.String("event_type", eventType), zap.String("event_id", env.EventID), zap.Error(err))
			}
			return nil
		})
	}
}

// Receiver decodes relayed envelopes and republishes them on a local bus.
type Receiver struct {
	bus      eventing.EventBus
	registry *eventing.Registry
}

// NewReceiver constructs a receiver.
func NewReceiver(bus eventing.EventBus, registry *eventing.Registry) (*Receiver, error) {
	if bus == nil || registry == nil {
		return nil, errors.New("relay: nil bus or registry")
	}
	return &Receiver{bus: bus, registry: registry}, nil
}

// Deliver handles one raw envelope message.
func (r *Receiver) Deliver(ctx context.Context, data []byte) error {
	var env eventing.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("relay: decode envelope: %w", err)
	}
	event, err := r.registry.DecodePayload(env)
	if err != nil {
		return err
	}
	if !env.OccurredAt.IsZero() {
		metrics.ObserveConsumerLag("relay", time.Since(env.OccurredAt))
	}
	return r.bus.Publish(eventing.WithEnvelope(ctx, env), event)
}
