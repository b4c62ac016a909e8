package eventing

import (
	"context"
	"encoding/json"
	"time"
)

// SchemaVersion is stamped on every envelope this build produces.
const SchemaVersion = 1

// Envelope is the broker wire form of an event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	SystemID      int64           `json:"system_id,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// SystemScoped events belong to one system; relays use it as the partition key.
type SystemScoped interface {
	EventSystemID() int64
}

// Timestamped events carry their own occurrence time.
type Timestamped interface {
	EventTime() time.Time
}

// BuildEnvelope wraps event. A zero time falls back to now; the correlation
// id is inherited from ctx when the event was itself caused by a relayed one.
func BuildEnvelope(ctx context.Context, event any) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		EventID:       NewEventID(),
		EventType:     EventType(event),
		SchemaVersion: SchemaVersion,
		Payload:       payload,
	}
	if scoped, ok := event.(SystemScoped); ok {
		env.SystemID = scoped.EventSystemID()
	}
	if ts, ok := event.(Timestamped); ok {
		env.OccurredAt = ts.EventTime().UTC()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	env.CorrelationID = env.EventID
	if parent, ok := EnvelopeFromContext(ctx); ok && parent.CorrelationID != "" {
		env.CorrelationID = parent.CorrelationID
	}
	return env, nil
}

type envelopeKey struct{}

// WithEnvelope marks ctx as handling a relayed envelope.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the relayed envelope being handled, if any.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(Envelope)
	return env, ok
}
