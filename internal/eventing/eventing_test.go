package eventing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleEvent struct {
	SystemID   int64
	Path       string
	OccurredAt time.Time
}

func (e sampleEvent) EventSystemID() int64 { return e.SystemID }
func (e sampleEvent) EventTime() time.Time { return e.OccurredAt }

func TestInMemoryBusDeliversByType(t *testing.T) {
	bus := NewInMemoryBus()
	var got []string
	bus.Subscribe(EventTypeOf[sampleEvent](), func(ctx context.Context, event any) error {
		got = append(got, event.(sampleEvent).Path)
		return nil
	})
	bus.Subscribe(EventTypeOf[sampleEvent](), func(ctx context.Context, event any) error {
		return errors.New("second handler failed")
	})

	err := bus.Publish(context.Background(), sampleEvent{Path: "a"})
	require.EqualError(t, err, "second handler failed")
	assert.Equal(t, []string{"a"}, got)

	assert.ErrorIs(t, bus.Publish(context.Background(), nil), ErrNilEvent)
	assert.NoError(t, bus.Publish(context.Background(), struct{ X int }{1}))
}

func TestBuildEnvelopeExtractsSystem(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := BuildEnvelope(context.Background(), sampleEvent{SystemID: 42, Path: "x/power", OccurredAt: at})
	require.NoError(t, err)
	assert.Equal(t, int64(42), env.SystemID)
	assert.Equal(t, at, env.OccurredAt)
	assert.Equal(t, EventTypeOf[sampleEvent](), env.EventType)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, env.EventID, env.CorrelationID)
	assert.Equal(t, 1, env.SchemaVersion)
}

func TestRegistryDecodesPayload(t *testing.T) {
	reg := NewRegistry(sampleEvent{})
	env, err := BuildEnvelope(context.Background(), &sampleEvent{SystemID: 7, Path: "p"})
	require.NoError(t, err)

	decoded, err := reg.DecodePayload(env)
	require.NoError(t, err)
	assert.Equal(t, int64(7), decoded.(sampleEvent).SystemID)

	env.EventType = "other.Event"
	_, err = reg.DecodePayload(env)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestWrapHandlerSkipsProcessedEnvelopes(t *testing.T) {
	store := NewMemoryProcessedStore()
	calls := 0
	handler := WrapHandler("consumer", func(ctx context.Context, event any) error {
		calls++
		return nil
	}, store)

	env := Envelope{EventID: "e-1"}
	ctx := WithEnvelope(context.Background(), env)
	require.NoError(t, handler(ctx, sampleEvent{}))
	require.NoError(t, handler(ctx, sampleEvent{}))
	assert.Equal(t, 1, calls)

	require.NoError(t, handler(context.Background(), sampleEvent{}))
	require.NoError(t, handler(context.Background(), sampleEvent{}))
	assert.Equal(t, 3, calls)
}

func TestPublishRecoversHandlerPanic(t *testing.T) {
	bus := NewInMemoryBus()
	ran := false
	bus.Subscribe(EventTypeOf[sampleEvent](), func(context.Context, any) error { panic("boom") })
	bus.Subscribe(EventTypeOf[sampleEvent](), func(context.Context, any) error {
		ran = true
		return nil
	})
	assert.Equal(t, 2, bus.Subscribers(EventTypeOf[sampleEvent]()))

	err := bus.Publish(context.Background(), &sampleEvent{})
	var p *HandlerPanic
	require.ErrorAs(t, err, &p)
	assert.Equal(t, "boom", p.Value)
	assert.True(t, ran)
}

func TestBuildEnvelopeInheritsCorrelation(t *testing.T) {
	ctx := WithEnvelope(context.Background(), Envelope{EventID: "parent", CorrelationID: "corr-1"})
	env, err := BuildEnvelope(ctx, sampleEvent{SystemID: 1})
	require.NoError(t, err)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.NotEqual(t, "parent", env.EventID)
	assert.False(t, env.OccurredAt.IsZero())

	_, err = BuildEnvelope(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilEvent)
}

func TestBoundedProcessedStoreForgetsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewBoundedProcessedStore(2)
	require.NoError(t, store.MarkProcessed(ctx, "a", "c"))
	require.NoError(t, store.MarkProcessed(ctx, "b", "c"))
	require.NoError(t, store.MarkProcessed(ctx, "b", "c"))
	require.NoError(t, store.MarkProcessed(ctx, "c", "c"))

	for id, want := range map[string]bool{"a": false, "b": true, "c": true} {
		got, err := store.HasProcessed(ctx, id, "c")
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
	got, err := store.HasProcessed(ctx, "b", "other")
	require.NoError(t, err)
	assert.False(t, got)
}
