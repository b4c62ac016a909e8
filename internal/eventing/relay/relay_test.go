package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-engine/internal/eventing"
)

type valueWritten struct {
	SystemID int64
	Path     string
}

func (e valueWritten) EventSystemID() int64 { return e.SystemID }

type captureSink struct {
	mu   sync.Mutex
	envs []eventing.Envelope
}

func (s *captureSink) Send(ctx context.Context, env eventing.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *captureSink) Close() error { return nil }

func TestForwarderAndReceiverRoundTrip(t *testing.T) {
	registry := eventing.NewRegistry(valueWritten{})

	local := eventing.NewInMemoryBus()
	sink := &captureSink{}
	fwd, err := NewForwarder(sink, nil)
	require.NoError(t, err)
	fwd.Attach(local, registry)

	require.NoError(t, local.Publish(context.Background(), valueWritten{SystemID: 3, Path: "load/power"}))
	require.Len(t, sink.envs, 1)
	assert.Equal(t, int64(3), sink.envs[0].SystemID)

	remote := eventing.NewInMemoryBus()
	var got []valueWritten
	eventing.Subscribe(remote, eventing.EventTypeOf[valueWritten](), "test", func(ctx context.Context, event any) error {
		got = append(got, event.(valueWritten))
		return nil
	}, eventing.NewMemoryProcessedStore())
	receiver, err := NewReceiver(remote, registry)
	require.NoError(t, err)

	data, err := json.Marshal(sink.envs[0])
	require.NoError(t, err)
	require.NoError(t, receiver.Deliver(context.Background(), data))
	require.NoError(t, receiver.Deliver(context.Background(), data))
	assert.Equal(t, []valueWritten{{SystemID: 3, Path: "load/power"}}, got)

	assert.Error(t, receiver.Deliver(context.Background(), []byte("{")))
}

func TestForwarderDoesNotEchoRelayedEvents(t *testing.T) {
	registry := eventing.NewRegistry(valueWritten{})
	bus := eventing.NewInMemoryBus()
	sink := &captureSink{}
	fwd, err := NewForwarder(sink, nil)
	require.NoError(t, err)
	fwd.Attach(bus, registry)

	ctx := eventing.WithEnvelope(context.Background(), eventing.Envelope{EventID: "remote"})
	require.NoError(t, bus.Publish(ctx, valueWritten{SystemID: 1}))
	assert.Empty(t, sink.envs)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "latest_LatestValueWritten", subjectToken("latest.LatestValueWritten"))
}
