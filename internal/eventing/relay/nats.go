package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"telemetry-engine/internal/eventing"
)

// NATSSink publishes envelopes to "<prefix>.<eventType>".
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	log    *zap.Logger
}

// NewNATSSink connects to NATS.
func NewNATSSink(url, prefix string, log *zap.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("telemetry-engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if prefix == "" {
		prefix = "telemetry"
	}
	log.Info("connected to NATS", zap.String("url", url))
	return &NATSSink{conn: nc, prefix: prefix, log: log}, nil
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(eventType string) string {
	return s.prefix + "." + subjectToken(eventType)
}

// Send publishes one envelope.
func (s *NATSSink) Send(ctx context.Context, env eventing.Envelope) error {
	_ = ctx
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.Subject(env.EventType), data)
}

// Listen subscribes to every relayed subject and hands messages to the receiver.
func (s *NATSSink) Listen(receiver *Receiver) (*nats.Subscription, error) {
	return s.conn.Subscribe(s.prefix+".>", func(msg *nats.Msg) {
		if err := receiver.Deliver(context.Background(), msg.Data); err != nil {
			s.log.Error("relay delivery failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// subjectToken maps "latest.LatestValueWritten" to "latest_LatestValueWritten".
func subjectToken(eventType string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(eventType)
}
