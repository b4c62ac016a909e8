package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"telemetry-engine/internal/eventing"
)

// KafkaSink writes envelopes to one topic keyed by system id, so a system's
// events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaSink constructs a synchronous writer.
func NewKafkaSink(brokers []string, topic string, log *zap.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("relay: kafka brokers and topic required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		log: log,
	}, nil
}

// Send writes one envelope.
func (s *KafkaSink) Send(ctx context.Context, env eventing.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(env.SystemID, 10)),
		Value: data,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
		},
	})
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// ConsumeKafka reads envelopes from topic with a consumer group until ctx ends.
func ConsumeKafka(ctx context.Context, brokers []string, topic, group string, receiver *Receiver, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := receiver.Deliver(ctx, msg.Value); err != nil {
			log.Error("relay delivery failed", zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}
