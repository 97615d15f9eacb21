package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FundLedger/internal/event"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes batch events to a single topic keyed by batch id, so all
// transitions of one batch land on the same partition in order.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, evt event.BatchEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.BatchID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type.String())},
			{Key: "idempotency_key", Value: []byte(evt.IdempotencyKey())},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
