package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes events to a single topic keyed by order/payment id,
// so all events for one order land on one partition in order.
type KafkaPublisher struct {
	w  *kafka.Writer
	lg *zap.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, lg *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		// Fire-and-forget: checkout latency must not wait on the broker.
		// Write errors surface through the Completion callback.
		Async: true,
	}
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			lg.Error("deliver events", zap.Int("count", len(messages)), zap.Error(err))
		}
	}
	return &KafkaPublisher{w: w, lg: lg}
}

// Publish implements Publisher. Marshal or write failures are logged, never
// returned: event delivery is not allowed to fail a checkout.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		p.lg.Error("marshal event", zap.String("type", e.Type), zap.Error(err))
		return
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key()),
		Value: value,
		Time:  e.OccurredAt,
	})
	if err != nil {
		p.lg.Error("publish event",
			zap.String("type", e.Type),
			zap.String("key", e.Key()),
			zap.Error(err),
		)
	}
}

// Close flushes buffered messages and releases the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
