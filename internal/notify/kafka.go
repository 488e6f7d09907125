package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pkordes/ridebook/internal/domain"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events keyed by trip ID, so every event for a trip
// lands on the same partition in commit order.
type KafkaSink struct {
	w       messageWriter
	timeout time.Duration
}

// NewKafkaSink constructs a KafkaSink writing synchronously to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(w)
}

func newKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{w: w, timeout: 5 * time.Second}
}

// Notify implements Sink.
func (s *KafkaSink) Notify(ctx context.Context, ev domain.TripEvent) error {
	value, err := encode(ev)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.w.WriteMessages(sendCtx, kafka.Message{
		Key:   []byte(ev.TripID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-kind", Value: []byte(ev.Kind)},
		},
		Time: ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("notify.KafkaSink.Notify: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
