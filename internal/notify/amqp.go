package notify

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pkordes/ridebook/internal/domain"
)

// AMQPConfig configures the RabbitMQ sink.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// publisher is the part of *amqp.Channel the sink uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events to a topic exchange with routing key
// "trip.<kind>", e.g. "trip.status_changed".
type AMQPSink struct {
	ch       publisher
	exchange string
	closer   func() error
}

// DialAMQP connects to RabbitMQ, declares the durable topic exchange and
// returns a sink publishing to it.
func DialAMQP(cfg AMQPConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("notify.DialAMQP: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify.DialAMQP: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify.DialAMQP: declare exchange %q: %w", cfg.Exchange, err)
	}

	s := newAMQPSink(ch, cfg.Exchange)
	s.closer = conn.Close
	return s, nil
}

func newAMQPSink(ch publisher, exchange string) *AMQPSink {
	return &AMQPSink{ch: ch, exchange: exchange}
}

// RoutingKey returns the routing key used for events of kind k.
func RoutingKey(k domain.EventKind) string {
	return "trip." + string(k)
}

// Notify implements Sink.
func (s *AMQPSink) Notify(ctx context.Context, ev domain.TripEvent) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(ev.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		MessageId:    ev.TripID.String(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify.AMQPSink.Notify: %w", err)
	}
	return nil
}

// Close closes the underlying connection when the sink owns one.
func (s *AMQPSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
