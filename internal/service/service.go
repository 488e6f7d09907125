// Package service contains the business logic for the ridebook API.
// Services validate inputs, enforce business rules, and orchestrate repo calls.
// No SQL lives here: services depend on repo interfaces, not implementations.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/metrics"
)

// Notifier receives committed trip events. Implementations live in
// internal/notify.
type Notifier interface {
	Notify(ctx context.Context, ev domain.TripEvent) error
}

// Option configures the shared dependencies of a service.
type Option func(*options)

type options struct {
	now     func() time.Time
	log     *slog.Logger
	sink    Notifier
	metrics *metrics.Metrics
}

// WithClock overrides time.Now. Tests use it to drive offer deadlines.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithNotifier sets the event sink. Without one, events are dropped.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.sink = n }
}

// WithMetrics sets the Prometheus collectors. A nil value records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// clock returns the current time truncated to what Postgres stores, so
// timestamps read back from the database compare equal to the ones written.
func (o options) clock() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

// publish hands committed events to the sink. Delivery failures are logged
// and swallowed; the state change has already been committed.
func (o options) publish(ctx context.Context, events ...domain.TripEvent) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if ev.Kind == domain.EventStatusChanged {
			o.metrics.Transition(string(ev.PreviousStatus), string(ev.NewStatus))
		}
		if o.sink == nil {
			continue
		}
		if err := o.sink.Notify(ctx, ev); err != nil {
			o.log.WarnContext(ctx, "trip event delivery failed",
				"kind", ev.Kind, "trip_id", ev.TripID, "error", err)
		}
	}
}
