// Package notify delivers committed trip events to downstream consumers.
// Every sink is best effort: callers log a failed delivery and move on, the
// state change it describes has already been committed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pkordes/ridebook/internal/domain"
)

// Sink is anything that can deliver a TripEvent.
type Sink interface {
	Notify(ctx context.Context, ev domain.TripEvent) error
}

// Fanout delivers each event to every sink and joins their errors.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(ctx context.Context, ev domain.TripEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each event as a structured log line. It is the sink used
// when no broker is configured.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Notify implements Sink.
func (s *LogSink) Notify(ctx context.Context, ev domain.TripEvent) error {
	attrs := []any{
		"kind", ev.Kind,
		"trip_id", ev.TripID,
		"previous_status", ev.PreviousStatus,
		"new_status", ev.NewStatus,
	}
	if ev.DriverID != nil {
		attrs = append(attrs, "driver_id", *ev.DriverID)
	}
	if ev.AvailableSeats != nil {
		attrs = append(attrs, "available_seats", *ev.AvailableSeats)
	}
	if ev.BookingID != nil {
		attrs = append(attrs, "booking_id", *ev.BookingID)
	}
	s.log.InfoContext(ctx, "trip event", attrs...)
	return nil
}

// encode is the wire format shared by the broker sinks.
func encode(ev domain.TripEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("notify: encode event: %w", err)
	}
	return b, nil
}
