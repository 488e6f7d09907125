package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a TripEvent for downstream consumers.
type EventKind string

const (
	EventStatusChanged    EventKind = "status_changed"
	EventBookingCreated   EventKind = "booking_created"
	EventBookingCancelled EventKind = "booking_cancelled"
)

// TripEvent is the payload handed to the notification sink after a
// committed state change. Delivery is best effort.
type TripEvent struct {
	Kind           EventKind  `json:"kind"`
	TripID         uuid.UUID  `json:"trip_id"`
	PreviousStatus TripStatus `json:"previous_status"`
	NewStatus      TripStatus `json:"new_status"`
	DriverID       *uuid.UUID `json:"driver_id,omitempty"`
	AvailableSeats *int       `json:"available_seats,omitempty"`
	BookingID      *uuid.UUID `json:"booking_id,omitempty"`
	Actor          string     `json:"actor,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// StatusEvent builds the event emitted for a transition on trip.
func StatusEvent(trip Trip, rec TransitionRecord) TripEvent {
	seats := trip.AvailableSeats
	ev := TripEvent{
		Kind:           EventStatusChanged,
		TripID:         trip.ID,
		PreviousStatus: rec.From,
		NewStatus:      rec.To,
		AvailableSeats: &seats,
		Actor:          rec.Actor,
		OccurredAt:     rec.OccurredAt,
	}
	switch {
	case trip.OfferedToDriverID != nil:
		ev.DriverID = trip.OfferedToDriverID
	case trip.AssignedDriverID != nil:
		ev.DriverID = trip.AssignedDriverID
	}
	return ev
}
