package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the state of a passenger's reservation.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// IsActive reports whether the booking still holds seats.
func (s BookingStatus) IsActive() bool {
	return s == BookingPending || s == BookingConfirmed
}

// Booking is a passenger's reservation of SeatsBooked seats on a trip.
// Bookings are never deleted; cancellation flips Status and releases seats.
type Booking struct {
	ID          uuid.UUID     `json:"id"`
	TripID      uuid.UUID     `json:"trip_id"`
	PassengerID uuid.UUID     `json:"passenger_id"`
	SeatsBooked int           `json:"seats_booked"`
	Status      BookingStatus `json:"status"`
	Passengers  []Passenger   `json:"passengers,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// BookingRequest is the input to the booking flow.
// Passengers is the travelling manifest; its length must equal Seats.
type BookingRequest struct {
	TripID      uuid.UUID
	PassengerID uuid.UUID
	Seats       int
	Passengers  []Passenger
}
