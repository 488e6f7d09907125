package domain

import (
	"time"

	"github.com/google/uuid"
)

// Passenger is one traveller listed on a booking's manifest.
// A booking for N seats carries exactly N passengers.
type Passenger struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	SeatIndex int       `json:"seat_index"`
	CreatedAt time.Time `json:"created_at"`
}
