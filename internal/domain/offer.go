package domain

import (
	"time"

	"github.com/google/uuid"
)

// Offer is a time-bounded, exclusive proposal of a trip to one driver.
// OfferedAt is stored as-is so audit and timeout handling never have to
// reconstruct it from the deadline.
type Offer struct {
	TripID    uuid.UUID `json:"trip_id"`
	DriverID  uuid.UUID `json:"driver_id"`
	OfferedAt time.Time `json:"offered_at"`
	Deadline  time.Time `json:"deadline"`
}

// TimeoutStatus is the state of a scheduled offer timeout.
type TimeoutStatus string

const (
	TimeoutPending    TimeoutStatus = "pending"
	TimeoutProcessing TimeoutStatus = "processing"
	TimeoutDone       TimeoutStatus = "done"
	TimeoutCancelled  TimeoutStatus = "cancelled"
)

// OfferTimeout is a durable deferred task that reverts an unanswered offer
// once FireAt has passed.
type OfferTimeout struct {
	ID        uuid.UUID     `json:"id"`
	TripID    uuid.UUID     `json:"trip_id"`
	DriverID  uuid.UUID     `json:"driver_id"`
	OfferedAt time.Time     `json:"offered_at"`
	FireAt    time.Time     `json:"fire_at"`
	Status    TimeoutStatus `json:"status"`
	Attempts  int           `json:"attempts"`
}
