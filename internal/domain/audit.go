package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransitionRecord is the audit trail entry written for every successful
// status transition.
type TransitionRecord struct {
	ID         uuid.UUID  `json:"id"`
	TripID     uuid.UUID  `json:"trip_id"`
	From       TripStatus `json:"from"`
	To         TripStatus `json:"to"`
	Actor      string     `json:"actor"`
	OccurredAt time.Time  `json:"occurred_at"`
}
