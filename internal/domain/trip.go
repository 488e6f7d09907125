// Package domain contains the core data types for the ridebook service.
// This package has no infrastructure dependencies and is imported by every
// other internal package (repo, service, handler).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Trip is a schedulable ride with a fixed number of seats.
//
// AvailableSeats and Version are owned by the seat ledger: every successful
// reservation or release changes both in a single conditional write.
// OfferedToDriverID, OfferedAt and AcceptanceDeadline are set only while the
// trip is OFFERED.
type Trip struct {
	ID                 uuid.UUID  `json:"id"`
	Origin             string     `json:"origin"`
	Destination        string     `json:"destination"`
	DepartureAt        time.Time  `json:"departure_at"`
	TotalSeats         int        `json:"total_seats"`
	AvailableSeats     int        `json:"available_seats"`
	Version            int64      `json:"version"`
	Status             TripStatus `json:"status"`
	AssignedDriverID   *uuid.UUID `json:"assigned_driver_id,omitempty"`
	OfferedToDriverID  *uuid.UUID `json:"offered_to_driver_id,omitempty"`
	OfferedAt          *time.Time `json:"offered_at,omitempty"`
	AcceptanceDeadline *time.Time `json:"acceptance_deadline,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// BookedSeats returns the number of seats held by active bookings.
func (t Trip) BookedSeats() int {
	return t.TotalSeats - t.AvailableSeats
}

// IsOfferedTo reports whether the trip is currently offered to driverID.
func (t Trip) IsOfferedTo(driverID uuid.UUID) bool {
	return t.Status == StatusOffered && t.OfferedToDriverID != nil && *t.OfferedToDriverID == driverID
}

// OfferExpired reports whether an outstanding offer's deadline is at or
// before now. A trip with no deadline has nothing to expire.
func (t Trip) OfferExpired(now time.Time) bool {
	return t.AcceptanceDeadline != nil && !now.Before(*t.AcceptanceDeadline)
}

// TripFilter narrows a trip listing. A nil Status lists every status.
type TripFilter struct {
	Status *TripStatus
}

// StatusChange describes one conditional status write on a trip row.
// The write only applies when the row is still in From (and, when
// ExpectDriverID is set, still offered to that driver).
type StatusChange struct {
	TripID uuid.UUID
	From   TripStatus
	To     TripStatus
	Actor  string
	At     time.Time

	// ExpectDriverID guards writes that resolve an outstanding offer.
	ExpectDriverID *uuid.UUID
	// DeadlineAfter, when set, additionally requires acceptance_deadline > *DeadlineAfter.
	DeadlineAfter *time.Time
	// AssignDriverID sets assigned_driver_id; nil leaves it untouched.
	AssignDriverID *uuid.UUID
	// Offer carries the offer fields when To is OFFERED. For every other
	// target the offer fields are cleared.
	Offer *Offer
}
