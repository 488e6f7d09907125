package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist in the database.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. seat count below one, manifest size mismatch).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrConflict is returned when a conditional write affected zero rows: the
// optimistic version was stale, the seats ran out, or the row's status moved
// underneath the caller. Use ErrStaleVersion / ErrInsufficientSeats to tell
// the seat cases apart; both wrap ErrConflict.
var ErrConflict = errors.New("conflict")

// ErrStaleVersion means another writer mutated the trip after it was read.
// It is the only conflict the booking flow retries.
var ErrStaleVersion = fmt.Errorf("%w: stale trip version", ErrConflict)

// ErrInsufficientSeats means the trip does not have enough available seats.
// Seats only come back on an explicit release, so this is never retried.
var ErrInsufficientSeats = fmt.Errorf("%w: insufficient seats", ErrConflict)

// ErrIllegalTransition is returned for any status change that is not in the
// trip lifecycle table. It is never coerced to a nearby legal state.
var ErrIllegalTransition = errors.New("illegal status transition")

// ErrTripUnavailable is returned when the trip's current state does not allow
// the requested operation (not bookable, not offerable, already departed).
var ErrTripUnavailable = errors.New("trip unavailable")

// ErrAlreadyOffered is returned when another driver currently holds the
// offer lease for the trip.
var ErrAlreadyOffered = errors.New("trip already offered")

// ErrOfferExpired is returned when a driver responds after the acceptance
// deadline.
var ErrOfferExpired = errors.New("offer expired")

// ErrNotHolder is returned when the responding driver is not the one the
// trip is currently offered to.
var ErrNotHolder = errors.New("driver does not hold the offer")

// ErrDuplicateBooking is returned when the passenger already holds an active
// booking on the trip.
var ErrDuplicateBooking = errors.New("passenger already booked on trip")
