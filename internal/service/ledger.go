package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/repo"
)

// SeatLedger owns the invariant booked + available == total for every trip.
// Each mutation is one conditional write on the trip row; nothing is locked
// across application code.
type SeatLedger struct {
	store repo.Store
}

// NewSeatLedger constructs a SeatLedger backed by store.
func NewSeatLedger(store repo.Store) *SeatLedger {
	return &SeatLedger{store: store}
}

// Reserve takes seats from the trip if and only if its version still equals
// expectedVersion and enough seats remain. A lost race or a shortage is
// reported as domain.ErrConflict; use Diagnose to tell them apart.
func (l *SeatLedger) Reserve(ctx context.Context, tripID uuid.UUID, seats int, expectedVersion int64) (domain.Trip, error) {
	trip, err := l.reserve(ctx, l.store.Repos().Trips, tripID, seats, expectedVersion)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.SeatLedger.Reserve: %w", err)
	}
	return trip, nil
}

// Release hands seats back to the trip. It is not version-checked.
func (l *SeatLedger) Release(ctx context.Context, tripID uuid.UUID, seats int) (domain.Trip, error) {
	trip, err := l.release(ctx, l.store.Repos().Trips, tripID, seats)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.SeatLedger.Release: %w", err)
	}
	return trip, nil
}

// Diagnose re-reads the trip after a failed Reserve and classifies the
// conflict: domain.ErrTripUnavailable when the trip stopped being bookable,
// domain.ErrInsufficientSeats when seats ran out, domain.ErrStaleVersion
// otherwise.
func (l *SeatLedger) Diagnose(ctx context.Context, tripID uuid.UUID, seats int) error {
	return l.diagnose(ctx, l.store.Repos().Trips, tripID, seats)
}

func (l *SeatLedger) reserve(ctx context.Context, trips repo.TripRepo, tripID uuid.UUID, seats int, expectedVersion int64) (domain.Trip, error) {
	if seats < 1 {
		return domain.Trip{}, fmt.Errorf("%w: seat count must be at least 1", domain.ErrValidation)
	}
	return trips.ReserveSeats(ctx, tripID, seats, expectedVersion)
}

func (l *SeatLedger) release(ctx context.Context, trips repo.TripRepo, tripID uuid.UUID, seats int) (domain.Trip, error) {
	if seats < 1 {
		return domain.Trip{}, fmt.Errorf("%w: seat count must be at least 1", domain.ErrValidation)
	}
	return trips.ReleaseSeats(ctx, tripID, seats)
}

func (l *SeatLedger) diagnose(ctx context.Context, trips repo.TripRepo, tripID uuid.UUID, seats int) error {
	trip, err := trips.GetByID(ctx, tripID)
	if err != nil {
		return fmt.Errorf("service.SeatLedger.Diagnose: %w", err)
	}
	return classifyShortfall(trip, seats)
}

// classifyShortfall explains why seats cannot be taken from trip right now.
// A trip that could satisfy the request was simply written by someone else
// first.
func classifyShortfall(trip domain.Trip, seats int) error {
	switch {
	case !trip.Status.IsBookable():
		return fmt.Errorf("%w: trip is %s", domain.ErrTripUnavailable, trip.Status)
	case trip.AvailableSeats < seats:
		return fmt.Errorf("%w: %d requested, %d available", domain.ErrInsufficientSeats, seats, trip.AvailableSeats)
	default:
		return domain.ErrStaleVersion
	}
}

// conflictReason is the metrics label for a classified reservation failure.
func conflictReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStaleVersion):
		return "stale_version"
	case errors.Is(err, domain.ErrInsufficientSeats):
		return "insufficient_seats"
	case errors.Is(err, domain.ErrTripUnavailable):
		return "trip_unavailable"
	case errors.Is(err, domain.ErrDuplicateBooking):
		return "duplicate_booking"
	}
	return "other"
}
