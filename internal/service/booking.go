package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/repo"
)

// DefaultBookingAttempts bounds the optimistic retry loop of Create.
const DefaultBookingAttempts = 5

// MaxSeatsPerBooking caps a single booking request.
const MaxSeatsPerBooking = 8

// BookingService turns a booking request into one atomic unit of work:
// read the trip, validate, reserve seats at the version just read, persist
// the booking and its manifest, and mark the trip FULL when the last seat
// goes. A stale version retries the whole unit a bounded number of times.
type BookingService struct {
	store       repo.Store
	ledger      *SeatLedger
	lifecycle   *TripLifecycle
	maxAttempts int
	backoffBase time.Duration
	options
}

// NewBookingService constructs a BookingService. maxAttempts below one
// falls back to DefaultBookingAttempts.
func NewBookingService(store repo.Store, ledger *SeatLedger, lifecycle *TripLifecycle, maxAttempts int, opts ...Option) *BookingService {
	if maxAttempts < 1 {
		maxAttempts = DefaultBookingAttempts
	}
	return &BookingService{
		store:       store,
		ledger:      ledger,
		lifecycle:   lifecycle,
		maxAttempts: maxAttempts,
		backoffBase: 5 * time.Millisecond,
		options:     newOptions(opts),
	}
}

// backoff is rebuilt per request; go-retry backoffs are stateful.
func (s *BookingService) backoff() retry.Backoff {
	b := retry.NewExponential(s.backoffBase)
	b = retry.WithJitter(s.backoffBase, b)
	return retry.WithMaxRetries(uint64(s.maxAttempts-1), b)
}

// Create books req.Seats seats on req.TripID for req.PassengerID.
//
// Returns domain.ErrValidation for a malformed request,
// domain.ErrTripUnavailable when the trip is not bookable,
// domain.ErrDuplicateBooking when the passenger already holds an active
// booking on the trip, domain.ErrInsufficientSeats when seats ran out and
// domain.ErrConflict when every attempt lost the version race. On any error
// nothing is persisted.
func (s *BookingService) Create(ctx context.Context, req domain.BookingRequest) (domain.Booking, error) {
	if err := validateBookingRequest(req); err != nil {
		return domain.Booking{}, err
	}

	var (
		attempts int
		booking  domain.Booking
		events   []domain.TripEvent
	)
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++
		b, evs, err := s.attempt(ctx, req)
		if err != nil {
			s.metrics.BookingConflict(conflictReason(err))
			if errors.Is(err, domain.ErrStaleVersion) {
				return retry.RetryableError(err)
			}
			return err
		}
		booking, events = b, evs
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleVersion) {
			s.log.WarnContext(ctx, "booking retries exhausted",
				"trip_id", req.TripID, "passenger_id", req.PassengerID, "attempts", attempts)
			return domain.Booking{}, fmt.Errorf("service.BookingService.Create: gave up after %d attempts: %w", attempts, err)
		}
		return domain.Booking{}, fmt.Errorf("service.BookingService.Create: %w", err)
	}

	s.metrics.BookingCreated(attempts)
	s.log.InfoContext(ctx, "booking created",
		"booking_id", booking.ID, "trip_id", booking.TripID, "seats", booking.SeatsBooked, "attempts", attempts)
	s.publish(ctx, events...)
	return booking, nil
}

// attempt runs one read-validate-reserve-persist unit in a transaction.
func (s *BookingService) attempt(ctx context.Context, req domain.BookingRequest) (domain.Booking, []domain.TripEvent, error) {
	var (
		booking domain.Booking
		events  []domain.TripEvent
	)
	actor := domain.Actor{ID: req.PassengerID, Role: domain.RolePassenger}.String()

	err := s.store.InTx(ctx, func(r repo.Repos) error {
		trip, err := r.Trips.GetByID(ctx, req.TripID)
		if err != nil {
			return err
		}
		if !trip.Status.IsBookable() || trip.AvailableSeats == 0 {
			return fmt.Errorf("%w: trip is %s with %d seats left", domain.ErrTripUnavailable, trip.Status, trip.AvailableSeats)
		}
		if trip.AvailableSeats < req.Seats {
			return fmt.Errorf("%w: %d requested, %d available", domain.ErrInsufficientSeats, req.Seats, trip.AvailableSeats)
		}

		active, err := r.Bookings.HasActive(ctx, trip.ID, req.PassengerID)
		if err != nil {
			return err
		}
		if active {
			return domain.ErrDuplicateBooking
		}

		reserved, err := s.ledger.reserve(ctx, r.Trips, trip.ID, req.Seats, trip.Version)
		if errors.Is(err, domain.ErrConflict) {
			return s.ledger.diagnose(ctx, r.Trips, trip.ID, req.Seats)
		}
		if err != nil {
			return err
		}

		booking, err = r.Bookings.Create(ctx, domain.Booking{
			TripID:      trip.ID,
			PassengerID: req.PassengerID,
			SeatsBooked: req.Seats,
			Status:      domain.BookingPending,
		})
		if err != nil {
			return err
		}
		booking.Passengers, err = r.Passengers.CreateBatch(ctx, booking.ID, req.Passengers)
		if err != nil {
			return err
		}

		seats := reserved.AvailableSeats
		bookingID := booking.ID
		events = append(events, domain.TripEvent{
			Kind:           domain.EventBookingCreated,
			TripID:         trip.ID,
			PreviousStatus: reserved.Status,
			NewStatus:      reserved.Status,
			AvailableSeats: &seats,
			BookingID:      &bookingID,
			Actor:          actor,
			OccurredAt:     booking.CreatedAt,
		})

		if reserved.AvailableSeats == 0 {
			full, rec, err := s.lifecycle.apply(ctx, r, domain.StatusChange{
				TripID: trip.ID,
				From:   domain.StatusPublished,
				To:     domain.StatusFull,
				Actor:  actor,
			})
			if err != nil {
				return err
			}
			events = append(events, domain.StatusEvent(full, rec))
		}
		return nil
	})
	return booking, events, err
}

// Cancel cancels an active booking and hands its seats back to the trip.
// Passengers may only cancel their own bookings; another passenger's booking
// reads as domain.ErrNotFound. Seats can be released while the trip is
// PUBLISHED, OFFERED or FULL.
func (s *BookingService) Cancel(ctx context.Context, bookingID uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	booking, err := s.visibleBooking(ctx, bookingID, actor)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Cancel: %w", err)
	}
	if !booking.Status.IsActive() {
		return domain.Booking{}, fmt.Errorf("%w: booking is already %s", domain.ErrConflict, booking.Status)
	}

	var (
		cancelled domain.Booking
		trip      domain.Trip
	)
	err = s.store.InTx(ctx, func(r repo.Repos) error {
		current, err := r.Trips.GetByID(ctx, booking.TripID)
		if err != nil {
			return err
		}
		if !current.Status.AllowsBookingCancellation() {
			return fmt.Errorf("%w: trip is %s", domain.ErrTripUnavailable, current.Status)
		}
		cancelled, err = r.Bookings.UpdateStatus(ctx, booking.ID, booking.Status, domain.BookingCancelled)
		if err != nil {
			return err
		}
		trip, err = s.ledger.release(ctx, r.Trips, booking.TripID, booking.SeatsBooked)
		return err
	})
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Cancel: %w", err)
	}

	seats := trip.AvailableSeats
	s.log.InfoContext(ctx, "booking cancelled",
		"booking_id", cancelled.ID, "trip_id", trip.ID, "seats", cancelled.SeatsBooked, "actor", actor.String())
	s.publish(ctx, domain.TripEvent{
		Kind:           domain.EventBookingCancelled,
		TripID:         trip.ID,
		PreviousStatus: trip.Status,
		NewStatus:      trip.Status,
		AvailableSeats: &seats,
		BookingID:      &cancelled.ID,
		Actor:          actor.String(),
		OccurredAt:     cancelled.UpdatedAt,
	})
	return cancelled, nil
}

// GetByID returns a booking with its passenger manifest.
func (s *BookingService) GetByID(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	booking, err := s.visibleBooking(ctx, id, actor)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.GetByID: %w", err)
	}
	passengers, err := s.store.Repos().Passengers.ListByBookingID(ctx, id)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.GetByID: %w", err)
	}
	booking.Passengers = passengers
	return booking, nil
}

// ListByTrip returns every booking on a trip, oldest first.
// Always returns a non-nil slice so callers can safely range over it.
func (s *BookingService) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Booking, error) {
	r := s.store.Repos()
	if _, err := r.Trips.GetByID(ctx, tripID); err != nil {
		return nil, fmt.Errorf("service.BookingService.ListByTrip: %w", err)
	}
	bookings, err := r.Bookings.ListByTripID(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("service.BookingService.ListByTrip: %w", err)
	}
	if bookings == nil {
		return []domain.Booking{}, nil
	}
	return bookings, nil
}

// visibleBooking loads a booking and hides it from passengers who do not own it.
func (s *BookingService) visibleBooking(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	booking, err := s.store.Repos().Bookings.GetByID(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if actor.Role == domain.RolePassenger && booking.PassengerID != actor.ID {
		return domain.Booking{}, domain.ErrNotFound
	}
	return booking, nil
}

// validateBookingRequest enforces the request-shape rules:
//   - Seats must be between 1 and MaxSeatsPerBooking.
//   - The manifest must list exactly one passenger per seat, each named.
func validateBookingRequest(req domain.BookingRequest) error {
	if req.Seats < 1 || req.Seats > MaxSeatsPerBooking {
		return fmt.Errorf("%w: seats must be between 1 and %d", domain.ErrValidation, MaxSeatsPerBooking)
	}
	if len(req.Passengers) != req.Seats {
		return fmt.Errorf("%w: manifest lists %d passengers for %d seats", domain.ErrValidation, len(req.Passengers), req.Seats)
	}
	for i, p := range req.Passengers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: passenger %d has no name", domain.ErrValidation, i+1)
		}
	}
	return nil
}
