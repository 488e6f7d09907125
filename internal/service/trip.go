package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/repo"
)

// MaxTripSeats caps the capacity of a single trip.
const MaxTripSeats = 100

// TripService implements the listing side of trips: creation in DRAFT and
// reads. Status changes go through TripLifecycle and OfferCoordinator.
type TripService struct {
	store repo.Store
	options
}

// NewTripService constructs a TripService backed by store.
func NewTripService(store repo.Store, opts ...Option) *TripService {
	return &TripService{store: store, options: newOptions(opts)}
}

// Create validates and persists a new DRAFT trip with every seat available.
// Returns domain.ErrValidation if input violates business rules.
func (s *TripService) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	trip.Origin = strings.TrimSpace(trip.Origin)
	trip.Destination = strings.TrimSpace(trip.Destination)
	if err := s.validateTrip(trip); err != nil {
		return domain.Trip{}, err
	}
	result, err := s.store.Repos().Trips.Create(ctx, trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	s.log.InfoContext(ctx, "trip created", "trip_id", result.ID, "seats", result.TotalSeats)
	return result, nil
}

// GetByID returns a single trip by ID.
// Returns domain.ErrNotFound if no trip with that ID exists.
func (s *TripService) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	result, err := s.store.Repos().Trips.GetByID(ctx, id)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.GetByID: %w", err)
	}
	return result, nil
}

// ListPaged returns one page of trips ordered by departure time.
// Items is never nil.
func (s *TripService) ListPaged(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error) {
	if f.Status != nil && !f.Status.Valid() {
		return domain.Page[domain.Trip]{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *f.Status)
	}
	trips, total, err := s.store.Repos().Trips.ListPaged(ctx, f, p)
	if err != nil {
		return domain.Page[domain.Trip]{}, fmt.Errorf("service.TripService.ListPaged: %w", err)
	}
	if trips == nil {
		trips = []domain.Trip{}
	}
	return domain.Page[domain.Trip]{Items: trips, Total: total}, nil
}

// validateTrip enforces business rules for a new trip.
//   - Origin and Destination must be non-empty and differ.
//   - TotalSeats must be between 1 and MaxTripSeats.
//   - DepartureAt must be in the future.
func (s *TripService) validateTrip(trip domain.Trip) error {
	if trip.Origin == "" || trip.Destination == "" {
		return fmt.Errorf("%w: origin and destination are required", domain.ErrValidation)
	}
	if strings.EqualFold(trip.Origin, trip.Destination) {
		return fmt.Errorf("%w: origin and destination must differ", domain.ErrValidation)
	}
	if trip.TotalSeats < 1 || trip.TotalSeats > MaxTripSeats {
		return fmt.Errorf("%w: total_seats must be between 1 and %d", domain.ErrValidation, MaxTripSeats)
	}
	if !trip.DepartureAt.After(s.now()) {
		return fmt.Errorf("%w: departure_at must be in the future", domain.ErrValidation)
	}
	return nil
}
