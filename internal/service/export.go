package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/repo"
)

// ManifestService assembles the flat passenger manifest of a trip.
type ManifestService struct {
	store repo.Store
}

// NewManifestService constructs a ManifestService backed by store.
func NewManifestService(store repo.Store) *ManifestService {
	return &ManifestService{store: store}
}

// Manifest returns one ManifestRow per passenger on the trip's active
// bookings. Returns domain.ErrNotFound if the trip does not exist.
func (s *ManifestService) Manifest(ctx context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error) {
	r := s.store.Repos()
	if _, err := r.Trips.GetByID(ctx, tripID); err != nil {
		return nil, fmt.Errorf("service.ManifestService.Manifest: %w", err)
	}
	rows, err := r.Passengers.ManifestForTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("service.ManifestService.Manifest: %w", err)
	}
	if rows == nil {
		return []domain.ManifestRow{}, nil
	}
	return rows, nil
}
