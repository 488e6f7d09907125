package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/repo"
)

// TripLifecycle applies status transitions. The table itself lives in
// domain.CheckTransition; this type makes each transition a conditional write
// plus an audit record in one transaction.
type TripLifecycle struct {
	store repo.Store
	// locker is set by NewOfferCoordinator so cancelling an offered trip
	// also frees its lease.
	locker OfferLocker
	options
}

// NewTripLifecycle constructs a TripLifecycle backed by store.
func NewTripLifecycle(store repo.Store, opts ...Option) *TripLifecycle {
	return &TripLifecycle{store: store, options: newOptions(opts)}
}

// Transition moves the trip to status to on behalf of actor.
//
// Offers are owned by OfferCoordinator: entering OFFERED is refused here, and
// an outstanding offer can only be cancelled, never accepted or reverted.
// Returns domain.ErrIllegalTransition for pairs outside the lifecycle table
// and domain.ErrConflict when the status changed concurrently. Status is
// unchanged on every error.
func (l *TripLifecycle) Transition(ctx context.Context, tripID uuid.UUID, to domain.TripStatus, actor string) (domain.Trip, error) {
	trip, err := l.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripLifecycle.Transition: %w", err)
	}
	if err := domain.CheckTransition(trip.Status, to); err != nil {
		return domain.Trip{}, err
	}
	if to == domain.StatusOffered {
		return domain.Trip{}, fmt.Errorf("%w: use the offer endpoint to offer a trip", domain.ErrValidation)
	}
	if trip.Status == domain.StatusOffered && to != domain.StatusCancelled {
		return domain.Trip{}, fmt.Errorf("%w: offer outstanding, driver must accept or decline", domain.ErrTripUnavailable)
	}

	change := domain.StatusChange{
		TripID: tripID,
		From:   trip.Status,
		To:     to,
		Actor:  actor,
		At:     l.clock(),
	}

	var (
		updated domain.Trip
		rec     domain.TransitionRecord
	)
	err = l.store.InTx(ctx, func(r repo.Repos) error {
		var err error
		updated, rec, err = l.apply(ctx, r, change)
		if err != nil {
			return err
		}
		if to == domain.StatusInProgress {
			if _, err := r.Bookings.ConfirmPending(ctx, tripID); err != nil {
				return err
			}
		}
		if trip.OfferedToDriverID != nil {
			_, err = r.Timeouts.CancelPending(ctx, tripID, *trip.OfferedToDriverID)
		}
		return err
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripLifecycle.Transition: %w", err)
	}
	if trip.Status == domain.StatusOffered && trip.OfferedToDriverID != nil {
		l.releaseLease(ctx, tripID, *trip.OfferedToDriverID)
	}

	l.log.InfoContext(ctx, "trip transitioned",
		"trip_id", tripID, "from", rec.From, "to", rec.To, "actor", actor)
	l.publish(ctx, domain.StatusEvent(updated, rec))
	return updated, nil
}

// History returns the audit trail of a trip, oldest first.
func (l *TripLifecycle) History(ctx context.Context, tripID uuid.UUID) ([]domain.TransitionRecord, error) {
	r := l.store.Repos()
	if _, err := r.Trips.GetByID(ctx, tripID); err != nil {
		return nil, fmt.Errorf("service.TripLifecycle.History: %w", err)
	}
	recs, err := r.Audit.ListByTripID(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("service.TripLifecycle.History: %w", err)
	}
	if recs == nil {
		return []domain.TransitionRecord{}, nil
	}
	return recs, nil
}

// apply validates change against the lifecycle table, performs the
// conditional write and records the audit row, all on r. Callers own the
// transaction and publish the event after commit.
func (l *TripLifecycle) apply(ctx context.Context, r repo.Repos, change domain.StatusChange) (domain.Trip, domain.TransitionRecord, error) {
	if err := domain.CheckTransition(change.From, change.To); err != nil {
		return domain.Trip{}, domain.TransitionRecord{}, err
	}
	if change.At.IsZero() {
		change.At = l.clock()
	}

	trip, err := r.Trips.UpdateStatus(ctx, change)
	if err != nil {
		return domain.Trip{}, domain.TransitionRecord{}, err
	}

	rec, err := r.Audit.Insert(ctx, domain.TransitionRecord{
		TripID:     change.TripID,
		From:       change.From,
		To:         change.To,
		Actor:      change.Actor,
		OccurredAt: change.At,
	})
	if err != nil {
		return domain.Trip{}, domain.TransitionRecord{}, err
	}
	return trip, rec, nil
}

func (l *TripLifecycle) releaseLease(ctx context.Context, tripID, driverID uuid.UUID) {
	if l.locker == nil {
		return
	}
	if _, err := l.locker.Release(context.WithoutCancel(ctx), tripID, driverID); err != nil {
		l.log.WarnContext(ctx, "offer lease release failed",
			"trip_id", tripID, "driver_id", driverID, "error", err)
	}
}
