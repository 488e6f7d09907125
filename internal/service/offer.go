package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/metrics"
	"github.com/pkordes/ridebook/internal/repo"
)

// OfferLocker is a cluster-wide mutual exclusion lease keyed by trip.
// lease.RedisLocker is the production implementation.
type OfferLocker interface {
	// Acquire takes the lease for holder if nobody holds it. It never waits.
	Acquire(ctx context.Context, tripID, holder uuid.UUID, ttl time.Duration) (bool, error)
	// Release drops the lease only if holder still owns it.
	Release(ctx context.Context, tripID, holder uuid.UUID) (bool, error)
	// Holder reports the current lease owner, if any.
	Holder(ctx context.Context, tripID uuid.UUID) (uuid.UUID, bool, error)
}

// MaxOfferTimeout bounds how long a single driver may sit on an offer.
const MaxOfferTimeout = time.Hour

// OfferCoordinator offers trips to one driver at a time. The lease gives
// cluster-wide exclusion and the conditional status writes on the trip row
// decide every race between accept, decline and the timeout handler.
type OfferCoordinator struct {
	store     repo.Store
	locker    OfferLocker
	lifecycle *TripLifecycle
	options
}

// NewOfferCoordinator constructs an OfferCoordinator. It hands locker to
// lifecycle so a cancelled offer releases its lease.
func NewOfferCoordinator(store repo.Store, locker OfferLocker, lifecycle *TripLifecycle, opts ...Option) *OfferCoordinator {
	if lifecycle != nil && lifecycle.locker == nil {
		lifecycle.locker = locker
	}
	return &OfferCoordinator{
		store:     store,
		locker:    locker,
		lifecycle: lifecycle,
		options:   newOptions(opts),
	}
}

// Offer proposes the trip to driverID for timeout. The trip must be
// PUBLISHED, unassigned and not yet departed.
//
// Returns domain.ErrAlreadyOffered when another offer is outstanding,
// domain.ErrTripUnavailable when the trip cannot be offered, and
// domain.ErrValidation for a non-positive or oversized timeout.
func (c *OfferCoordinator) Offer(ctx context.Context, tripID, driverID uuid.UUID, timeout time.Duration, actor string) (domain.Offer, error) {
	if timeout <= 0 || timeout > MaxOfferTimeout {
		return domain.Offer{}, fmt.Errorf("%w: timeout must be between 1s and %s", domain.ErrValidation, MaxOfferTimeout)
	}

	trips := c.store.Repos().Trips
	trip, err := trips.GetByID(ctx, tripID)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("service.OfferCoordinator.Offer: %w", err)
	}

	now := c.clock()
	if trip.Status == domain.StatusOffered && trip.OfferExpired(now) {
		// The scheduler has not caught up with this deadline yet.
		if _, err := c.revert(ctx, trip, *trip.OfferedToDriverID); err != nil {
			return domain.Offer{}, fmt.Errorf("service.OfferCoordinator.Offer: revert expired offer: %w", err)
		}
		if trip, err = trips.GetByID(ctx, tripID); err != nil {
			return domain.Offer{}, fmt.Errorf("service.OfferCoordinator.Offer: %w", err)
		}
	}

	switch {
	case trip.Status == domain.StatusOffered:
		return domain.Offer{}, domain.ErrAlreadyOffered
	case trip.Status != domain.StatusPublished:
		return domain.Offer{}, fmt.Errorf("%w: trip is %s", domain.ErrTripUnavailable, trip.Status)
	case trip.AssignedDriverID != nil:
		return domain.Offer{}, fmt.Errorf("%w: trip already has a driver", domain.ErrTripUnavailable)
	case !trip.DepartureAt.After(now):
		return domain.Offer{}, fmt.Errorf("%w: trip has already departed", domain.ErrTripUnavailable)
	}

	acquired, err := c.locker.Acquire(ctx, tripID, driverID, timeout)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("service.OfferCoordinator.Offer: acquire lease: %w", err)
	}
	if !acquired {
		return domain.Offer{}, domain.ErrAlreadyOffered
	}

	offer := domain.Offer{
		TripID:    tripID,
		DriverID:  driverID,
		OfferedAt: now,
		Deadline:  now.Add(timeout),
	}

	var (
		offered domain.Trip
		rec     domain.TransitionRecord
	)
	err = c.store.InTx(ctx, func(r repo.Repos) error {
		var err error
		offered, rec, err = c.lifecycle.apply(ctx, r, domain.StatusChange{
			TripID: tripID,
			From:   domain.StatusPublished,
			To:     domain.StatusOffered,
			Actor:  actor,
			At:     now,
			Offer:  &offer,
		})
		if err != nil {
			return err
		}
		_, err = r.Timeouts.Schedule(ctx, domain.OfferTimeout{
			TripID:    tripID,
			DriverID:  driverID,
			OfferedAt: offer.OfferedAt,
			FireAt:    offer.Deadline,
			Status:    domain.TimeoutPending,
		})
		return err
	})
	if err != nil {
		c.releaseLease(ctx, tripID, driverID)
		if errors.Is(err, domain.ErrConflict) {
			// The trip left PUBLISHED between the read and the write.
			return domain.Offer{}, fmt.Errorf("%w: trip changed while offering", domain.ErrTripUnavailable)
		}
		return domain.Offer{}, fmt.Errorf("service.OfferCoordinator.Offer: %w", err)
	}

	c.metrics.OfferMade()
	c.log.InfoContext(ctx, "trip offered",
		"trip_id", tripID, "driver_id", driverID, "deadline", offer.Deadline)
	c.publish(ctx, domain.StatusEvent(offered, rec))
	return offer, nil
}

// Accept assigns the trip to driverID and moves it to IN_PROGRESS.
// Pending bookings are confirmed in the same transaction.
//
// Returns domain.ErrNotHolder when the trip is not offered to driverID and
// domain.ErrOfferExpired once the deadline has passed, whether or not the
// timeout handler has run yet.
func (c *OfferCoordinator) Accept(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error) {
	now := c.clock()
	if err := c.checkResponder(ctx, tripID, driverID, now); err != nil {
		return domain.Trip{}, fmt.Errorf("service.OfferCoordinator.Accept: %w", err)
	}

	var (
		accepted domain.Trip
		rec      domain.TransitionRecord
	)
	err := c.store.InTx(ctx, func(r repo.Repos) error {
		var err error
		accepted, rec, err = c.lifecycle.apply(ctx, r, domain.StatusChange{
			TripID:         tripID,
			From:           domain.StatusOffered,
			To:             domain.StatusInProgress,
			Actor:          actor,
			At:             now,
			ExpectDriverID: &driverID,
			DeadlineAfter:  &now,
			AssignDriverID: &driverID,
		})
		if err != nil {
			return err
		}
		if _, err := r.Bookings.ConfirmPending(ctx, tripID); err != nil {
			return err
		}
		_, err = r.Timeouts.CancelPending(ctx, tripID, driverID)
		return err
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.OfferCoordinator.Accept: %w", c.explainLostRace(ctx, tripID, driverID, err))
	}

	c.releaseLease(ctx, tripID, driverID)
	c.metrics.OfferResolved(metrics.OfferAccepted)
	c.log.InfoContext(ctx, "offer accepted", "trip_id", tripID, "driver_id", driverID)
	c.publish(ctx, domain.StatusEvent(accepted, rec))
	return accepted, nil
}

// Decline hands the trip back to PUBLISHED without waiting for the timeout.
// It fails with the same errors as Accept.
func (c *OfferCoordinator) Decline(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error) {
	now := c.clock()
	if err := c.checkResponder(ctx, tripID, driverID, now); err != nil {
		return domain.Trip{}, fmt.Errorf("service.OfferCoordinator.Decline: %w", err)
	}

	var (
		declined domain.Trip
		rec      domain.TransitionRecord
	)
	err := c.store.InTx(ctx, func(r repo.Repos) error {
		var err error
		declined, rec, err = c.lifecycle.apply(ctx, r, domain.StatusChange{
			TripID:         tripID,
			From:           domain.StatusOffered,
			To:             domain.StatusPublished,
			Actor:          actor,
			At:             now,
			ExpectDriverID: &driverID,
			DeadlineAfter:  &now,
		})
		if err != nil {
			return err
		}
		_, err = r.Timeouts.CancelPending(ctx, tripID, driverID)
		return err
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.OfferCoordinator.Decline: %w", c.explainLostRace(ctx, tripID, driverID, err))
	}

	c.releaseLease(ctx, tripID, driverID)
	c.metrics.OfferResolved(metrics.OfferDeclined)
	c.log.InfoContext(ctx, "offer declined", "trip_id", tripID, "driver_id", driverID)
	c.publish(ctx, domain.StatusEvent(declined, rec))
	return declined, nil
}

// HandleTimeout reverts the offer described by t if it is still outstanding.
// It is safe to call any number of times and after accept or decline: it
// only acts while the trip is still OFFERED to the same driver for the same
// offer and no other driver holds the lease. It reports whether the trip
// was reverted.
func (c *OfferCoordinator) HandleTimeout(ctx context.Context, t domain.OfferTimeout) (bool, error) {
	trip, err := c.store.Repos().Trips.GetByID(ctx, t.TripID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("service.OfferCoordinator.HandleTimeout: %w", err)
	}

	if !trip.IsOfferedTo(t.DriverID) || trip.OfferedAt == nil || !trip.OfferedAt.Equal(t.OfferedAt) {
		return false, nil
	}
	if !trip.OfferExpired(c.clock()) {
		return false, fmt.Errorf("service.OfferCoordinator.HandleTimeout: deadline %s not reached", trip.AcceptanceDeadline)
	}

	holder, held, err := c.locker.Holder(ctx, t.TripID)
	if err != nil {
		return false, fmt.Errorf("service.OfferCoordinator.HandleTimeout: lease holder: %w", err)
	}
	if held && holder != t.DriverID {
		return false, nil
	}

	reverted, err := c.revert(ctx, trip, t.DriverID)
	if err != nil {
		return false, fmt.Errorf("service.OfferCoordinator.HandleTimeout: %w", err)
	}
	return reverted, nil
}

// revert moves an expired offer back to PUBLISHED. Losing the race to an
// accept or decline is not an error.
func (c *OfferCoordinator) revert(ctx context.Context, trip domain.Trip, driverID uuid.UUID) (bool, error) {
	var (
		reverted domain.Trip
		rec      domain.TransitionRecord
	)
	err := c.store.InTx(ctx, func(r repo.Repos) error {
		var err error
		reverted, rec, err = c.lifecycle.apply(ctx, r, domain.StatusChange{
			TripID:         trip.ID,
			From:           domain.StatusOffered,
			To:             domain.StatusPublished,
			Actor:          domain.SystemOfferTimeout,
			ExpectDriverID: &driverID,
		})
		if err != nil {
			return err
		}
		_, err = r.Timeouts.CancelPending(ctx, trip.ID, driverID)
		return err
	})
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.releaseLease(ctx, trip.ID, driverID)
	c.metrics.OfferResolved(metrics.OfferExpired)
	c.log.InfoContext(ctx, "offer expired",
		"trip_id", trip.ID, "driver_id", driverID, "offered_at", trip.OfferedAt)
	c.publish(ctx, domain.StatusEvent(reverted, rec))
	return true, nil
}

// checkResponder rejects a driver response before any write is attempted.
func (c *OfferCoordinator) checkResponder(ctx context.Context, tripID, driverID uuid.UUID, now time.Time) error {
	trip, err := c.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return err
	}
	if !trip.IsOfferedTo(driverID) {
		return domain.ErrNotHolder
	}
	if trip.OfferExpired(now) {
		return domain.ErrOfferExpired
	}

	holder, held, err := c.locker.Holder(ctx, tripID)
	if err != nil {
		return fmt.Errorf("lease holder: %w", err)
	}
	switch {
	case !held:
		// The lease TTL equals the offer timeout; a lapsed lease is a lapsed offer.
		return domain.ErrOfferExpired
	case holder != driverID:
		return domain.ErrNotHolder
	}
	return nil
}

// explainLostRace turns a failed conditional write into the error the
// driver should see.
func (c *OfferCoordinator) explainLostRace(ctx context.Context, tripID, driverID uuid.UUID, err error) error {
	if !errors.Is(err, domain.ErrConflict) {
		return err
	}
	trip, getErr := c.store.Repos().Trips.GetByID(ctx, tripID)
	if getErr != nil {
		return err
	}
	if trip.IsOfferedTo(driverID) && trip.OfferExpired(c.clock()) {
		return domain.ErrOfferExpired
	}
	return domain.ErrNotHolder
}

func (c *OfferCoordinator) releaseLease(ctx context.Context, tripID, driverID uuid.UUID) {
	if _, err := c.locker.Release(context.WithoutCancel(ctx), tripID, driverID); err != nil {
		c.log.WarnContext(ctx, "offer lease release failed",
			"trip_id", tripID, "driver_id", driverID, "error", err)
	}
}
