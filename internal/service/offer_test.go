package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/lease"
	"github.com/pkordes/ridebook/internal/service"
)

const offerTimeout = 30 * time.Second

// pendingTimeout returns the single pending timeout scheduled for the trip.
func pendingTimeout(t *testing.T, h *harness, tripID uuid.UUID) domain.OfferTimeout {
	t.Helper()
	var pending []domain.OfferTimeout
	for _, to := range h.store.timeoutsFor(tripID) {
		if to.Status == domain.TimeoutPending {
			pending = append(pending, to)
		}
	}
	require.Len(t, pending, 1)
	return pending[0]
}

func TestOfferCoordinator_Offer(t *testing.T) {
	h := newHarness()
	trip := h.publishedTrip(4)
	driver := uuid.New()

	offer, err := h.offers.Offer(context.Background(), trip.ID, driver, offerTimeout, adminActor)

	require.NoError(t, err)
	assert.Equal(t, h.clock.Now(), offer.OfferedAt)
	assert.Equal(t, h.clock.Now().Add(offerTimeout), offer.Deadline)

	stored := h.store.trip(trip.ID)
	assert.Equal(t, domain.StatusOffered, stored.Status)
	assert.True(t, stored.IsOfferedTo(driver))
	require.NotNil(t, stored.OfferedAt)
	assert.Equal(t, offer.OfferedAt, *stored.OfferedAt)

	holder, held, err := h.locker.Holder(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, driver, holder)

	to := pendingTimeout(t, h, trip.ID)
	assert.Equal(t, offer.Deadline, to.FireAt)
	assert.Equal(t, offer.OfferedAt, to.OfferedAt)

	ev := h.sink.last()
	assert.Equal(t, domain.StatusOffered, ev.NewStatus)
	require.NotNil(t, ev.DriverID)
	assert.Equal(t, driver, *ev.DriverID)
}

// Offer to A, B is refused, A's timeout reverts the trip, C gets it.
func TestOfferCoordinator_TimeoutThenReoffer(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	trip := h.publishedTrip(4)
	driverA, driverB, driverC := uuid.New(), uuid.New(), uuid.New()

	_, err := h.offers.Offer(ctx, trip.ID, driverA, offerTimeout, adminActor)
	require.NoError(t, err)

	_, err = h.offers.Offer(ctx, trip.ID, driverB, offerTimeout, adminActor)
	require.ErrorIs(t, err, domain.ErrAlreadyOffered)

	h.clock.Advance(offerTimeout)
	reverted, err := h.offers.HandleTimeout(ctx, pendingTimeout(t, h, trip.ID))
	require.NoError(t, err)
	assert.True(t, reverted)

	stored := h.store.trip(trip.ID)
	assert.Equal(t, domain.StatusPublished, stored.Status)
	assert.Nil(t, stored.OfferedToDriverID)
	assert.Nil(t, stored.AcceptanceDeadline)
	_, held, _ := h.locker.Holder(ctx, trip.ID)
	assert.False(t, held)

	recs := h.store.auditFor(trip.ID)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.SystemOfferTimeout, recs[1].Actor)

	_, err = h.offers.Offer(ctx, trip.ID, driverC, offerTimeout, adminActor)
	require.NoError(t, err)
	assert.True(t, h.store.trip(trip.ID).IsOfferedTo(driverC))
}

// A new offer after the deadline does not wait for the scheduler.
func TestOfferCoordinator_Offer_RevertsLapsedOfferInline(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	trip := h.publishedTrip(4)
	driverA, driverC := uuid.New(), uuid.New()

	_, err := h.offers.Offer(ctx, trip.ID, driverA, offerTimeout, adminActor)
	require.NoError(t, err)
	first := pendingTimeout(t, h, trip.ID)

	h.clock.Advance(offerTimeout + time.Second)
	_, err = h.offers.Offer(ctx, trip.ID, driverC, offerTimeout, adminActor)
	require.NoError(t, err)
	assert.True(t, h.store.trip(trip.ID).IsOfferedTo(driverC))

	// The old timeout firing late must not touch the new offer.
	reverted, err := h.offers.HandleTimeout(ctx, first)
	require.NoError(t, err)
	assert.False(t, reverted)
	assert.True(t, h.store.trip(trip.ID).IsOfferedTo(driverC))
}

func TestOfferCoordinator_Offer_OneWinner(t *testing.T) {
	h := newHarness()
	trip := h.publishedTrip(4)

	const drivers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		refused  int
		unexpect []error
	)
	for range drivers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.offers.Offer(context.Background(), trip.ID, uuid.New(), offerTimeout, adminActor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, domain.ErrAlreadyOffered):
				refused++
			default:
				unexpect = append(unexpect, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, unexpect)
	assert.Equal(t, 1, won)
	assert.Equal(t, drivers-1, refused)
	assert.Len(t, h.store.timeoutsFor(trip.ID), 1)
}

// The same race against the Redis lease.
func TestOfferCoordinator_Offer_OneWinner_RedisLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness()
	offers := service.NewOfferCoordinator(h.store, lease.NewRedisLocker(client, lease.DefaultPrefix), h.lifecycle,
		service.WithClock(h.clock.Now))
	trip := h.publishedTrip(4)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won []uuid.UUID
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			driver := uuid.New()
			if _, err := offers.Offer(context.Background(), trip.ID, driver, offerTimeout, adminActor); err == nil {
				mu.Lock()
				won = append(won, driver)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, won, 1)
	assert.True(t, h.store.trip(trip.ID).IsOfferedTo(won[0]))
	assert.Greater(t, mr.TTL(lease.DefaultPrefix+trip.ID.String()), time.Duration(0))
}

func TestOfferCoordinator_Offer_Preconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	assigned := uuid.New()

	departed := h.publishedTrip(4)
	departed.DepartureAt = h.clock.Now().Add(-time.Minute)
	h.store.putTrip(departed)

	withDriver := h.publishedTrip(4)
	withDriver.AssignedDriverID = &assigned
	h.store.putTrip(withDriver)

	draft := h.store.putTrip(domain.Trip{TotalSeats: 4, AvailableSeats: 4, Status: domain.StatusDraft,
		DepartureAt: h.clock.Now().Add(time.Hour)})
	ok := h.publishedTrip(4)

	tests := []struct {
		name    string
		tripID  uuid.UUID
		timeout time.Duration
		want    error
	}{
		{"departed", departed.ID, offerTimeout, domain.ErrTripUnavailable},
		{"already assigned", withDriver.ID, offerTimeout, domain.ErrTripUnavailable},
		{"draft", draft.ID, offerTimeout, domain.ErrTripUnavailable},
		{"missing", uuid.New(), offerTimeout, domain.ErrNotFound},
		{"zero timeout", ok.ID, 0, domain.ErrValidation},
		{"oversized timeout", ok.ID, service.MaxOfferTimeout + time.Second, domain.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.offers.Offer(ctx, tc.tripID, uuid.New(), tc.timeout, adminActor)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	_, held, _ := h.locker.Holder(ctx, departed.ID)
	assert.False(t, held, "preconditions are checked before locking")
}

func TestOfferCoordinator_Offer_WriteFailureReleasesLease(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.store.scheduleErr = errors.New("disk full")
	trip := h.publishedTrip(4)

	_, err := h.offers.Offer(ctx, trip.ID, uuid.New(), offerTimeout, adminActor)

	require.Error(t, err)
	assert.Equal(t, domain.StatusPublished, h.store.trip(trip.ID).Status, "status write rolled back")
	assert.Empty(t, h.store.auditFor(trip.ID))
	_, held, _ := h.locker.Holder(ctx, trip.ID)
	assert.False(t, held)
}

func TestOfferCoordinator_Accept(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	trip := h.publishedTrip(4)
	driver := uuid.New()

	booking, err := h.bookings.Create(ctx, bookingRequest(trip.ID, 2))
	require.NoError(t, err)
	_, err = h.offers.Offer(ctx, trip.ID, driver, offerTimeout, adminActor)
	require.NoError(t, err)
	timeout := pendingTimeout(t, h, trip.ID)

	h.clock.Advance(10 * time.Second)
	got, err := h.offers.Accept(ctx, trip.ID, driver, "driver:"+driver.String())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	require.NotNil(t, got.AssignedDriverID)
	assert.Equal(t, driver, *got.AssignedDriverID)
	assert.Nil(t, got.OfferedToDriverID)

	confirmed, err := h.bookings.GetByID(ctx, booking.ID, domain.Actor{Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, confirmed.Status)

	_, held, _ := h.locker.Holder(ctx, trip.ID)
	assert.False(t, held)
	assert.Equal(t, domain.TimeoutCancelled, h.store.timeoutsFor(trip.ID)[0].Status)

	// A timeout that was already claimed before the accept is a no-op.
	h.clock.Advance(offerTimeout)
	reverted, err := h.offers.HandleTimeout(ctx, timeout)
	require.NoError(t, err)
	assert.False(t, reverted)
	assert.Equal(t, domain.StatusInProgress, h.store.trip(trip.ID).Status)
}

func TestOfferCoordinator_Accept_WrongDriver(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	trip := h.publishedTrip(4)
	_, err := h.offers.Offer(ctx, trip.ID, uuid.New(), offerTimeout, adminActor)
	require.NoError(t, err)

	_, err = h.offers.Accept(ctx, trip.ID, uuid.New(), adminActor)

	assert.ErrorIs(t, err, domain.ErrNotHolder)
	assert.Equal(t, domain.StatusOffered, h.store.trip(trip.ID).Status)
}

func TestOfferCoordinator_Accept_NotOffered(t *testing.T) {
	h := newHarness()
	trip := h.publishedTrip(4)

	_, err := h.offers.Accept(context.Background(), trip.ID, uuid.New(), adminActor)

	assert.ErrorIs(t, err, domain.ErrNotHolder)
}

// Acceptance is refused after the deadline even if no timeout has run.
func TestOfferCoordinator_Accept_AfterDeadline(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	trip := h.publishedTrip(4)
	driver := uuid.New()
	_, err := h.offers.Offer(ctx, trip.ID, driver, offerTimeout, adminActor)
	require.NoError(t, err)

	h.clock.Advance(offerTimeout)
	_, err = h.offers.Accept(ctx, trip.ID, driver, adminActor)

	require.ErrorIs(t, err, domain.ErrOfferExpired)
	assert.Equal(t, domain.StatusOffered, h.store.trip(trip.ID).Status, "reverting is the timeout handler's job")

	_, err = h.offers.Decline(ctx, trip.ID, driver, adminActor)
	assert.ErrorIs(t, err, domain.ErrOfferExpired)
}

func TestOfferCoordinator_Decline(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	trip := h.publishedTrip(4)
	driverA, driverB := uuid.New(), uuid.New()
	_, err := h.offers.Offer(ctx, trip.ID, driverA, offerTimeout, adminActor)
	require.NoError(t, err)

	got, err := h.offers.Decline(ctx, trip.ID, driverA, adminActor)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
	assert.Nil(t, got.AssignedDriverID)
	assert.Nil(t, got.OfferedToDriverID)
	assert.Equal(t, domain.TimeoutCancelled, h.store.timeoutsFor(trip.ID)[0].Status)

	_, err = h.offers.Offer(ctx, trip.ID, driverB, offerTimeout, adminActor)
	assert.NoError(t, err, "lease must be free immediately after a decline")
}

func TestOfferCoordinator_HandleTimeout_BeforeDeadline(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	trip := h.publishedTrip(4)
	_, err := h.offers.Offer(ctx, trip.ID, uuid.New(), offerTimeout, adminActor)
	require.NoError(t, err)

	reverted, err := h.offers.HandleTimeout(ctx, pendingTimeout(t, h, trip.ID))

	assert.Error(t, err)
	assert.False(t, reverted)
	assert.Equal(t, domain.StatusOffered, h.store.trip(trip.ID).Status)
}

func TestOfferCoordinator_HandleTimeout_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	trip := h.publishedTrip(4)
	_, err := h.offers.Offer(ctx, trip.ID, uuid.New(), offerTimeout, adminActor)
	require.NoError(t, err)
	timeout := pendingTimeout(t, h, trip.ID)
	h.clock.Advance(offerTimeout)

	first, err := h.offers.HandleTimeout(ctx, timeout)
	require.NoError(t, err)
	second, err := h.offers.HandleTimeout(ctx, timeout)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, h.store.auditFor(trip.ID), 2, "one OFFERED and one revert record")
}

func TestOfferCoordinator_HandleTimeout_MissingTrip(t *testing.T) {
	h := newHarness()

	reverted, err := h.offers.HandleTimeout(context.Background(), domain.OfferTimeout{TripID: uuid.New(), DriverID: uuid.New()})

	require.NoError(t, err)
	assert.False(t, reverted)
}
