package service_test

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/repo"
	"github.com/pkordes/ridebook/internal/service"
)

// memState is everything memStore persists.
type memState struct {
	trips      map[uuid.UUID]domain.Trip
	bookings   map[uuid.UUID]domain.Booking
	passengers map[uuid.UUID][]domain.Passenger
	audit      []domain.TransitionRecord
	timeouts   map[uuid.UUID]domain.OfferTimeout
}

func (s memState) clone() memState {
	return memState{
		trips:      maps.Clone(s.trips),
		bookings:   maps.Clone(s.bookings),
		passengers: maps.Clone(s.passengers),
		audit:      slices.Clone(s.audit),
		timeouts:   maps.Clone(s.timeouts),
	}
}

// memStore is an in-memory repo.Store with the same conditional-write
// semantics as the Postgres repos. Transactions are serialized and roll back
// by restoring a snapshot.
type memStore struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state memState
	now   func() time.Time

	// beforeReserve runs at the start of ReserveSeats, before the version
	// check. Tests use it to simulate a concurrent writer.
	beforeReserve func(tripID uuid.UUID)
	// scheduleErr makes OfferTimeoutRepo.Schedule fail.
	scheduleErr error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now: now,
		state: memState{
			trips:      map[uuid.UUID]domain.Trip{},
			bookings:   map[uuid.UUID]domain.Booking{},
			passengers: map[uuid.UUID][]domain.Passenger{},
			timeouts:   map[uuid.UUID]domain.OfferTimeout{},
		},
	}
}

// compile-time check: memStore must satisfy repo.Store.
var _ repo.Store = (*memStore)(nil)

func (m *memStore) Repos() repo.Repos {
	return repo.Repos{
		Trips:      memTrips{m},
		Bookings:   memBookings{m},
		Passengers: memPassengers{m},
		Audit:      memAudit{m},
		Timeouts:   memTimeouts{m},
	}
}

func (m *memStore) InTx(_ context.Context, fn func(repo.Repos) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := m.state.clone()
	m.mu.Unlock()

	if err := fn(m.Repos()); err != nil {
		m.mu.Lock()
		m.state = snap
		m.mu.Unlock()
		return err
	}
	return nil
}

// putTrip stores trip as-is, bypassing the repo rules.
func (m *memStore) putTrip(trip domain.Trip) domain.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	}
	m.state.trips[trip.ID] = trip
	return trip
}

func (m *memStore) trip(id uuid.UUID) domain.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.trips[id]
}

// bumpVersion simulates a seat write committed by another process.
func (m *memStore) bumpVersion(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.state.trips[id]
	t.Version++
	m.state.trips[id] = t
}

func (m *memStore) bookingCount(tripID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.state.bookings {
		if b.TripID == tripID {
			n++
		}
	}
	return n
}

func (m *memStore) auditFor(tripID uuid.UUID) []domain.TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TransitionRecord
	for _, r := range m.state.audit {
		if r.TripID == tripID {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) timeoutsFor(tripID uuid.UUID) []domain.OfferTimeout {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OfferTimeout
	for _, t := range m.state.timeouts {
		if t.TripID == tripID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferedAt.Before(out[j].OfferedAt) })
	return out
}

// ---- trips -----------------------------------------------------------------

type memTrips struct{ m *memStore }

func (r memTrips) Create(_ context.Context, trip domain.Trip) (domain.Trip, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	trip.ID = uuid.New()
	trip.Status = domain.StatusDraft
	trip.AvailableSeats = trip.TotalSeats
	trip.Version = 0
	trip.CreatedAt = r.m.now()
	trip.UpdatedAt = trip.CreatedAt
	r.m.state.trips[trip.ID] = trip
	return trip, nil
}

func (r memTrips) GetByID(_ context.Context, id uuid.UUID) (domain.Trip, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.state.trips[id]
	if !ok {
		return domain.Trip{}, domain.ErrNotFound
	}
	return t, nil
}

func (r memTrips) ListPaged(_ context.Context, f domain.TripFilter, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []domain.Trip
	for _, t := range r.m.state.trips {
		if f.Status == nil || t.Status == *f.Status {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DepartureAt.Before(all[j].DepartureAt) })
	total := int64(len(all))
	start := min(p.Offset(), len(all))
	end := min(start+p.Limit, len(all))
	return all[start:end], total, nil
}

func (r memTrips) ReserveSeats(_ context.Context, id uuid.UUID, seats int, expectedVersion int64) (domain.Trip, error) {
	if r.m.beforeReserve != nil {
		r.m.beforeReserve(id)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.state.trips[id]
	if !ok || t.Status != domain.StatusPublished || t.Version != expectedVersion || t.AvailableSeats < seats {
		return domain.Trip{}, domain.ErrConflict
	}
	t.AvailableSeats -= seats
	t.Version++
	t.UpdatedAt = r.m.now()
	r.m.state.trips[id] = t
	return t, nil
}

func (r memTrips) ReleaseSeats(_ context.Context, id uuid.UUID, seats int) (domain.Trip, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.state.trips[id]
	if !ok || t.AvailableSeats+seats > t.TotalSeats {
		return domain.Trip{}, domain.ErrConflict
	}
	t.AvailableSeats += seats
	t.Version++
	t.UpdatedAt = r.m.now()
	r.m.state.trips[id] = t
	return t, nil
}

func (r memTrips) UpdateStatus(_ context.Context, c domain.StatusChange) (domain.Trip, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.state.trips[c.TripID]
	switch {
	case !ok, t.Status != c.From:
		return domain.Trip{}, domain.ErrConflict
	case c.ExpectDriverID != nil && (t.OfferedToDriverID == nil || *t.OfferedToDriverID != *c.ExpectDriverID):
		return domain.Trip{}, domain.ErrConflict
	case c.DeadlineAfter != nil && (t.AcceptanceDeadline == nil || !t.AcceptanceDeadline.After(*c.DeadlineAfter)):
		return domain.Trip{}, domain.ErrConflict
	}

	t.Status = c.To
	if c.AssignDriverID != nil {
		d := *c.AssignDriverID
		t.AssignedDriverID = &d
	}
	t.OfferedToDriverID, t.OfferedAt, t.AcceptanceDeadline = nil, nil, nil
	if c.To == domain.StatusOffered && c.Offer != nil {
		o := *c.Offer
		t.OfferedToDriverID, t.OfferedAt, t.AcceptanceDeadline = &o.DriverID, &o.OfferedAt, &o.Deadline
	}
	t.UpdatedAt = r.m.now()
	r.m.state.trips[t.ID] = t
	return t, nil
}

// ---- bookings --------------------------------------------------------------

type memBookings struct{ m *memStore }

func (r memBookings) Create(_ context.Context, b domain.Booking) (domain.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.state.bookings {
		if existing.TripID == b.TripID && existing.PassengerID == b.PassengerID && existing.Status.IsActive() {
			return domain.Booking{}, domain.ErrDuplicateBooking
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = r.m.now()
	b.UpdatedAt = b.CreatedAt
	b.Passengers = nil
	r.m.state.bookings[b.ID] = b
	return b, nil
}

func (r memBookings) GetByID(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.state.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (r memBookings) ListByTripID(_ context.Context, tripID uuid.UUID) ([]domain.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.m.state.bookings {
		if b.TripID == tripID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memBookings) HasActive(_ context.Context, tripID, passengerID uuid.UUID) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, b := range r.m.state.bookings {
		if b.TripID == tripID && b.PassengerID == passengerID && b.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (r memBookings) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.state.bookings[id]
	if !ok || b.Status != from {
		return domain.Booking{}, domain.ErrConflict
	}
	b.Status = to
	b.UpdatedAt = r.m.now()
	r.m.state.bookings[id] = b
	return b, nil
}

func (r memBookings) ConfirmPending(_ context.Context, tripID uuid.UUID) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, b := range r.m.state.bookings {
		if b.TripID == tripID && b.Status == domain.BookingPending {
			b.Status = domain.BookingConfirmed
			r.m.state.bookings[id] = b
			n++
		}
	}
	return n, nil
}

// ---- passengers ------------------------------------------------------------

type memPassengers struct{ m *memStore }

func (r memPassengers) CreateBatch(_ context.Context, bookingID uuid.UUID, ps []domain.Passenger) ([]domain.Passenger, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]domain.Passenger, len(ps))
	for i, p := range ps {
		p.ID = uuid.New()
		p.BookingID = bookingID
		p.SeatIndex = i + 1
		p.CreatedAt = r.m.now()
		out[i] = p
	}
	r.m.state.passengers[bookingID] = out
	return slices.Clone(out), nil
}

func (r memPassengers) ListByBookingID(_ context.Context, bookingID uuid.UUID) ([]domain.Passenger, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return slices.Clone(r.m.state.passengers[bookingID]), nil
}

func (r memPassengers) ManifestForTrip(_ context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	trip := r.m.state.trips[tripID]
	var rows []domain.ManifestRow
	for _, b := range r.m.state.bookings {
		if b.TripID != tripID || !b.Status.IsActive() {
			continue
		}
		for _, p := range r.m.state.passengers[b.ID] {
			rows = append(rows, domain.ManifestRow{
				TripID:        tripID.String(),
				Origin:        trip.Origin,
				Destination:   trip.Destination,
				DepartureAt:   trip.DepartureAt,
				BookingID:     b.ID.String(),
				BookingStatus: b.Status,
				PassengerID:   b.PassengerID.String(),
				SeatIndex:     p.SeatIndex,
				PassengerName: p.Name,
				Phone:         p.Phone,
			})
		}
	}
	return rows, nil
}

// ---- audit -----------------------------------------------------------------

type memAudit struct{ m *memStore }

func (r memAudit) Insert(_ context.Context, rec domain.TransitionRecord) (domain.TransitionRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec.ID = uuid.New()
	r.m.state.audit = append(r.m.state.audit, rec)
	return rec, nil
}

func (r memAudit) ListByTripID(_ context.Context, tripID uuid.UUID) ([]domain.TransitionRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.TransitionRecord
	for _, rec := range r.m.state.audit {
		if rec.TripID == tripID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ---- timeouts --------------------------------------------------------------

type memTimeouts struct{ m *memStore }

func (r memTimeouts) Schedule(_ context.Context, t domain.OfferTimeout) (domain.OfferTimeout, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.scheduleErr != nil {
		return domain.OfferTimeout{}, r.m.scheduleErr
	}
	t.ID = uuid.New()
	t.Status = domain.TimeoutPending
	r.m.state.timeouts[t.ID] = t
	return t, nil
}

func (r memTimeouts) CancelPending(_ context.Context, tripID, driverID uuid.UUID) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, t := range r.m.state.timeouts {
		if t.TripID == tripID && t.DriverID == driverID && t.Status == domain.TimeoutPending {
			t.Status = domain.TimeoutCancelled
			r.m.state.timeouts[id] = t
			n++
		}
	}
	return n, nil
}

func (r memTimeouts) ClaimDue(_ context.Context, now, _ time.Time, limit int) ([]domain.OfferTimeout, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.OfferTimeout
	for id, t := range r.m.state.timeouts {
		if len(out) == limit {
			break
		}
		if t.Status == domain.TimeoutPending && !t.FireAt.After(now) {
			t.Status = domain.TimeoutProcessing
			t.Attempts++
			r.m.state.timeouts[id] = t
			out = append(out, t)
		}
	}
	return out, nil
}

func (r memTimeouts) MarkDone(_ context.Context, ids []uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, id := range ids {
		t := r.m.state.timeouts[id]
		t.Status = domain.TimeoutDone
		r.m.state.timeouts[id] = t
	}
	return nil
}

func (r memTimeouts) Reschedule(_ context.Context, id uuid.UUID, fireAt time.Time, _ string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.state.timeouts[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = domain.TimeoutPending
	t.FireAt = fireAt
	r.m.state.timeouts[id] = t
	return nil
}

// ---- clock, lease and sink -------------------------------------------------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memLease struct {
	holder  uuid.UUID
	expires time.Time
}

// memLocker is an OfferLocker whose TTLs follow a fakeClock.
type memLocker struct {
	mu     sync.Mutex
	clock  *fakeClock
	leases map[uuid.UUID]memLease
}

var _ service.OfferLocker = (*memLocker)(nil)

func newMemLocker(clock *fakeClock) *memLocker {
	return &memLocker{clock: clock, leases: map[uuid.UUID]memLease{}}
}

func (l *memLocker) live(tripID uuid.UUID) (memLease, bool) {
	le, ok := l.leases[tripID]
	if !ok || !l.clock.Now().Before(le.expires) {
		return memLease{}, false
	}
	return le, true
}

func (l *memLocker) Acquire(_ context.Context, tripID, holder uuid.UUID, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.live(tripID); ok {
		return false, nil
	}
	l.leases[tripID] = memLease{holder: holder, expires: l.clock.Now().Add(ttl)}
	return true, nil
}

func (l *memLocker) Release(_ context.Context, tripID, holder uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	le, ok := l.live(tripID)
	if !ok || le.holder != holder {
		return false, nil
	}
	delete(l.leases, tripID)
	return true, nil
}

func (l *memLocker) Holder(_ context.Context, tripID uuid.UUID) (uuid.UUID, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	le, ok := l.live(tripID)
	return le.holder, ok, nil
}

// recordingSink captures published events.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.TripEvent
	err    error
}

func (s *recordingSink) Notify(_ context.Context, ev domain.TripEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func (s *recordingSink) last() domain.TripEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

// ---- harness ---------------------------------------------------------------

// harness wires every core service to the in-memory fakes.
type harness struct {
	store     *memStore
	clock     *fakeClock
	locker    *memLocker
	sink      *recordingSink
	ledger    *service.SeatLedger
	lifecycle *service.TripLifecycle
	offers    *service.OfferCoordinator
	bookings  *service.BookingService
}

func newHarness() *harness {
	clock := newFakeClock()
	store := newMemStore(clock.Now)
	locker := newMemLocker(clock)
	sink := &recordingSink{}
	opts := []service.Option{service.WithClock(clock.Now), service.WithNotifier(sink)}

	ledger := service.NewSeatLedger(store)
	lifecycle := service.NewTripLifecycle(store, opts...)
	return &harness{
		store:     store,
		clock:     clock,
		locker:    locker,
		sink:      sink,
		ledger:    ledger,
		lifecycle: lifecycle,
		offers:    service.NewOfferCoordinator(store, locker, lifecycle, opts...),
		bookings:  service.NewBookingService(store, ledger, lifecycle, 5, opts...),
	}
}

// publishedTrip stores a PUBLISHED trip departing in two days.
func (h *harness) publishedTrip(seats int) domain.Trip {
	return h.store.putTrip(domain.Trip{
		Origin:         "Lisbon",
		Destination:    "Porto",
		DepartureAt:    h.clock.Now().Add(48 * time.Hour),
		TotalSeats:     seats,
		AvailableSeats: seats,
		Status:         domain.StatusPublished,
	})
}

// manifest returns n named passengers.
func manifest(n int) []domain.Passenger {
	out := make([]domain.Passenger, n)
	for i := range out {
		out[i] = domain.Passenger{Name: "Rider " + string(rune('A'+i))}
	}
	return out
}

func bookingRequest(tripID uuid.UUID, seats int) domain.BookingRequest {
	return domain.BookingRequest{
		TripID:      tripID,
		PassengerID: uuid.New(),
		Seats:       seats,
		Passengers:  manifest(seats),
	}
}
