package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/handler"
	"github.com/pkordes/ridebook/internal/middleware"
)

// ---- mocks -----------------------------------------------------------------
// Set only the method fields your test needs.

type mockTripServicer struct {
	create    func(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	getByID   func(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	listPaged func(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error)
}

func (m *mockTripServicer) Create(ctx context.Context, t domain.Trip) (domain.Trip, error) {
	return m.create(ctx, t)
}
func (m *mockTripServicer) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return m.getByID(ctx, id)
}
func (m *mockTripServicer) ListPaged(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error) {
	return m.listPaged(ctx, f, p)
}

type mockLifecycleServicer struct {
	transition func(ctx context.Context, tripID uuid.UUID, to domain.TripStatus, actor string) (domain.Trip, error)
	history    func(ctx context.Context, tripID uuid.UUID) ([]domain.TransitionRecord, error)
}

func (m *mockLifecycleServicer) Transition(ctx context.Context, tripID uuid.UUID, to domain.TripStatus, actor string) (domain.Trip, error) {
	return m.transition(ctx, tripID, to, actor)
}
func (m *mockLifecycleServicer) History(ctx context.Context, tripID uuid.UUID) ([]domain.TransitionRecord, error) {
	return m.history(ctx, tripID)
}

type mockOfferServicer struct {
	offer   func(ctx context.Context, tripID, driverID uuid.UUID, timeout time.Duration, actor string) (domain.Offer, error)
	accept  func(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error)
	decline func(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error)
}

func (m *mockOfferServicer) Offer(ctx context.Context, tripID, driverID uuid.UUID, timeout time.Duration, actor string) (domain.Offer, error) {
	return m.offer(ctx, tripID, driverID, timeout, actor)
}
func (m *mockOfferServicer) Accept(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error) {
	return m.accept(ctx, tripID, driverID, actor)
}
func (m *mockOfferServicer) Decline(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error) {
	return m.decline(ctx, tripID, driverID, actor)
}

type mockBookingServicer struct {
	create     func(ctx context.Context, req domain.BookingRequest) (domain.Booking, error)
	cancel     func(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error)
	getByID    func(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error)
	listByTrip func(ctx context.Context, tripID uuid.UUID) ([]domain.Booking, error)
}

func (m *mockBookingServicer) Create(ctx context.Context, req domain.BookingRequest) (domain.Booking, error) {
	return m.create(ctx, req)
}
func (m *mockBookingServicer) Cancel(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	return m.cancel(ctx, id, actor)
}
func (m *mockBookingServicer) GetByID(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	return m.getByID(ctx, id, actor)
}
func (m *mockBookingServicer) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Booking, error) {
	return m.listByTrip(ctx, tripID)
}

type mockManifestServicer struct {
	manifest func(ctx context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error)
}

func (m *mockManifestServicer) Manifest(ctx context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error) {
	return m.manifest(ctx, tripID)
}

// compile-time checks: the mocks must satisfy the handler interfaces.
var (
	_ handler.TripServicer      = (*mockTripServicer)(nil)
	_ handler.LifecycleServicer = (*mockLifecycleServicer)(nil)
	_ handler.OfferServicer     = (*mockOfferServicer)(nil)
	_ handler.BookingServicer   = (*mockBookingServicer)(nil)
	_ handler.ManifestServicer  = (*mockManifestServicer)(nil)
)

// ---- helpers ---------------------------------------------------------------

var (
	testSecret   = []byte("handler-test-secret-32-bytes-long")
	testAuth     = middleware.NewAuthenticator(testSecret)
	adminActor   = domain.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Role: domain.RoleAdmin}
	driverActor  = domain.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000d"), Role: domain.RoleDriver}
	riderActor   = domain.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Role: domain.RolePassenger}
	defaultOffer = 45 * time.Second
)

func passThrough(next http.Handler) http.Handler { return next }

// newHTTPHandler wires a Server with the given mocks into the router exactly
// the way main.go does, minus the Redis-backed idempotency layer.
func newHTTPHandler(svcs handler.Services) http.Handler {
	srv := handler.NewServer(svcs, slog.New(slog.NewTextHandler(io.Discard, nil)), defaultOffer)
	return srv.Routes(testAuth.Middleware, passThrough)
}

// do sends a request as actor (or anonymously when actor is nil) and returns
// the recorded response.
func do(t *testing.T, h http.Handler, actor *domain.Actor, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		token, err := testAuth.Issue(*actor, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func tripFixture() domain.Trip {
	now := time.Now().UTC()
	return domain.Trip{
		ID:             uuid.New(),
		Origin:         "Lagos",
		Destination:    "Ibadan",
		DepartureAt:    now.Add(48 * time.Hour),
		TotalSeats:     14,
		AvailableSeats: 14,
		Status:         domain.StatusPublished,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
