// Package handler implements the HTTP handlers for the ridebook API.
// All handlers are methods on Server. They are split into domain-specific
// files (trip.go, offer.go, booking.go, ...) but share the same Server struct
// so they can reach its dependencies.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/middleware"
)

// TripServicer is the trip listing surface the handlers depend on.
// Defining the interface here, in the consumer, lets handler tests inject a
// mock without touching the database or service layer.
type TripServicer interface {
	Create(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	ListPaged(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error)
}

// LifecycleServicer moves trips between statuses and reads their audit trail.
type LifecycleServicer interface {
	Transition(ctx context.Context, tripID uuid.UUID, to domain.TripStatus, actor string) (domain.Trip, error)
	History(ctx context.Context, tripID uuid.UUID) ([]domain.TransitionRecord, error)
}

// OfferServicer runs the exclusive driver offer protocol.
type OfferServicer interface {
	Offer(ctx context.Context, tripID, driverID uuid.UUID, timeout time.Duration, actor string) (domain.Offer, error)
	Accept(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error)
	Decline(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error)
}

// BookingServicer creates, reads and cancels passenger bookings.
type BookingServicer interface {
	Create(ctx context.Context, req domain.BookingRequest) (domain.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, actor domain.Actor) (domain.Booking, error)
	GetByID(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error)
	ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Booking, error)
}

// ManifestServicer produces the flat passenger manifest of a trip.
type ManifestServicer interface {
	Manifest(ctx context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error)
}

// Services bundles the dependencies of Server. Nil members are allowed in
// tests that never reach the corresponding routes.
type Services struct {
	Trips     TripServicer
	Lifecycle LifecycleServicer
	Offers    OfferServicer
	Bookings  BookingServicer
	Manifests ManifestServicer
}

// Server serves every API endpoint.
type Server struct {
	Services
	log          *slog.Logger
	offerTimeout time.Duration
}

// NewServer constructs the Server. offerTimeout is used when an offer
// request does not name its own timeout.
func NewServer(svcs Services, log *slog.Logger, offerTimeout time.Duration) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{Services: svcs, log: log, offerTimeout: offerTimeout}
}

// Routes builds the API router. authn must authenticate the request and put
// the actor in the context (middleware.Authenticator.Middleware in
// production). idempotency wraps the authenticated routes so keys are scoped
// per actor.
func (s *Server) Routes(authn, idempotency func(http.Handler) http.Handler) chi.Router {
	admin := middleware.RequireRole(domain.RoleAdmin)
	driver := middleware.RequireRole(domain.RoleDriver)
	passenger := middleware.RequireRole(domain.RolePassenger)

	r := chi.NewRouter()
	r.Get("/healthz", s.GetHealth)
	r.Get("/openapi.yaml", s.GetOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(authn, idempotency)

		r.Route("/trips", func(r chi.Router) {
			r.With(admin).Post("/", s.CreateTrip)
			r.Get("/", s.ListTrips)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetTrip)
				r.Get("/history", s.GetTripHistory)
				r.With(admin).Post("/transitions", s.TransitionTrip)
				r.With(admin).Post("/offer", s.OfferTrip)
				r.With(driver).Post("/offer/accept", s.AcceptOffer)
				r.With(driver).Post("/offer/decline", s.DeclineOffer)
				r.With(passenger).Post("/bookings", s.CreateBooking)
				r.With(admin).Get("/bookings", s.ListTripBookings)
				r.With(admin).Get("/manifest", s.GetManifest)
			})
		})

		r.Route("/bookings/{id}", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin, domain.RolePassenger))
			r.Get("/", s.GetBooking)
			r.Post("/cancel", s.CancelBooking)
		})
	})
	return r
}
