package handler

import (
	"net/http"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/middleware"
)

// ManifestEntry is one travelling passenger in a booking request.
type ManifestEntry struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// CreateBookingRequest is the body of POST /trips/{id}/bookings.
// Passengers must list exactly Seats travellers.
type CreateBookingRequest struct {
	Seats      int             `json:"seats"`
	Passengers []ManifestEntry `json:"passengers"`
}

// CreateBooking handles POST /trips/{id}/bookings for the passenger named in
// the bearer token. Clients should send an Idempotency-Key so a retried
// request cannot book twice.
func (s *Server) CreateBooking(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body CreateBookingRequest
	if !decodeBody(w, r, &body) {
		return
	}

	actor, _ := middleware.ActorFrom(r.Context())
	req := domain.BookingRequest{
		TripID:      tripID,
		PassengerID: actor.ID,
		Seats:       body.Seats,
		Passengers:  make([]domain.Passenger, len(body.Passengers)),
	}
	for i, p := range body.Passengers {
		req.Passengers[i] = domain.Passenger{Name: p.Name, Phone: p.Phone}
	}

	booking, err := s.Bookings.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// ListTripBookings handles GET /trips/{id}/bookings.
func (s *Server) ListTripBookings(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	bookings, err := s.Bookings.ListByTrip(r.Context(), tripID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// GetBooking handles GET /bookings/{id}. Passengers only see their own
// bookings.
func (s *Server) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := middleware.ActorFrom(r.Context())
	booking, err := s.Bookings.GetByID(r.Context(), id, actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// CancelBooking handles POST /bookings/{id}/cancel and returns the seats to
// the trip.
func (s *Server) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := middleware.ActorFrom(r.Context())
	booking, err := s.Bookings.Cancel(r.Context(), id, actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}
