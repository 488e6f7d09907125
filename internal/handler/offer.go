package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/middleware"
	"github.com/pkordes/ridebook/internal/service"
)

// OfferRequest is the body of POST /trips/{id}/offer. A zero
// TimeoutSeconds uses the server default.
type OfferRequest struct {
	DriverID       uuid.UUID `json:"driver_id"`
	TimeoutSeconds int       `json:"timeout_seconds,omitempty"`
}

// OfferTrip handles POST /trips/{id}/offer.
func (s *Server) OfferTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body OfferRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.DriverID == uuid.Nil {
		s.writeServiceError(w, r, fmt.Errorf("%w: driver_id is required", domain.ErrValidation))
		return
	}
	if body.TimeoutSeconds < 0 {
		s.writeServiceError(w, r, fmt.Errorf("%w: timeout_seconds must be positive", domain.ErrValidation))
		return
	}
	if body.TimeoutSeconds > int(service.MaxOfferTimeout/time.Second) {
		s.writeServiceError(w, r, fmt.Errorf("%w: timeout_seconds must not exceed %d", domain.ErrValidation, int(service.MaxOfferTimeout/time.Second)))
		return
	}
	timeout := s.offerTimeout
	if body.TimeoutSeconds > 0 {
		timeout = time.Duration(body.TimeoutSeconds) * time.Second
	}

	actor, _ := middleware.ActorFrom(r.Context())
	offer, err := s.Offers.Offer(r.Context(), id, body.DriverID, timeout, actor.String())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// AcceptOffer handles POST /trips/{id}/offer/accept for the driver named in
// the bearer token.
func (s *Server) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	s.respondToOffer(w, r, s.Offers.Accept)
}

// DeclineOffer handles POST /trips/{id}/offer/decline.
func (s *Server) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	s.respondToOffer(w, r, s.Offers.Decline)
}

type offerResponse func(ctx context.Context, tripID, driverID uuid.UUID, actor string) (domain.Trip, error)

func (s *Server) respondToOffer(w http.ResponseWriter, r *http.Request, respond offerResponse) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := middleware.ActorFrom(r.Context())
	trip, err := respond(r.Context(), id, actor.ID, actor.String())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
