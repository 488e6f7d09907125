package handler

import (
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/middleware"
)

// CreateTripRequest is the body of POST /trips.
type CreateTripRequest struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartureAt time.Time `json:"departure_at"`
	TotalSeats  int       `json:"total_seats"`
}

// TransitionRequest is the body of POST /trips/{id}/transitions.
type TransitionRequest struct {
	To domain.TripStatus `json:"to"`
}

// Pagination describes the page a listing response holds.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// TripList is the response of GET /trips.
type TripList struct {
	Data       []domain.Trip `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// CreateTrip handles POST /trips. New trips start in DRAFT.
func (s *Server) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var body CreateTripRequest
	if !decodeBody(w, r, &body) {
		return
	}
	created, err := s.Trips.Create(r.Context(), domain.Trip{
		Origin:      body.Origin,
		Destination: body.Destination,
		DepartureAt: body.DepartureAt,
		TotalSeats:  body.TotalSeats,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListTrips handles GET /trips.
// Supports ?page=, ?limit= (defaults: page=1, limit=20, max=100) and ?status=.
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	var (
		page, limit *int
		status      *string
	)
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  any
	}{{"page", &page}, {"limit", &limit}, {"status", &status}} {
		if err := runtime.BindQueryParameter("form", true, false, p.name, q, p.dst); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid "+p.name+" parameter")
			return
		}
	}

	var filter domain.TripFilter
	if status != nil {
		st, err := domain.ParseTripStatus(*status)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		filter.Status = &st
	}

	params := domain.NewPaginationParams(page, limit)
	result, err := s.Trips.ListPaged(r.Context(), filter, params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TripList{
		Data:       result.Items,
		Pagination: Pagination{Page: params.Page, Limit: params.Limit, Total: result.Total},
	})
}

// GetTrip handles GET /trips/{id}.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	trip, err := s.Trips.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// GetTripHistory handles GET /trips/{id}/history, the status audit trail in
// the order the transitions happened.
func (s *Server) GetTripHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	records, err := s.Lifecycle.History(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// TransitionTrip handles POST /trips/{id}/transitions.
// Offers are refused here; they go through the offer endpoints.
func (s *Server) TransitionTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body TransitionRequest
	if !decodeBody(w, r, &body) {
		return
	}
	to, err := domain.ParseTripStatus(string(body.To))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	actor, _ := middleware.ActorFrom(r.Context())
	trip, err := s.Lifecycle.Transition(r.Context(), id, to, actor.String())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
