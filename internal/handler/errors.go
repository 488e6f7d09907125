package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/ridebook/internal/domain"
)

// ErrorResponse is the envelope of every non-2xx JSON response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable machine-readable code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorMapping ties a domain sentinel to its HTTP status and error code.
// Order matters: the specific conflict sentinels wrap ErrConflict and must
// be matched before it.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{domain.ErrInsufficientSeats, http.StatusConflict, "insufficient_seats"},
	{domain.ErrStaleVersion, http.StatusConflict, "stale_version"},
	{domain.ErrDuplicateBooking, http.StatusConflict, "duplicate_booking"},
	{domain.ErrTripUnavailable, http.StatusConflict, "trip_unavailable"},
	{domain.ErrAlreadyOffered, http.StatusConflict, "already_offered"},
	{domain.ErrNotHolder, http.StatusConflict, "not_offer_holder"},
	{domain.ErrOfferExpired, http.StatusGone, "offer_expired"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
}

// writeServiceError translates a service error into a JSON error response.
// Unrecognised errors are logged and surface as an opaque 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, publicMessage(err, m.target))
			return
		}
	}
	s.log.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// publicMessage trims the call-site prefixes off a wrapped sentinel error.
// e.g. "service.TripService.Create: validation error: origin and destination
// are required" -> "origin and destination are required".
func publicMessage(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()); i >= 0 {
		msg = msg[i:]
	}
	if rest, ok := strings.CutPrefix(msg, domain.ErrValidation.Error()+": "); ok {
		return rest
	}
	return msg
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into dst. Unknown fields are
// rejected so typos in a client payload fail loudly.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// pathUUID binds the {name} path parameter as a UUID.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid %s: must be a UUID", name))
		return uuid.Nil, false
	}
	return id, true
}
