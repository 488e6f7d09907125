package handler

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/pkordes/ridebook/internal/domain"
)

// csvHeaders defines the column names written as the first row of any CSV export.
var csvHeaders = []string{
	"trip_id", "origin", "destination", "departure_at",
	"booking_id", "booking_status", "passenger_id",
	"seat_index", "passenger_name", "phone",
}

// ManifestRow is the JSON form of one manifest line.
type ManifestRow struct {
	TripID        string               `json:"trip_id"`
	Origin        string               `json:"origin"`
	Destination   string               `json:"destination"`
	DepartureAt   time.Time            `json:"departure_at"`
	BookingID     string               `json:"booking_id"`
	BookingStatus domain.BookingStatus `json:"booking_status"`
	PassengerID   string               `json:"passenger_id"`
	SeatIndex     int                  `json:"seat_index"`
	PassengerName string               `json:"passenger_name"`
	Phone         string               `json:"phone,omitempty"`
}

// GetManifest handles GET /trips/{id}/manifest.
// It returns one row per travelling passenger of every active booking.
// Use ?format=csv to receive CSV; default is JSON.
func (s *Server) GetManifest(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "csv" && format != "json" {
		writeError(w, http.StatusBadRequest, "bad_request", "format must be csv or json")
		return
	}

	rows, err := s.Manifests.Manifest(r.Context(), tripID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if format == "csv" {
		writeCSV(w, rows)
		return
	}
	out := make([]ManifestRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, ManifestRow(row))
	}
	writeJSON(w, http.StatusOK, out)
}

// writeCSV encodes rows as CSV with a header line.
func writeCSV(w http.ResponseWriter, rows []domain.ManifestRow) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	_ = cw.Write(csvHeaders) // bytes.Buffer writes never fail
	for _, row := range rows {
		_ = cw.Write(manifestRecord(row))
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// manifestRecord encodes a domain.ManifestRow as a flat string slice.
func manifestRecord(r domain.ManifestRow) []string {
	return []string{
		r.TripID,
		r.Origin,
		r.Destination,
		r.DepartureAt.UTC().Format(time.RFC3339),
		r.BookingID,
		string(r.BookingStatus),
		r.PassengerID,
		strconv.Itoa(r.SeatIndex),
		r.PassengerName,
		r.Phone,
	}
}
