package domain

import "time"

// ManifestRow is a single row in a trip's passenger manifest export.
// It is a flat, denormalized view: one row per passenger, with booking fields
// repeated for every passenger on that booking. Only active bookings appear.
type ManifestRow struct {
	// Trip fields, repeated on every row.
	TripID      string
	Origin      string
	Destination string
	DepartureAt time.Time

	// Booking fields, repeated for every passenger on the booking.
	BookingID     string
	BookingStatus BookingStatus
	PassengerID   string

	// Passenger fields.
	SeatIndex     int
	PassengerName string
	Phone         string
}
