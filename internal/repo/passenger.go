package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/ridebook/internal/domain"
)

// PassengerRepo defines the persistence operations for booking manifests.
// Every operation is scoped by booking (or by trip for the manifest export).
type PassengerRepo interface {
	// CreateBatch inserts the manifest for a booking in one round trip.
	// Seat indexes are assigned 1..len(passengers) in the given order.
	CreateBatch(ctx context.Context, bookingID uuid.UUID, passengers []domain.Passenger) ([]domain.Passenger, error)

	// ListByBookingID returns the manifest of one booking ordered by seat index.
	ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.Passenger, error)

	// ManifestForTrip returns one flat row per passenger on every active
	// booking of the trip.
	ManifestForTrip(ctx context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error)
}

// pgPassengerRepo is the Postgres implementation of PassengerRepo.
type pgPassengerRepo struct {
	db db
}

// NewPassengerRepo constructs a PassengerRepo backed by the provided db connection.
func NewPassengerRepo(db db) PassengerRepo {
	return &pgPassengerRepo{db: db}
}

func (r *pgPassengerRepo) CreateBatch(ctx context.Context, bookingID uuid.UUID, passengers []domain.Passenger) ([]domain.Passenger, error) {
	const q = `
		INSERT INTO booking_passengers (booking_id, seat_index, name, phone)
		VALUES (@booking_id, @seat_index, @name, @phone)
		RETURNING id, booking_id, seat_index, name, phone, created_at`

	batch := &pgx.Batch{}
	for i, p := range passengers {
		batch.Queue(q, pgx.NamedArgs{
			"booking_id": bookingID,
			"seat_index": i + 1,
			"name":       p.Name,
			"phone":      p.Phone,
		})
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	out := make([]domain.Passenger, 0, len(passengers))
	for range passengers {
		p, err := scanPassenger(br.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("repo.PassengerRepo.CreateBatch: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *pgPassengerRepo) ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.Passenger, error) {
	const q = `
		SELECT id, booking_id, seat_index, name, phone, created_at
		FROM booking_passengers
		WHERE booking_id = @booking_id
		ORDER BY seat_index ASC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"booking_id": bookingID})
	if err != nil {
		return nil, fmt.Errorf("repo.PassengerRepo.ListByBookingID: %w", err)
	}
	defer rows.Close()

	passengers := []domain.Passenger{}
	for rows.Next() {
		p, err := scanPassenger(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.PassengerRepo.ListByBookingID: scan: %w", err)
		}
		passengers = append(passengers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.PassengerRepo.ListByBookingID: rows: %w", err)
	}
	return passengers, nil
}

func (r *pgPassengerRepo) ManifestForTrip(ctx context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error) {
	const q = `
		SELECT t.id::text, t.origin, t.destination, t.departure_at,
		       b.id::text, b.status, b.passenger_id::text,
		       p.seat_index, p.name, p.phone
		FROM trips t
		JOIN bookings b           ON b.trip_id = t.id
		JOIN booking_passengers p ON p.booking_id = b.id
		WHERE t.id = @trip_id
		  AND b.status IN ('PENDING', 'CONFIRMED')
		ORDER BY b.created_at ASC, b.id ASC, p.seat_index ASC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.PassengerRepo.ManifestForTrip: %w", err)
	}
	defer rows.Close()

	manifest := []domain.ManifestRow{}
	for rows.Next() {
		var (
			m      domain.ManifestRow
			status string
		)
		if err := rows.Scan(
			&m.TripID, &m.Origin, &m.Destination, &m.DepartureAt,
			&m.BookingID, &status, &m.PassengerID,
			&m.SeatIndex, &m.PassengerName, &m.Phone,
		); err != nil {
			return nil, fmt.Errorf("repo.PassengerRepo.ManifestForTrip: scan: %w", err)
		}
		m.BookingStatus = domain.BookingStatus(status)
		manifest = append(manifest, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.PassengerRepo.ManifestForTrip: rows: %w", err)
	}
	return manifest, nil
}

func scanPassenger(s scanner) (domain.Passenger, error) {
	var (
		p         domain.Passenger
		id        pgtype.UUID
		bookingID pgtype.UUID
	)
	if err := s.Scan(&id, &bookingID, &p.SeatIndex, &p.Name, &p.Phone, &p.CreatedAt); err != nil {
		return domain.Passenger{}, err
	}
	p.ID = uuid.UUID(id.Bytes)
	p.BookingID = uuid.UUID(bookingID.Bytes)
	return p, nil
}
