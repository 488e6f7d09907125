package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/ridebook/internal/domain"
)

// BookingRepo defines the persistence operations for Bookings.
type BookingRepo interface {
	// Create inserts a booking. Returns domain.ErrDuplicateBooking when the
	// passenger already holds an active booking on the same trip.
	Create(ctx context.Context, b domain.Booking) (domain.Booking, error)

	// GetByID retrieves a single booking without its passenger manifest.
	// Returns domain.ErrNotFound if no booking with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error)

	// ListByTripID returns all bookings for a trip, oldest first.
	ListByTripID(ctx context.Context, tripID uuid.UUID) ([]domain.Booking, error)

	// HasActive reports whether the passenger holds a PENDING or CONFIRMED
	// booking on the trip.
	HasActive(ctx context.Context, tripID, passengerID uuid.UUID) (bool, error)

	// UpdateStatus moves a booking from one status to another.
	// Returns domain.ErrConflict if the booking was no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error)

	// ConfirmPending confirms every PENDING booking on the trip and returns
	// how many were confirmed.
	ConfirmPending(ctx context.Context, tripID uuid.UUID) (int64, error)
}

// pgBookingRepo is the Postgres implementation of BookingRepo.
type pgBookingRepo struct {
	db db
}

// NewBookingRepo constructs a BookingRepo backed by the provided db connection.
func NewBookingRepo(db db) BookingRepo {
	return &pgBookingRepo{db: db}
}

const bookingColumns = `id, trip_id, passenger_id, seats_booked, status, created_at, updated_at`

// activeBookingIndex is the partial unique index enforcing one active booking
// per passenger per trip.
const activeBookingIndex = "bookings_one_active_per_passenger"

func (r *pgBookingRepo) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	const q = `
		INSERT INTO bookings (trip_id, passenger_id, seats_booked, status)
		VALUES (@trip_id, @passenger_id, @seats_booked, @status)
		RETURNING ` + bookingColumns

	status := b.Status
	if status == "" {
		status = domain.BookingPending
	}
	args := pgx.NamedArgs{
		"trip_id":      b.TripID,
		"passenger_id": b.PassengerID,
		"seats_booked": b.SeatsBooked,
		"status":       string(status),
	}

	result, err := scanBooking(r.db.QueryRow(ctx, q, args))
	if err != nil {
		if isUniqueViolation(err, activeBookingIndex) {
			return domain.Booking{}, fmt.Errorf("repo.BookingRepo.Create: %w", domain.ErrDuplicateBooking)
		}
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.Create: %w", err)
	}
	return result, nil
}

func (r *pgBookingRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = @id`

	result, err := scanBooking(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.GetByID: %w", err)
	}
	return result, nil
}

func (r *pgBookingRepo) ListByTripID(ctx context.Context, tripID uuid.UUID) ([]domain.Booking, error) {
	const q = `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE trip_id = @trip_id
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ListByTripID: %w", err)
	}
	defer rows.Close()

	bookings := []domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.BookingRepo.ListByTripID: scan: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ListByTripID: rows: %w", err)
	}
	return bookings, nil
}

func (r *pgBookingRepo) HasActive(ctx context.Context, tripID, passengerID uuid.UUID) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE trip_id = @trip_id
			  AND passenger_id = @passenger_id
			  AND status IN ('PENDING', 'CONFIRMED')
		)`

	var exists bool
	err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID, "passenger_id": passengerID}).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repo.BookingRepo.HasActive: %w", err)
	}
	return exists, nil
}

func (r *pgBookingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
	const q = `
		UPDATE bookings
		SET status = @to, updated_at = now()
		WHERE id = @id AND status = @from
		RETURNING ` + bookingColumns

	result, err := scanBooking(r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"id":   id,
		"from": string(from),
		"to":   string(to),
	}))
	if err != nil {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.UpdateStatus: %w", notFoundAsConflict(err))
	}
	return result, nil
}

func (r *pgBookingRepo) ConfirmPending(ctx context.Context, tripID uuid.UUID) (int64, error) {
	const q = `
		UPDATE bookings
		SET status = 'CONFIRMED', updated_at = now()
		WHERE trip_id = @trip_id AND status = 'PENDING'`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return 0, fmt.Errorf("repo.BookingRepo.ConfirmPending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanBooking maps a single database row into a domain.Booking.
func scanBooking(s scanner) (domain.Booking, error) {
	var (
		b           domain.Booking
		id          pgtype.UUID
		tripID      pgtype.UUID
		passengerID pgtype.UUID
		status      string
	)

	err := s.Scan(&id, &tripID, &passengerID, &b.SeatsBooked, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Booking{}, domain.ErrNotFound
		}
		return domain.Booking{}, err
	}

	b.ID = uuid.UUID(id.Bytes)
	b.TripID = uuid.UUID(tripID.Bytes)
	b.PassengerID = uuid.UUID(passengerID.Bytes)
	b.Status = domain.BookingStatus(status)
	return b, nil
}
