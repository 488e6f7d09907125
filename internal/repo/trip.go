package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/ridebook/internal/domain"
)

// TripRepo defines the persistence operations for Trips.
// The service layer depends on this interface, not the concrete Postgres
// implementation, which allows the services to be unit-tested with fakes.
type TripRepo interface {
	// Create inserts a new trip in DRAFT with all seats available and version 0.
	Create(ctx context.Context, trip domain.Trip) (domain.Trip, error)

	// GetByID retrieves a single trip by its UUID primary key.
	// Returns domain.ErrNotFound if no trip with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error)

	// ListPaged returns one page of trips ordered by departure time together
	// with the total number of trips matching the filter.
	ListPaged(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) ([]domain.Trip, int64, error)

	// ReserveSeats atomically takes seats from a PUBLISHED trip if and only if
	// the stored version equals expectedVersion and enough seats remain.
	// Returns domain.ErrConflict when the conditional update matched no row.
	ReserveSeats(ctx context.Context, id uuid.UUID, seats int, expectedVersion int64) (domain.Trip, error)

	// ReleaseSeats atomically hands seats back and bumps the version. It is
	// not version-checked. Returns domain.ErrConflict if the release would
	// exceed total seats or the trip does not exist.
	ReleaseSeats(ctx context.Context, id uuid.UUID, seats int) (domain.Trip, error)

	// UpdateStatus applies a conditional status write described by change.
	// Returns domain.ErrConflict when the row was no longer in change.From
	// (or failed the driver/deadline guards).
	UpdateStatus(ctx context.Context, change domain.StatusChange) (domain.Trip, error)
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

const tripColumns = `id, origin, destination, departure_at, total_seats, available_seats, version,
		status, assigned_driver_id, offered_to_driver_id, offered_at, acceptance_deadline,
		created_at, updated_at`

// Create inserts a new trip row and returns the full persisted record.
func (r *pgTripRepo) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	const q = `
		INSERT INTO trips (origin, destination, departure_at, total_seats, available_seats, status)
		VALUES (@origin, @destination, @departure_at, @total_seats, @total_seats, @status)
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"origin":       trip.Origin,
		"destination":  trip.Destination,
		"departure_at": trip.DepartureAt,
		"total_seats":  trip.TotalSeats,
		"status":       string(domain.StatusDraft),
	}

	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a trip by primary key.
func (r *pgTripRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	const q = `SELECT ` + tripColumns + ` FROM trips WHERE id = @id`

	result, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}
	return result, nil
}

// ListPaged returns a page of trips, soonest departure first.
func (r *pgTripRepo) ListPaged(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	const countQ = `SELECT count(*) FROM trips WHERE (@status::text IS NULL OR status = @status::text)`
	const listQ = `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE (@status::text IS NULL OR status = @status::text)
		ORDER BY departure_at ASC, id ASC
		LIMIT @limit OFFSET @offset`

	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	var total int64
	if err := r.db.QueryRow(ctx, countQ, pgx.NamedArgs{"status": status}).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.ListPaged: count: %w", err)
	}

	rows, err := r.db.Query(ctx, listQ, pgx.NamedArgs{
		"status": status,
		"limit":  p.Limit,
		"offset": p.Offset(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.ListPaged: %w", err)
	}
	defer rows.Close()

	trips := []domain.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repo.TripRepo.ListPaged: scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.ListPaged: rows: %w", err)
	}
	return trips, total, nil
}

// ReserveSeats is the seat ledger's compare-and-swap. The availability check,
// the version check and the decrement are one statement; nothing is locked
// across application code.
func (r *pgTripRepo) ReserveSeats(ctx context.Context, id uuid.UUID, seats int, expectedVersion int64) (domain.Trip, error) {
	const q = `
		UPDATE trips
		SET available_seats = available_seats - @seats,
		    version         = version + 1,
		    updated_at      = now()
		WHERE id = @id
		  AND version = @expected_version
		  AND available_seats >= @seats
		  AND status = @bookable
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"id":               id,
		"seats":            seats,
		"expected_version": expectedVersion,
		"bookable":         string(domain.StatusPublished),
	}

	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.ReserveSeats: %w", notFoundAsConflict(err))
	}
	return result, nil
}

// ReleaseSeats is commutative, so it only guards the upper bound.
func (r *pgTripRepo) ReleaseSeats(ctx context.Context, id uuid.UUID, seats int) (domain.Trip, error) {
	const q = `
		UPDATE trips
		SET available_seats = available_seats + @seats,
		    version         = version + 1,
		    updated_at      = now()
		WHERE id = @id
		  AND available_seats + @seats <= total_seats
		RETURNING ` + tripColumns

	result, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "seats": seats}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.ReleaseSeats: %w", notFoundAsConflict(err))
	}
	return result, nil
}

// UpdateStatus writes the new status and the offer/driver columns in one
// conditional statement. Offer columns are cleared for every target except
// OFFERED, which keeps the "offer fields set iff OFFERED" invariant in SQL.
func (r *pgTripRepo) UpdateStatus(ctx context.Context, change domain.StatusChange) (domain.Trip, error) {
	const q = `
		UPDATE trips
		SET status               = @to,
		    assigned_driver_id   = COALESCE(@assign_driver_id::uuid, assigned_driver_id),
		    offered_to_driver_id = @offered_to::uuid,
		    offered_at           = @offered_at::timestamptz,
		    acceptance_deadline  = @deadline::timestamptz,
		    updated_at           = now()
		WHERE id = @id
		  AND status = @from
		  AND (@expect_driver_id::uuid IS NULL OR offered_to_driver_id = @expect_driver_id::uuid)
		  AND (@deadline_after::timestamptz IS NULL OR acceptance_deadline > @deadline_after::timestamptz)
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"id":               change.TripID,
		"from":             string(change.From),
		"to":               string(change.To),
		"assign_driver_id": change.AssignDriverID,
		"expect_driver_id": change.ExpectDriverID,
		"deadline_after":   change.DeadlineAfter,
		"offered_to":       (*uuid.UUID)(nil),
		"offered_at":       (*time.Time)(nil),
		"deadline":         (*time.Time)(nil),
	}
	if change.To == domain.StatusOffered && change.Offer != nil {
		args["offered_to"] = &change.Offer.DriverID
		args["offered_at"] = &change.Offer.OfferedAt
		args["deadline"] = &change.Offer.Deadline
	}

	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.UpdateStatus: %w", notFoundAsConflict(err))
	}
	return result, nil
}

// notFoundAsConflict maps "no row matched" on a conditional write to
// domain.ErrConflict: the row exists as far as the caller knows, it just no
// longer satisfies the guard.
func notFoundAsConflict(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrConflict
	}
	return err
}

// scanTrip maps a single database row into a domain.Trip.
// It handles the nullable driver and offer columns.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		t         domain.Trip
		id        pgtype.UUID
		status    string
		assigned  pgtype.UUID
		offeredTo pgtype.UUID
		offeredAt pgtype.Timestamptz
		deadline  pgtype.Timestamptz
	)

	err := s.Scan(
		&id, &t.Origin, &t.Destination, &t.DepartureAt, &t.TotalSeats, &t.AvailableSeats, &t.Version,
		&status, &assigned, &offeredTo, &offeredAt, &deadline,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	t.ID = uuid.UUID(id.Bytes)
	t.Status = domain.TripStatus(status)
	t.AssignedDriverID = uuidPtr(assigned)
	t.OfferedToDriverID = uuidPtr(offeredTo)
	t.OfferedAt = timePtr(offeredAt)
	t.AcceptanceDeadline = timePtr(deadline)
	return t, nil
}

func uuidPtr(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
