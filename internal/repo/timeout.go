package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/ridebook/internal/domain"
)

// OfferTimeoutRepo is the durable deferred-task queue behind offer timeouts.
// Rows become visible to ClaimDue once fire_at has passed, and claiming uses
// SKIP LOCKED so any number of service instances can poll the same table.
type OfferTimeoutRepo interface {
	// Schedule enqueues a pending timeout.
	Schedule(ctx context.Context, t domain.OfferTimeout) (domain.OfferTimeout, error)

	// CancelPending cancels the pending timeouts of one trip/driver pair and
	// returns how many rows were cancelled.
	CancelPending(ctx context.Context, tripID, driverID uuid.UUID) (int64, error)

	// ClaimDue marks up to limit due rows as processing and returns them.
	// Rows stuck in processing since before staleBefore are reclaimed.
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.OfferTimeout, error)

	// MarkDone marks claimed rows as finished.
	MarkDone(ctx context.Context, ids []uuid.UUID) error

	// Reschedule puts a claimed row back to pending with a new fire time.
	Reschedule(ctx context.Context, id uuid.UUID, fireAt time.Time, cause string) error
}

type pgOfferTimeoutRepo struct {
	db db
}

// NewOfferTimeoutRepo constructs an OfferTimeoutRepo backed by the provided db connection.
func NewOfferTimeoutRepo(db db) OfferTimeoutRepo {
	return &pgOfferTimeoutRepo{db: db}
}

const timeoutColumns = `id, trip_id, driver_id, offered_at, fire_at, status, attempts`

func (r *pgOfferTimeoutRepo) Schedule(ctx context.Context, t domain.OfferTimeout) (domain.OfferTimeout, error) {
	const q = `
		INSERT INTO offer_timeouts (trip_id, driver_id, offered_at, fire_at, status)
		VALUES (@trip_id, @driver_id, @offered_at, @fire_at, 'pending')
		RETURNING ` + timeoutColumns

	result, err := scanTimeout(r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"trip_id":    t.TripID,
		"driver_id":  t.DriverID,
		"offered_at": t.OfferedAt,
		"fire_at":    t.FireAt,
	}))
	if err != nil {
		return domain.OfferTimeout{}, fmt.Errorf("repo.OfferTimeoutRepo.Schedule: %w", err)
	}
	return result, nil
}

func (r *pgOfferTimeoutRepo) CancelPending(ctx context.Context, tripID, driverID uuid.UUID) (int64, error) {
	const q = `
		UPDATE offer_timeouts
		SET status = 'cancelled', updated_at = now()
		WHERE trip_id = @trip_id AND driver_id = @driver_id AND status = 'pending'`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"trip_id": tripID, "driver_id": driverID})
	if err != nil {
		return 0, fmt.Errorf("repo.OfferTimeoutRepo.CancelPending: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgOfferTimeoutRepo) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.OfferTimeout, error) {
	const q = `
		WITH due AS (
			SELECT id
			FROM offer_timeouts
			WHERE (status = 'pending' AND fire_at <= @now)
			   OR (status = 'processing' AND claimed_at < @stale_before)
			ORDER BY fire_at ASC
			LIMIT @limit
			FOR UPDATE SKIP LOCKED
		)
		UPDATE offer_timeouts o
		SET status     = 'processing',
		    claimed_at = @now,
		    attempts   = o.attempts + 1,
		    updated_at = now()
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.trip_id, o.driver_id, o.offered_at, o.fire_at, o.status, o.attempts`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{
		"now":          now,
		"stale_before": staleBefore,
		"limit":        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("repo.OfferTimeoutRepo.ClaimDue: %w", err)
	}
	defer rows.Close()

	claimed := []domain.OfferTimeout{}
	for rows.Next() {
		t, err := scanTimeout(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.OfferTimeoutRepo.ClaimDue: scan: %w", err)
		}
		claimed = append(claimed, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.OfferTimeoutRepo.ClaimDue: rows: %w", err)
	}
	return claimed, nil
}

func (r *pgOfferTimeoutRepo) MarkDone(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
		UPDATE offer_timeouts
		SET status = 'done', updated_at = now()
		WHERE id = ANY(@ids::uuid[])`

	if _, err := r.db.Exec(ctx, q, pgx.NamedArgs{"ids": ids}); err != nil {
		return fmt.Errorf("repo.OfferTimeoutRepo.MarkDone: %w", err)
	}
	return nil
}

func (r *pgOfferTimeoutRepo) Reschedule(ctx context.Context, id uuid.UUID, fireAt time.Time, cause string) error {
	const q = `
		UPDATE offer_timeouts
		SET status     = 'pending',
		    fire_at    = @fire_at,
		    last_error = @cause,
		    claimed_at = NULL,
		    updated_at = now()
		WHERE id = @id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id, "fire_at": fireAt, "cause": cause})
	if err != nil {
		return fmt.Errorf("repo.OfferTimeoutRepo.Reschedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.OfferTimeoutRepo.Reschedule: %w", domain.ErrNotFound)
	}
	return nil
}

func scanTimeout(s scanner) (domain.OfferTimeout, error) {
	var (
		t        domain.OfferTimeout
		id       pgtype.UUID
		tripID   pgtype.UUID
		driverID pgtype.UUID
		status   string
	)
	if err := s.Scan(&id, &tripID, &driverID, &t.OfferedAt, &t.FireAt, &status, &t.Attempts); err != nil {
		return domain.OfferTimeout{}, err
	}
	t.ID = uuid.UUID(id.Bytes)
	t.TripID = uuid.UUID(tripID.Bytes)
	t.DriverID = uuid.UUID(driverID.Bytes)
	t.Status = domain.TimeoutStatus(status)
	return t, nil
}
