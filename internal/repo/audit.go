package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/ridebook/internal/domain"
)

// AuditRepo persists the trip status audit trail. Records are append-only.
type AuditRepo interface {
	Insert(ctx context.Context, rec domain.TransitionRecord) (domain.TransitionRecord, error)
	ListByTripID(ctx context.Context, tripID uuid.UUID) ([]domain.TransitionRecord, error)
}

type pgAuditRepo struct {
	db db
}

// NewAuditRepo constructs an AuditRepo backed by the provided db connection.
func NewAuditRepo(db db) AuditRepo {
	return &pgAuditRepo{db: db}
}

func (r *pgAuditRepo) Insert(ctx context.Context, rec domain.TransitionRecord) (domain.TransitionRecord, error) {
	const q = `
		INSERT INTO trip_status_audit (trip_id, from_status, to_status, actor, occurred_at)
		VALUES (@trip_id, @from_status, @to_status, @actor, @occurred_at)
		RETURNING id, trip_id, from_status, to_status, actor, occurred_at`

	result, err := scanTransition(r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"trip_id":     rec.TripID,
		"from_status": string(rec.From),
		"to_status":   string(rec.To),
		"actor":       rec.Actor,
		"occurred_at": rec.OccurredAt,
	}))
	if err != nil {
		return domain.TransitionRecord{}, fmt.Errorf("repo.AuditRepo.Insert: %w", err)
	}
	return result, nil
}

func (r *pgAuditRepo) ListByTripID(ctx context.Context, tripID uuid.UUID) ([]domain.TransitionRecord, error) {
	const q = `
		SELECT id, trip_id, from_status, to_status, actor, occurred_at
		FROM trip_status_audit
		WHERE trip_id = @trip_id
		ORDER BY occurred_at ASC, id ASC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.AuditRepo.ListByTripID: %w", err)
	}
	defer rows.Close()

	records := []domain.TransitionRecord{}
	for rows.Next() {
		rec, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.AuditRepo.ListByTripID: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.AuditRepo.ListByTripID: rows: %w", err)
	}
	return records, nil
}

func scanTransition(s scanner) (domain.TransitionRecord, error) {
	var (
		rec      domain.TransitionRecord
		id       pgtype.UUID
		tripID   pgtype.UUID
		from, to string
	)
	if err := s.Scan(&id, &tripID, &from, &to, &rec.Actor, &rec.OccurredAt); err != nil {
		return domain.TransitionRecord{}, err
	}
	rec.ID = uuid.UUID(id.Bytes)
	rec.TripID = uuid.UUID(tripID.Bytes)
	rec.From = domain.TripStatus(from)
	rec.To = domain.TripStatus(to)
	return rec, nil
}
