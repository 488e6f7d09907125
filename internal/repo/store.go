// Package repo contains all database access logic for the ridebook service.
// Each resource has its own file with an interface and a Postgres
// implementation. No business logic lives here, only SQL and type mapping.
// Every mutation the core depends on for correctness is a single conditional
// statement, so concurrent callers are linearized by Postgres itself.
package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// beginner is a db that can also open a transaction. *pgxpool.Pool opens a
// real transaction; pgx.Tx opens a savepoint, which keeps rollback isolation
// working in tests.
type beginner interface {
	db
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repos groups the repositories bound to one connection or transaction.
type Repos struct {
	Trips      TripRepo
	Bookings   BookingRepo
	Passengers PassengerRepo
	Audit      AuditRepo
	Timeouts   OfferTimeoutRepo
}

// NewRepos binds every repository to the same db handle.
func NewRepos(db db) Repos {
	return Repos{
		Trips:      NewTripRepo(db),
		Bookings:   NewBookingRepo(db),
		Passengers: NewPassengerRepo(db),
		Audit:      NewAuditRepo(db),
		Timeouts:   NewOfferTimeoutRepo(db),
	}
}

// Store hands out repositories, either auto-committing or scoped to a
// transaction. Services depend on this interface so unit tests can supply an
// in-memory fake.
type Store interface {
	// Repos returns repositories that run each statement in its own implicit
	// transaction.
	Repos() Repos

	// InTx runs fn with repositories bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Repos) error) error
}

type pgStore struct {
	conn  beginner
	repos Repos
}

// NewStore constructs a Store backed by conn.
// In production pass *pgxpool.Pool; in tests a pgx.Tx works too.
func NewStore(conn beginner) Store {
	return &pgStore{conn: conn, repos: NewRepos(conn)}
}

func (s *pgStore) Repos() Repos {
	return s.repos
}

func (s *pgStore) InTx(ctx context.Context, fn func(Repos) error) error {
	return pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		return fn(NewRepos(tx))
	})
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing scan helpers to
// be reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint failure on the
// named constraint or index.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}
