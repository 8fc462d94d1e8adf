// Package postgres implements repository.Querier over a pgx connection
// pool. Error translation happens here: callers only ever see the
// repository sentinel errors, never driver errors.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/skadi/internal/repository"
)

// Store is the PostgreSQL-backed storage implementation.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time check that Store implements repository.Querier.
var _ repository.Querier = (*Store)(nil)

// NewStore creates a Store over an established pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const uniqueViolationCode = "23505"

// translateErr maps driver errors onto the repository sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return repository.ErrUniqueViolation
	}
	return err
}
