// Package store is the typed gateway over persisted control-plane state.
//
// The store is the sole owner of persisted state and the single
// synchronization point of the control plane: every status transition goes
// through a CAS guarded by the row's prior status and version counter, and
// task claiming runs inside a serializable-enough transaction using
// SELECT ... FOR UPDATE SKIP LOCKED.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
)

// Error taxonomy. Callers dispatch with errors.Is.
var (
	// ErrNotFound: entity absent; fatal to the calling operation.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict: CAS miss; always retryable by the caller.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrForbidden: tenancy or hierarchy breach; never retried.
	ErrForbidden = errors.New("cross-tenant access forbidden")

	// ErrInvariantViolation: caller bug or data corruption.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrCycle: the dependency edge would create a cycle.
	ErrCycle = errors.New("dependency cycle")
)

// Store provides typed operations over the PostgreSQL pool.
type Store struct {
	pool  *pgxpool.Pool
	clock ident.Clock
}

// New creates a Store over the given pool with the system clock.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, clock: ident.SystemClock{}}
}

// NewWithClock creates a Store with an explicit clock (tests).
func NewWithClock(pool *pgxpool.Pool, clock ident.Clock) *Store {
	return &Store{pool: pool, clock: clock}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// pgxRow is the common Scan surface of pgx.Row and pgx.Rows, so the same
// scan helpers serve single- and multi-row queries.
type pgxRow interface {
	Scan(dest ...any) error
}

// notFoundOr maps pgx.ErrNoRows to ErrNotFound, wrapping anything else.
func notFoundOr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
