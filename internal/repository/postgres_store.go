package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// PoolGetter is a function that returns the current database connection pool.
type PoolGetter func() *pgxpool.Pool

var errPoolUnavailable = errors.New("database connection not available")

// PostgreSQL error codes that mean a write lost a race and may succeed on retry.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

const codeColumns = `id::text, code, name, code_type, max_usage_count, usage_count,
		expires_at, is_active, created_at, updated_at`

const sessionColumns = `id::text, code_id::text, started_at, last_activity, ended_at, is_active`

// idleSessionColumns is sessionColumns qualified for queries joining access_codes.
const idleSessionColumns = `s.id::text, s.code_id::text, s.started_at, s.last_activity, s.ended_at, s.is_active`

// PostgresStore implements Store on PostgreSQL. Ledger mutations are single
// conditional UPDATE statements, so the row lock taken by the update is the
// only serialization point between concurrent redemptions.
type PostgresStore struct {
	getPool PoolGetter
}

// NewPostgresStore creates a new PostgreSQL store.
// The poolGetter function allows the store to always use the current
// active connection pool, supporting automatic reconnection.
func NewPostgresStore(poolGetter PoolGetter) *PostgresStore {
	return &PostgresStore{
		getPool: poolGetter,
	}
}

// Ping checks that the pool is available and the server answers.
func (s *PostgresStore) Ping(ctx context.Context) error {
	pool := s.getPool()
	if pool == nil {
		return errPoolUnavailable
	}
	return pool.Ping(ctx)
}

// Close is a no-op; the pool belongs to the database manager.
func (s *PostgresStore) Close() error {
	return nil
}

func (s *PostgresStore) pool() (*pgxpool.Pool, error) {
	pool := s.getPool()
	if pool == nil {
		return nil, errPoolUnavailable
	}
	return pool, nil
}

// classifyError maps driver errors onto the shared sentinels.
func classifyError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("failed to %s: %w: %s", op, models.ErrConcurrentUpdate, pgErr.Message)
		case pgUniqueViolation:
			return fmt.Errorf("failed to %s: %w", op, models.ErrDuplicateCode)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func scanCode(row pgx.Row) (*models.AccessCode, error) {
	var code models.AccessCode
	var codeType string
	err := row.Scan(
		&code.ID,
		&code.Code,
		&code.Name,
		&codeType,
		&code.MaxUsageCount,
		&code.UsageCount,
		&code.ExpiresAt,
		&code.IsActive,
		&code.CreatedAt,
		&code.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	code.CodeType = models.CodeType(codeType)
	return &code, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.CodeID,
		&session.StartedAt,
		&session.LastActivity,
		&session.EndedAt,
		&session.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
