package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// CreateSession stores a new session.
func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	pool, err := s.pool()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO access_sessions (id, code_id, started_at, last_activity, ended_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = pool.Exec(ctx, query,
		session.ID,
		session.CodeID,
		session.StartedAt,
		session.LastActivity,
		session.EndedAt,
		session.IsActive,
	)
	if err != nil {
		return classifyError("create session", err)
	}

	return nil
}

// GetSession retrieves a session by identifier.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	pool, err := s.pool()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + sessionColumns + ` FROM access_sessions WHERE id = $1`
	session, err := scanSession(pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, classifyError("get session", err)
	}

	return session, nil
}

// TouchSession records activity on an active session.
func (s *PostgresStore) TouchSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	pool, err := s.pool()
	if err != nil {
		return false, err
	}

	query := `UPDATE access_sessions SET last_activity = $2 WHERE id = $1 AND is_active`
	result, err := pool.Exec(ctx, query, sessionID, at)
	if err != nil {
		return false, classifyError("touch session", err)
	}

	return result.RowsAffected() == 1, nil
}

// EndSession moves an active session to ended. Only the caller that flips
// the row sees true, which makes the follow-up decrement happen once.
func (s *PostgresStore) EndSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	pool, err := s.pool()
	if err != nil {
		return false, err
	}

	query := `
		UPDATE access_sessions
		SET is_active = false, ended_at = $2
		WHERE id = $1 AND is_active`

	result, err := pool.Exec(ctx, query, sessionID, at)
	if err != nil {
		return false, classifyError("end session", err)
	}

	return result.RowsAffected() == 1, nil
}

// ListIdleSessions returns active sessions of bulk codes whose last activity
// is before cutoff, oldest first.
func (s *PostgresStore) ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.Session, error) {
	pool, err := s.pool()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + idleSessionColumns + `
		FROM access_sessions s
		JOIN access_codes c ON c.id = s.code_id
		WHERE s.is_active AND s.last_activity < $1 AND c.code_type = $2
		ORDER BY s.last_activity
		LIMIT $3`

	rows, err := pool.Query(ctx, query, cutoff, string(models.CodeTypeBulk), limit)
	if err != nil {
		return nil, classifyError("list idle sessions", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan session: %w", scanErr)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate idle sessions", err)
	}

	return sessions, nil
}

// EndSessionsForCode ends every active session of a code.
func (s *PostgresStore) EndSessionsForCode(ctx context.Context, codeID string, at time.Time) (int, error) {
	pool, err := s.pool()
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE access_sessions
		SET is_active = false, ended_at = $2
		WHERE code_id = $1 AND is_active`

	result, err := pool.Exec(ctx, query, codeID, at)
	if err != nil {
		return 0, classifyError("end sessions for code", err)
	}

	return int(result.RowsAffected()), nil
}

// CountActiveSessions returns the number of active sessions of a code.
func (s *PostgresStore) CountActiveSessions(ctx context.Context, codeID string) (int, error) {
	pool, err := s.pool()
	if err != nil {
		return 0, err
	}

	var count int
	query := `SELECT count(*) FROM access_sessions WHERE code_id = $1 AND is_active`
	if err := pool.QueryRow(ctx, query, codeID).Scan(&count); err != nil {
		return 0, classifyError("count active sessions", err)
	}

	return count, nil
}
