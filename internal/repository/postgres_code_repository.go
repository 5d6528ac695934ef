package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// CreateCode stores a new access code.
func (s *PostgresStore) CreateCode(ctx context.Context, code *models.AccessCode) error {
	pool, err := s.pool()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO access_codes
		(id, code, name, code_type, max_usage_count, usage_count, expires_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = pool.Exec(ctx, query,
		code.ID,
		models.NormalizeCode(code.Code),
		code.Name,
		string(code.CodeType),
		code.MaxUsageCount,
		code.UsageCount,
		code.ExpiresAt,
		code.IsActive,
		code.CreatedAt,
		code.UpdatedAt,
	)
	if err != nil {
		return classifyError("create access code", err)
	}

	return nil
}

// GetCodeByID retrieves an access code by identifier.
func (s *PostgresStore) GetCodeByID(ctx context.Context, codeID string) (*models.AccessCode, error) {
	query := `SELECT ` + codeColumns + ` FROM access_codes WHERE id = $1`
	return s.getCode(ctx, query, codeID)
}

// GetCodeByValue retrieves an access code by its case-insensitive value.
func (s *PostgresStore) GetCodeByValue(ctx context.Context, code string) (*models.AccessCode, error) {
	query := `SELECT ` + codeColumns + ` FROM access_codes WHERE code = $1`
	return s.getCode(ctx, query, models.NormalizeCode(code))
}

func (s *PostgresStore) getCode(ctx context.Context, query string, arg interface{}) (*models.AccessCode, error) {
	pool, err := s.pool()
	if err != nil {
		return nil, err
	}

	code, err := scanCode(pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCodeNotFound
		}
		return nil, classifyError("get access code", err)
	}

	return code, nil
}

// ListCodes returns codes ordered by creation time.
func (s *PostgresStore) ListCodes(ctx context.Context, activeOnly bool) ([]*models.AccessCode, error) {
	query := `SELECT ` + codeColumns + `
		FROM access_codes
		WHERE ($1 = false OR is_active)
		ORDER BY created_at`
	return s.listCodes(ctx, query, activeOnly)
}

// ListExpiredActiveCodes returns active codes whose expiry is at or before now.
func (s *PostgresStore) ListExpiredActiveCodes(ctx context.Context, now time.Time) ([]*models.AccessCode, error) {
	query := `SELECT ` + codeColumns + `
		FROM access_codes
		WHERE is_active AND expires_at <= $1
		ORDER BY expires_at`
	return s.listCodes(ctx, query, now)
}

func (s *PostgresStore) listCodes(ctx context.Context, query string, arg interface{}) ([]*models.AccessCode, error) {
	pool, err := s.pool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, arg)
	if err != nil {
		return nil, classifyError("list access codes", err)
	}
	defer rows.Close()

	var codes []*models.AccessCode
	for rows.Next() {
		code, scanErr := scanCode(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan access code: %w", scanErr)
		}
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate access codes", err)
	}

	return codes, nil
}

// DeactivateCode flips an active code to inactive.
func (s *PostgresStore) DeactivateCode(ctx context.Context, codeID string) (bool, error) {
	pool, err := s.pool()
	if err != nil {
		return false, err
	}

	query := `
		UPDATE access_codes
		SET is_active = false, updated_at = now()
		WHERE id = $1 AND is_active`

	result, err := pool.Exec(ctx, query, codeID)
	if err != nil {
		return false, classifyError("deactivate access code", err)
	}

	return result.RowsAffected() == 1, nil
}
