package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// CheckCapacity reports whether the code can take another holder.
func (s *PostgresStore) CheckCapacity(ctx context.Context, codeID string) (bool, error) {
	pool, err := s.pool()
	if err != nil {
		return false, err
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM access_codes
			WHERE id = $1 AND is_active AND expires_at > now() AND usage_count < max_usage_count
		)`

	var available bool
	if err := pool.QueryRow(ctx, query, codeID).Scan(&available); err != nil {
		return false, classifyError("check capacity", err)
	}

	return available, nil
}

// IncrementUsage consumes one usage unit if the code is active, unexpired and below its limit.
func (s *PostgresStore) IncrementUsage(ctx context.Context, codeID string) (bool, error) {
	pool, err := s.pool()
	if err != nil {
		return false, err
	}

	query := `
		UPDATE access_codes
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND is_active AND expires_at > now() AND usage_count < max_usage_count`

	result, err := pool.Exec(ctx, query, codeID)
	if err != nil {
		return false, classifyError("increment usage", err)
	}

	return result.RowsAffected() == 1, nil
}

// DecrementUsage releases one usage unit without going below zero.
func (s *PostgresStore) DecrementUsage(ctx context.Context, codeID string) (bool, error) {
	pool, err := s.pool()
	if err != nil {
		return false, err
	}

	query := `
		UPDATE access_codes
		SET usage_count = usage_count - 1, updated_at = now()
		WHERE id = $1 AND usage_count > 0`

	result, err := pool.Exec(ctx, query, codeID)
	if err != nil {
		return false, classifyError("decrement usage", err)
	}

	return result.RowsAffected() == 1, nil
}

// GetUsage reads the current and maximum usage of a code.
func (s *PostgresStore) GetUsage(ctx context.Context, codeID string) (*models.UsageCount, error) {
	pool, err := s.pool()
	if err != nil {
		return nil, err
	}

	usage := &models.UsageCount{CodeID: codeID}
	query := `SELECT usage_count, max_usage_count FROM access_codes WHERE id = $1`
	if err := pool.QueryRow(ctx, query, codeID).Scan(&usage.Current, &usage.Max); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCodeNotFound
		}
		return nil, classifyError("get usage", err)
	}

	return usage, nil
}
