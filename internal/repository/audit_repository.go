package repository

import (
	"context"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// AuditRepository persists lifecycle events as an append-only log.
type AuditRepository interface {
	// RecordEvent appends one event. Recording the same event ID twice is a no-op.
	RecordEvent(ctx context.Context, event *models.AccessEvent) error

	// ListEventsForCode returns the most recent events of a code, newest first.
	ListEventsForCode(ctx context.Context, codeID string, limit int) ([]*models.AccessEvent, error)
}
