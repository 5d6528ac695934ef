package events

import (
	"context"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/repository"
)

// AuditPublisher records lifecycle events in the audit repository.
type AuditPublisher struct {
	repo repository.AuditRepository
}

// NewAuditPublisher creates a publisher backed by repo.
func NewAuditPublisher(repo repository.AuditRepository) *AuditPublisher {
	return &AuditPublisher{repo: repo}
}

// Publish stores the event.
func (p *AuditPublisher) Publish(ctx context.Context, event *models.AccessEvent) error {
	return p.repo.RecordEvent(ctx, event)
}

// Close does nothing; the repository's connection is owned by its manager.
func (p *AuditPublisher) Close() error {
	return nil
}
