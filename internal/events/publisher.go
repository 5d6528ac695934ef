// Package events publishes access lifecycle events (sessions started and
// ended, codes deactivated, rollbacks that failed) to the audit store and to
// Kafka. Publishing is best effort: a failed publish never changes the outcome
// of the operation that produced the event.
package events

import (
	"context"
	"errors"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event *models.AccessEvent) error
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish discards the event.
func (NoopPublisher) Publish(context.Context, *models.AccessEvent) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }

// MultiPublisher fans an event out to several publishers.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher combines publishers; nil entries are skipped.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Publish delivers event to every publisher and joins their errors.
func (m *MultiPublisher) Publish(ctx context.Context, event *models.AccessEvent) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher and joins their errors.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of wrapped publishers.
func (m *MultiPublisher) Len() int {
	return len(m.publishers)
}
