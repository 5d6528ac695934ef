package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

const publishTimeout = 10 * time.Second

// AsyncDispatcher queues events and publishes them on background workers so
// that request paths never wait on the audit store or Kafka. When the queue is
// full new events are dropped with a warning.
type AsyncDispatcher struct {
	next    Publisher
	queue   chan *models.AccessEvent
	logger  *logrus.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsyncDispatcher starts cfg.Workers goroutines delivering to next.
func NewAsyncDispatcher(next Publisher, cfg *config.EventsConfig, logger *logrus.Logger) *AsyncDispatcher {
	workers := max(cfg.Workers, 1)
	d := &AsyncDispatcher{
		next:   next,
		queue:  make(chan *models.AccessEvent, max(cfg.QueueSize, 1)),
		logger: logger,
	}

	for range workers {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()

	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := d.next.Publish(ctx, event); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"event_id":   event.ID,
				"event_type": event.Type,
				"code_id":    event.CodeID,
			}).Warn("Failed to publish lifecycle event")
		}
		cancel()
	}
}

// Publish enqueues event without blocking. It never returns an error; a full
// queue or a closed dispatcher drops the event.
func (d *AsyncDispatcher) Publish(_ context.Context, event *models.AccessEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil
	}

	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		d.logger.WithFields(logrus.Fields{
			"event_type": event.Type,
			"code_id":    event.CodeID,
		}).Warn("Lifecycle event queue full, dropping event")
	}
	return nil
}

// Dropped returns the number of events dropped because the queue was full.
func (d *AsyncDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events, drains the queue and closes the wrapped publisher.
func (d *AsyncDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return d.next.Close()
}
