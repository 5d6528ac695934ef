// Package access implements redemption of capacity-limited access codes, the
// session lifecycle that returns usage units to the ledger, and the
// operator-facing usage and cache operations.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/cache"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/events"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/monitor"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/recovery"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/repository"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/token"
)

const (
	tracerName = "github.com/jsamuelsen11/recipe-web-app/access-service/internal/access"

	// releaseTimeout bounds a usage release that must complete even when the
	// caller's context is already done.
	releaseTimeout = 10 * time.Second
)

var tracer = otel.Tracer(tracerName)

// ErrInvalidSessionToken is returned when a session token fails validation.
var ErrInvalidSessionToken = errors.New("invalid session token")

// Notifier delivers operator alerts. Delivery is best effort.
type Notifier interface {
	NotifyOperators(ctx context.Context, alert *models.OperatorAlert) error
}

// Dependencies are the collaborators shared by the access services.
type Dependencies struct {
	Store    repository.Store
	Cache    *cache.CapacityCache
	Policy   *recovery.Policy
	Monitor  *monitor.Monitor
	Tokens   token.Service
	Events   events.Publisher
	Notifier Notifier
	Logger   *logrus.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (d *Dependencies) defaults() {
	if d.Events == nil {
		d.Events = events.NoopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
}

func (d *Dependencies) now() time.Time {
	return d.Clock().UTC()
}

// publish hands event to the publisher; failures are logged and otherwise ignored.
func (d *Dependencies) publish(ctx context.Context, event *models.AccessEvent) {
	if err := d.Events.Publish(ctx, event); err != nil {
		d.Logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"code_id":    event.CodeID,
		}).Warn("Failed to publish lifecycle event")
	}
}

// notify sends an operator alert when a notifier is configured.
func (d *Dependencies) notify(ctx context.Context, alert *models.OperatorAlert) {
	if d.Notifier == nil {
		return
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = d.now()
	}
	if err := d.Notifier.NotifyOperators(ctx, alert); err != nil {
		d.Logger.WithError(err).WithField("title", alert.Title).Warn("Failed to notify operators")
	}
}

// track runs fn as a monitored ledger or session operation.
func (d *Dependencies) track(operation, codeID string, fn func() error) error {
	if d.Monitor == nil {
		return fn()
	}
	return d.Monitor.Track(operation, codeID, fn)
}

// invalidate drops cached state for codeID.
func (d *Dependencies) invalidate(codeID string) {
	if d.Cache != nil {
		d.Cache.Invalidate(codeID)
	}
}

// releaseUnit returns one usage unit of codeID to the ledger under the
// database retry strategy. It runs detached from ctx's cancellation so that
// a caller giving up does not leave a unit consumed.
func (d *Dependencies) releaseUnit(ctx context.Context, codeID, operation string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	return recovery.Run(ctx, d.Policy, operation, func(ctx context.Context, _ int) (bool, error) {
		var released bool
		err := d.track(monitor.OpDecrementUsage, codeID, func() error {
			var decErr error
			released, decErr = d.Store.DecrementUsage(ctx, codeID)
			return decErr
		})
		if err != nil {
			return false, models.NewDatabaseError("decrement_usage", err).WithCodeID(codeID)
		}
		return released, nil
	})
}

// logRedemptionError logs err at the level of its category.
func logRedemptionError(logger *logrus.Logger, err error, fields logrus.Fields) {
	re, ok := models.AsRedemptionError(err)
	if !ok {
		logger.WithError(err).WithFields(fields).Error("Access operation failed")
		return
	}

	entry := logger.WithFields(fields).WithFields(re.Details.Fields()).WithFields(logrus.Fields{
		"error_code": re.Code,
		"category":   re.Category(),
	})
	if re.Err != nil {
		entry = entry.WithError(re.Err)
	}

	switch re.Category() {
	case models.CategoryUser:
		entry.Info(re.Message)
	case models.CategoryContention:
		entry.Warn(re.Message)
	case models.CategoryConsistency:
		entry.WithField("severity", "critical").Error(re.Message)
	default:
		entry.Error(re.Message)
	}
}
