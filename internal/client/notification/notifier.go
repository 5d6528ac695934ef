package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

const alertSource = "access-service"

// AlertSender sends operator alert requests.
type AlertSender interface {
	SendOperatorAlert(ctx context.Context, req *OperatorAlertRequest) (*BatchNotificationResponse, error)
}

// OperatorNotifier turns service alerts into operator alert emails.
type OperatorNotifier struct {
	sender AlertSender
	config *config.NotificationConfig
	logger *logrus.Logger
}

// NewOperatorNotifier creates an OperatorNotifier.
func NewOperatorNotifier(sender AlertSender, cfg *config.NotificationConfig, logger *logrus.Logger) *OperatorNotifier {
	return &OperatorNotifier{
		sender: sender,
		config: cfg,
		logger: logger,
	}
}

// NotifyOperators sends alert to the configured operator addresses. It is a
// no-op when notifications are disabled or no address is configured.
func (n *OperatorNotifier) NotifyOperators(ctx context.Context, alert *models.OperatorAlert) error {
	if !n.config.Enabled || len(n.config.OperatorEmails) == 0 {
		n.logger.WithField("title", alert.Title).Debug("Operator notifications disabled, alert not sent")
		return nil
	}

	if n.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.Timeout)
		defer cancel()
	}

	metadata := make(map[string]interface{}, len(alert.Details)+2)
	for k, v := range alert.Details {
		metadata[k] = v
	}
	if alert.CodeID != "" {
		metadata["code_id"] = alert.CodeID
	}
	metadata["occurred_at"] = alert.OccurredAt.UTC().Format(time.RFC3339)

	req := &OperatorAlertRequest{
		RecipientEmails: n.config.OperatorEmails,
		Severity:        string(alert.Severity),
		Subject:         fmt.Sprintf("[%s] %s", alert.Severity, alert.Title),
		Message:         alert.Message,
		Source:          alertSource,
		Metadata:        metadata,
	}

	if _, err := n.sender.SendOperatorAlert(ctx, req); err != nil {
		return err
	}
	return nil
}
