package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/client"
)

const operatorAlertPath = "/notifications/operator-alert"

// Client provides methods for interacting with the notification service.
type Client struct {
	*client.AuthClient

	logger *logrus.Logger
}

// NewClient creates a notification service client on an authenticated client.
func NewClient(
	authClient *client.AuthClient,
	logger *logrus.Logger,
) *Client {
	return &Client{
		AuthClient: authClient,
		logger:     logger,
	}
}

// SendOperatorAlert queues an operator alert email. The service answers
// 202 Accepted once the alert is queued.
func (c *Client) SendOperatorAlert(
	ctx context.Context,
	req *OperatorAlertRequest,
) (*BatchNotificationResponse, error) {
	fields := logrus.Fields{
		"recipient_count": len(req.RecipientEmails),
		"severity":        req.Severity,
		"subject":         req.Subject,
	}
	c.logger.WithFields(fields).Debug("Sending operator alert notification")

	resp, err := c.DoWithAuth(ctx, http.MethodPost, operatorAlertPath, req)
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Error("Failed to send operator alert notification")
		return nil, fmt.Errorf("failed to send operator alert: %w", err)
	}

	var notifResp BatchNotificationResponse
	if err := c.DecodeResponse(resp, http.StatusAccepted, &notifResp); err != nil {
		c.logger.WithFields(fields).WithError(err).Error("Operator alert notification request failed")
		return nil, fmt.Errorf("operator alert failed: %w", err)
	}

	c.logger.WithFields(fields).WithField("queued_count", notifResp.QueuedCount).
		Info("Operator alert notification queued successfully")

	return &notifResp, nil
}
