// Package notification provides a client for the notification service API.
package notification

// OperatorAlertRequest asks the notification service to email operators.
type OperatorAlertRequest struct {
	// RecipientEmails are the operator addresses to notify.
	RecipientEmails []string `json:"recipient_emails"`
	// Severity is "warning" or "critical".
	Severity string `json:"severity"`
	// Subject is the email subject line.
	Subject string `json:"subject"`
	// Message is the plain-text body.
	Message string `json:"message"`
	// Source identifies the sending service.
	Source string `json:"source"`
	// Metadata carries structured alert details such as the code ID.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BatchNotificationResponse represents the response from batch notification endpoints.
type BatchNotificationResponse struct {
	// Notifications maps notification IDs to recipients.
	Notifications []Mapping `json:"notifications"`
	// QueuedCount is the number of notifications successfully queued.
	QueuedCount int `json:"queued_count"`
	// Message is a human-readable status message.
	Message string `json:"message"`
}

// Mapping maps a notification ID to its recipient.
type Mapping struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
}
