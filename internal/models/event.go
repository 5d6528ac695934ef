package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventSessionStarted  EventType = "session.started"
	EventSessionEnded    EventType = "session.ended"
	EventSessionIdled    EventType = "session.idle_expired"
	EventCodeCreated     EventType = "code.created"
	EventCodeDeactivated EventType = "code.deactivated"
	EventCodeExhausted   EventType = "code.exhausted"
	EventRollbackFailed  EventType = "rollback.failed"
)

// AccessEvent is an audit record of something that happened to a code or session.
type AccessEvent struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	CodeID     string                 `json:"code_id"`
	SessionID  string                 `json:"session_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewAccessEvent creates an event with a fresh identifier.
func NewAccessEvent(eventType EventType, codeID, sessionID string, at time.Time) *AccessEvent {
	return &AccessEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		CodeID:     codeID,
		SessionID:  sessionID,
		OccurredAt: at.UTC(),
	}
}

// With attaches a data field and returns the event.
func (e *AccessEvent) With(key string, value interface{}) *AccessEvent {
	if e.Data == nil {
		e.Data = map[string]interface{}{}
	}
	e.Data[key] = value
	return e
}

// OperatorAlert is a notification sent to the people operating the service.
type OperatorAlert struct {
	Severity   AlertSeverity          `json:"severity"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	CodeID     string                 `json:"code_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewPerformanceAlert describes a raised performance alert for operators.
func NewPerformanceAlert(alert Alert) *OperatorAlert {
	return &OperatorAlert{
		Severity: alert.Severity,
		Title:    "Performance alert: " + alert.Operation + " " + string(alert.Metric),
		Message:  alert.Message,
		Details: map[string]interface{}{
			"operation": alert.Operation,
			"metric":    alert.Metric,
			"value":     alert.Value,
			"threshold": alert.Threshold,
		},
		OccurredAt: alert.TriggeredAt,
	}
}
