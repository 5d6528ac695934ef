package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// DBGetter is a function that returns the current database connection.
// This pattern allows the repository to use the current active connection,
// supporting automatic reconnection and graceful degradation.
type DBGetter func() *sql.DB

// MySQLAuditRepository implements AuditRepository for MySQL.
type MySQLAuditRepository struct {
	getDB DBGetter
}

// NewMySQLAuditRepository creates a new MySQL audit repository.
func NewMySQLAuditRepository(dbGetter DBGetter) *MySQLAuditRepository {
	return &MySQLAuditRepository{
		getDB: dbGetter,
	}
}

// RecordEvent appends one event to access_events.
func (r *MySQLAuditRepository) RecordEvent(ctx context.Context, event *models.AccessEvent) error {
	db := r.getDB()
	if db == nil {
		return errors.New("database connection not available")
	}

	var payload []byte
	if len(event.Data) > 0 {
		var err error
		payload, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	query := `
		INSERT IGNORE INTO access_events
		(event_id, event_type, code_id, session_id, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.CodeID,
		nullableString(event.SessionID),
		event.OccurredAt,
		nullableJSON(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to record access event: %w", err)
	}

	return nil
}

// ListEventsForCode returns the most recent events of a code, newest first.
func (r *MySQLAuditRepository) ListEventsForCode(
	ctx context.Context,
	codeID string,
	limit int,
) ([]*models.AccessEvent, error) {
	db := r.getDB()
	if db == nil {
		return nil, errors.New("database connection not available")
	}

	query := `
		SELECT event_id, event_type, code_id, session_id, occurred_at, payload
		FROM access_events
		WHERE code_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`

	rows, err := db.QueryContext(ctx, query, codeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list access events: %w", err)
	}
	defer rows.Close()

	var events []*models.AccessEvent
	for rows.Next() {
		var (
			event     models.AccessEvent
			eventType string
			sessionID sql.NullString
			payload   []byte
		)
		if err := rows.Scan(&event.ID, &eventType, &event.CodeID, &sessionID, &event.OccurredAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan access event: %w", err)
		}
		event.Type = models.EventType(eventType)
		event.SessionID = sessionID.String
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access events: %w", err)
	}

	return events, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
