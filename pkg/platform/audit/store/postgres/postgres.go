// Package postgres persists audit events to the security_events table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "authed/pkg/platform/audit"
)

// Store implements audit.Log on Postgres.
type Store struct {
	db *sql.DB
}

// New creates a Postgres-backed audit log.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// row mirrors the details JSONB column.
type details struct {
	TargetID  string         `json:"target_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	IP        string         `json:"ip,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(details{
		TargetID:  event.TargetID,
		Reason:    event.Reason,
		IP:        event.IP,
		RequestID: event.RequestID,
		Extra:     event.Details,
	})
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	query := `
		INSERT INTO security_events (id, event_type, category, severity, actor_id, details, is_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.New(),
		string(event.Action),
		string(event.Category),
		string(event.Severity),
		event.ActorID,
		payload,
		event.IsError,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT event_type, category, severity, actor_id, details, is_error, created_at
		FROM security_events
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *Store) ListByActor(ctx context.Context, actorID string) ([]audit.Event, error) {
	query := `
		SELECT event_type, category, severity, actor_id, details, is_error, created_at
		FROM security_events
		WHERE actor_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event      audit.Event
			action     string
			category   string
			severity   string
			rawDetails []byte
			createdAt  time.Time
		)
		if err := rows.Scan(&action, &category, &severity, &event.ActorID, &rawDetails, &event.IsError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		event.Action = audit.Action(action)
		event.Category = audit.EventCategory(category)
		event.Severity = audit.Severity(severity)
		event.Timestamp = createdAt

		var d details
		if len(rawDetails) > 0 {
			if err := json.Unmarshal(rawDetails, &d); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		event.TargetID = d.TargetID
		event.Reason = d.Reason
		event.IP = d.IP
		event.RequestID = d.RequestID
		event.Details = d.Extra

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return events, nil
}
