package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/ruriko-events/internal/events"
	"github.com/bdobrica/ruriko-events/internal/events/errs"
)

// AppendEvent persists event. If event.IdempotencyKey is non-empty and
// already indexed, it returns errs.ErrDuplicateEvent and event is not
// inserted.
func (s *Store) AppendEvent(ctx context.Context, event *events.Event) error {
	if event.IdempotencyKey != "" {
		exists, err := s.ExistsIdempotency(ctx, event.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("failed to check idempotency: %w", err)
		}
		if exists {
			return errs.ErrDuplicateEvent
		}
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var idempotencyKey any
	if event.IdempotencyKey != "" {
		idempotencyKey = event.IdempotencyKey
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, source, subject, payload, risk_hint, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.EventID, event.EventType, event.Source, event.Subject, string(payload),
		event.RiskHint, idempotencyKey, formatTime(event.Timestamp))
	if err != nil {
		// Two concurrent appends with the same key can both pass the check
		// above; the unique index catches the loser.
		if strings.Contains(err.Error(), "UNIQUE constraint failed: events.idempotency_key") {
			return errs.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ExistsIdempotency reports whether key is already indexed by a persisted
// event.
func (s *Store) ExistsIdempotency(ctx context.Context, key string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM events WHERE idempotency_key = ?`, key,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetEvent retrieves a single event by id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*events.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_type, source, subject, payload, risk_hint, idempotency_key, created_at
		FROM events WHERE event_id = ?
	`, eventID)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// ListEvents returns events newest first, optionally filtered by
// eventType. limit <= 0 means unlimited.
func (s *Store) ListEvents(ctx context.Context, eventType string, limit int) ([]events.Event, error) {
	query := `
		SELECT event_id, event_type, source, subject, payload, risk_hint, idempotency_key, created_at
		FROM events
	`
	args := []any{}
	if eventType != "" {
		query += " WHERE event_type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY created_at DESC, event_id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

// ListEventsAfter returns events created strictly after the given cursor
// event (by created_at, event_id), oldest-to-newest, order stable across
// equal timestamps. An optional eventType narrows the page.
func (s *Store) ListEventsAfter(ctx context.Context, eventID, eventType string, limit int) ([]events.Event, error) {
	var cursorCreatedAt string
	if eventID != "" {
		err := s.db.QueryRowContext(ctx, `SELECT created_at FROM events WHERE event_id = ?`, eventID).Scan(&cursorCreatedAt)
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cursor event: %w", err)
		}
	}

	query := `
		SELECT event_id, event_type, source, subject, payload, risk_hint, idempotency_key, created_at
		FROM events WHERE 1=1
	`
	args := []any{}
	if eventID != "" {
		query += " AND (created_at, event_id) > (?, ?)"
		args = append(args, cursorCreatedAt, eventID)
	}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY created_at ASC, event_id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events after cursor: %w", err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*events.Event, error) {
	var event events.Event
	var payload string
	var idempotencyKey sql.NullString
	var createdAt string

	err := row.Scan(&event.EventID, &event.EventType, &event.Source, &event.Subject,
		&payload, &event.RiskHint, &idempotencyKey, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	event.IdempotencyKey = idempotencyKey.String

	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
	}
	event.Timestamp = ts

	return &event, nil
}

func scanEventRows(rows *sql.Rows) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
