package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendEvent records an audit event for a job. Events are append-only;
// nothing updates or deletes them except retention cleanup.
func (s *Store) AppendEvent(ctx context.Context, jobID string, eventType EventType, stage Stage, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, job_id, event_type, stage, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), jobID, string(eventType), string(stage),
		nullString(message), s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent events for a job, newest first.
func (s *Store) RecentEvents(ctx context.Context, jobID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, event_type, stage, message, created_at
		FROM events WHERE job_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			ev        Event
			eventType string
			stage     string
			message   nullableString
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &eventType, &stage, &message, &createdAt); err != nil {
			return nil, err
		}
		ev.Type = EventType(eventType)
		ev.Stage = Stage(stage)
		ev.Message = string(message)
		ev.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// EventsOfType returns a job's events of one type, oldest first. Mainly
// useful for tests and triage.
func (s *Store) EventsOfType(ctx context.Context, jobID string, eventType EventType) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, event_type, stage, message, created_at
		FROM events WHERE job_id = ? AND event_type = ?
		ORDER BY created_at ASC, rowid ASC`, jobID, string(eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			ev        Event
			et        string
			stage     string
			message   nullableString
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &et, &stage, &message, &createdAt); err != nil {
			return nil, err
		}
		ev.Type = EventType(et)
		ev.Stage = Stage(stage)
		ev.Message = string(message)
		ev.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// nullableString scans a TEXT column that may be NULL into a plain string.
type nullableString string

func (n *nullableString) Scan(v any) error {
	switch t := v.(type) {
	case nil:
		*n = ""
	case string:
		*n = nullableString(t)
	case []byte:
		*n = nullableString(t)
	default:
		return fmt.Errorf("unsupported type %T for string column", v)
	}
	return nil
}
