package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"finance-backoffice/internal/eventing"
)

// DLQStore keeps events whose delivery was abandoned.
type DLQStore struct {
	db *sql.DB
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db}
}

// RecordFailure inserts a dead letter or bumps the existing one.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO dead_letter_events (event_id, event_type, aggregate_id, payload, error, first_seen_at, last_seen_at, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
ON CONFLICT (event_id) DO UPDATE SET
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = dead_letter_events.attempts + 1`,
		env.EventID, env.EventType, env.AggregateID, string(payload), message, time.Now().UTC())
	return err
}

// List returns the most recent dead letters.
func (s *DLQStore) List(ctx context.Context, limit int) ([]eventing.DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dlq store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, event_type, aggregate_id, error, attempts, last_seen_at
FROM dead_letter_events
ORDER BY last_seen_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventing.DeadLetter
	for rows.Next() {
		var dl eventing.DeadLetter
		if err := rows.Scan(&dl.EventID, &dl.EventType, &dl.AggregateID, &dl.Error, &dl.Attempts, &dl.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}
