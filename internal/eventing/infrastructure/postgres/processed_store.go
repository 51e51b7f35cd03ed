package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var errInvalidProcessedArgs = errors.New("processed store: event id and consumer required")

// ProcessedStore remembers which consumer already handled which event.
type ProcessedStore struct {
	db *sql.DB
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

// HasProcessed checks if event was already handled by consumer.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumer string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("processed store: nil db")
	}
	if eventID == "" || consumer == "" {
		return false, errInvalidProcessedArgs
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1 AND consumer_name = $2)`,
		eventID, consumer).Scan(&exists)
	return exists, err
}

// MarkProcessed records a handled event. Marking twice is a no-op.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumer string) error {
	if s == nil || s.db == nil {
		return errors.New("processed store: nil db")
	}
	if eventID == "" || consumer == "" {
		return errInvalidProcessedArgs
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO processed_events (event_id, consumer_name, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer_name) DO NOTHING`, eventID, consumer, time.Now().UTC())
	return err
}
