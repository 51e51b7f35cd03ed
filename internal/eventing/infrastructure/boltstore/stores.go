// Package boltstore implements the outbox, processed-events and dead-letter
// stores on the embedded database.
package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	bolt "github.com/boltdb/bolt"

	"finance-backoffice/internal/eventing"
	"finance-backoffice/internal/storage/boltdb"
)

const (
	statusPending = "pending"
	statusSent    = "sent"
	statusFailed  = "failed"
	statusDead    = "dead"
)

type outboxDoc struct {
	ID        string            `json:"id"`
	Envelope  eventing.Envelope `json:"envelope"`
	Status    string            `json:"status"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	SentAt    *time.Time        `json:"sent_at,omitempty"`
}

// OutboxStore keys records by insertion sequence so cursor order is
// creation order.
type OutboxStore struct {
	db *bolt.DB
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *bolt.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Insert writes an envelope to the outbox.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketOutbox)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = strconv.FormatUint(seq, 10)
		data, err := json.Marshal(outboxDoc{
			ID:        id,
			Envelope:  env,
			Status:    statusPending,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return b.Put(boltdb.Itob(seq), data)
	})
	return id, err
}

// ListPending returns pending records and failed records still below
// maxAttempts.
func (s *OutboxStore) ListPending(ctx context.Context, limit, maxAttempts int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var out []eventing.OutboxRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketOutbox)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			var doc outboxDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if doc.Status == statusPending || (doc.Status == statusFailed && doc.Attempts < maxAttempts) {
				out = append(out, eventing.OutboxRecord{ID: doc.ID, Envelope: doc.Envelope, Attempts: doc.Attempts})
			}
		}
		return nil
	})
	return out, err
}

// MarkSent marks a record as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.mutate(id, func(doc *outboxDoc) {
		now := time.Now().UTC()
		doc.Status = statusSent
		doc.SentAt = &now
		doc.LastError = ""
	})
}

// MarkFailed records a failed delivery attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, cause error) error {
	return s.mutate(id, func(doc *outboxDoc) {
		doc.Status = statusFailed
		doc.Attempts++
		if cause != nil {
			doc.LastError = cause.Error()
		}
	})
}

// MarkDead parks an exhausted record.
func (s *OutboxStore) MarkDead(ctx context.Context, id string) error {
	return s.mutate(id, func(doc *outboxDoc) {
		doc.Status = statusDead
	})
}

// Pending counts records still awaiting delivery.
func (s *OutboxStore) Pending(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("outbox store: nil db")
	}
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketOutbox)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			var doc outboxDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if doc.Status == statusPending || doc.Status == statusFailed {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *OutboxStore) mutate(id string, fn func(*outboxDoc)) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return fmt.Errorf("outbox store: invalid id %q", id)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketOutbox)
		if err != nil {
			return err
		}
		key := boltdb.Itob(seq)
		v := b.Get(key)
		if v == nil {
			return fmt.Errorf("outbox store: record %s not found", id)
		}
		var doc outboxDoc
		if err := json.Unmarshal(v, &doc); err != nil {
			return err
		}
		fn(&doc)
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// ProcessedStore remembers which consumer handled which event.
type ProcessedStore struct {
	db *bolt.DB
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *bolt.DB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

func processedKey(eventID, consumer string) []byte {
	return []byte(consumer + "\x00" + eventID)
}

// HasProcessed checks if event was already handled by consumer.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumer string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("processed store: nil db")
	}
	if eventID == "" || consumer == "" {
		return false, errors.New("processed store: event id and consumer required")
	}
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketProcessedEvents)
		if err != nil {
			return err
		}
		found = b.Get(processedKey(eventID, consumer)) != nil
		return nil
	})
	return found, err
}

// MarkProcessed records a handled event.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumer string) error {
	if s == nil || s.db == nil {
		return errors.New("processed store: nil db")
	}
	if eventID == "" || consumer == "" {
		return errors.New("processed store: event id and consumer required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketProcessedEvents)
		if err != nil {
			return err
		}
		key := processedKey(eventID, consumer)
		if b.Get(key) != nil {
			return nil
		}
		return b.Put(key, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
}

type deadLetterDoc struct {
	eventing.DeadLetter
	Payload   eventing.Envelope `json:"payload"`
	FirstSeen time.Time         `json:"first_seen_at"`
}

// DLQStore keeps abandoned events keyed by event id.
type DLQStore struct {
	db *bolt.DB
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *bolt.DB) *DLQStore {
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
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketDeadLetters)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		doc := deadLetterDoc{FirstSeen: now}
		if v := b.Get([]byte(env.EventID)); v != nil {
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
		}
		doc.EventID = env.EventID
		doc.EventType = env.EventType
		doc.AggregateID = env.AggregateID
		doc.Payload = env
		doc.Attempts++
		doc.LastSeenAt = now
		if cause != nil {
			doc.Error = cause.Error()
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(env.EventID), data)
	})
}

// List returns the most recent dead letters.
func (s *DLQStore) List(ctx context.Context, limit int) ([]eventing.DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dlq store: nil db")
	}
	var out []eventing.DeadLetter
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketDeadLetters)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			var doc deadLetterDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			out = append(out, doc.DeadLetter)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
