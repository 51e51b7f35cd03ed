package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	bolt "github.com/boltdb/bolt"

	"finance-backoffice/internal/eventing"
	"finance-backoffice/internal/storage/boltdb"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOutboxStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewOutboxStore(openTestDB(t))

	first, err := store.Insert(ctx, eventing.Envelope{EventID: "e1", EventType: "x"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := store.Insert(ctx, eventing.Envelope{EventID: "e2", EventType: "x"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	pending, err := store.ListPending(ctx, 10, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first || pending[1].ID != second {
		t.Fatalf("unexpected pending order: %+v", pending)
	}

	if err := store.MarkSent(ctx, first); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.MarkFailed(ctx, second, errors.New("down")); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}
	pending, _ = store.ListPending(ctx, 10, 3)
	if len(pending) != 0 {
		t.Fatalf("exhausted records must not be listed, got %d", len(pending))
	}
	pending, _ = store.ListPending(ctx, 10, 5)
	if len(pending) != 1 || pending[0].Attempts != 3 {
		t.Fatalf("expected failed record below higher cap: %+v", pending)
	}
}

func TestProcessedStore(t *testing.T) {
	ctx := context.Background()
	store := NewProcessedStore(openTestDB(t))

	done, err := store.HasProcessed(ctx, "e1", "ledger")
	if err != nil || done {
		t.Fatalf("expected unprocessed, got %v %v", done, err)
	}
	if err := store.MarkProcessed(ctx, "e1", "ledger"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := store.MarkProcessed(ctx, "e1", "ledger"); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if done, _ := store.HasProcessed(ctx, "e1", "ledger"); !done {
		t.Fatalf("expected processed")
	}
	if done, _ := store.HasProcessed(ctx, "e1", "other"); done {
		t.Fatalf("processed state is per consumer")
	}
}

func TestDLQStore(t *testing.T) {
	ctx := context.Background()
	store := NewDLQStore(openTestDB(t))
	env := eventing.Envelope{EventID: "e1", EventType: "x", AggregateID: "charge-1"}

	if err := store.RecordFailure(ctx, env, errors.New("first")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.RecordFailure(ctx, env, errors.New("second")); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Attempts != 2 || got[0].Error != "second" || got[0].AggregateID != "charge-1" {
		t.Fatalf("unexpected dead letters: %+v", got)
	}
}
