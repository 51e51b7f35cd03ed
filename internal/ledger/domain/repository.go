package ledger

import (
	"context"
	"time"
)

// EntryRepository persists statement rows. Each call is an individually
// atomic write; there are no cross-entry transactions.
type EntryRepository interface {
	// Insert stores a new entry. Stores return ErrDuplicateActive when an
	// active charge-origin entry already exists for the same installment.
	Insert(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, filter Filter) ([]*Entry, error)
	// RemoveForInstallment soft-deletes active charge-origin entries of the
	// pair and returns how many changed.
	RemoveForInstallment(ctx context.Context, chargeID string, number int, at time.Time) (int, error)
	// ListByVendorAccount returns active vendor-origin entries of an account.
	ListByVendorAccount(ctx context.Context, accountID string) ([]*Entry, error)
	// UpdateDescription rewrites the description of one active entry.
	UpdateDescription(ctx context.Context, id, description string, at time.Time) error
	// Remove soft-deletes one entry. Removing a removed entry is a no-op.
	Remove(ctx context.Context, id string, at time.Time) error
}
