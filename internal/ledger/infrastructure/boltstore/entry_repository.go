package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/shopspring/decimal"

	ledger "finance-backoffice/internal/ledger/domain"
	"finance-backoffice/internal/storage/boltdb"
)

// EntryRepository stores statement rows keyed by id. Every method runs in
// a single bolt transaction.
type EntryRepository struct {
	db *bolt.DB
}

// NewEntryRepository constructs a repository.
func NewEntryRepository(db *bolt.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

type entryDoc struct {
	ID                string          `json:"id"`
	Description       string          `json:"description"`
	Amount            decimal.Decimal `json:"amount"`
	Date              time.Time       `json:"date"`
	Branch            string          `json:"branch"`
	Category          string          `json:"category"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	Origin            string          `json:"origin"`
	ChargeID          string          `json:"charge_id,omitempty"`
	InstallmentNumber int             `json:"installment_number,omitempty"`
	VendorAccountID   string          `json:"vendor_account_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	RemovedAt         *time.Time      `json:"removed_at,omitempty"`
}

// Insert stores a new entry, enforcing one active derived entry per
// installment payment.
func (r *EntryRepository) Insert(ctx context.Context, entry *ledger.Entry) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	if entry == nil {
		return ledger.ErrNilEntry
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketLedgerEntries)
		if err != nil {
			return err
		}
		if entry.Active() && entry.Origin == ledger.OriginCharge {
			dup := false
			err := forEach(b, func(e *ledger.Entry) bool {
				dup = e.Active() && e.MatchesInstallment(entry.ChargeID, entry.InstallmentNumber)
				return !dup
			})
			if err != nil {
				return err
			}
			if dup {
				return ledger.ErrDuplicateActive
			}
		}
		return put(b, entry)
	})
}

// Get fetches one entry.
func (r *EntryRepository) Get(ctx context.Context, id string) (*ledger.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	var out *ledger.Entry
	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketLedgerEntries)
		if err != nil {
			return err
		}
		v := b.Get([]byte(id))
		if v == nil {
			return ledger.ErrEntryNotFound
		}
		out, err = decode(v)
		return err
	})
	return out, err
}

// List returns entries matching filter ordered by date then id.
func (r *EntryRepository) List(ctx context.Context, filter ledger.Filter) ([]*ledger.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []*ledger.Entry{}
	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketLedgerEntries)
		if err != nil {
			return err
		}
		return forEach(b, func(e *ledger.Entry) bool {
			if filter.Match(e) {
				out = append(out, e)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RemoveForInstallment soft-deletes active derived entries of the pair.
func (r *EntryRepository) RemoveForInstallment(ctx context.Context, chargeID string, number int, at time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("ledger repo: nil db")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := r.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketLedgerEntries)
		if err != nil {
			return err
		}
		var hits []*ledger.Entry
		err = forEach(b, func(e *ledger.Entry) bool {
			if e.Active() && e.MatchesInstallment(chargeID, number) {
				hits = append(hits, e)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, e := range hits {
			markRemoved(e, at)
			if err := put(b, e); err != nil {
				return err
			}
		}
		removed = len(hits)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ListByVendorAccount returns active vendor-origin entries of an account.
func (r *EntryRepository) ListByVendorAccount(ctx context.Context, accountID string) ([]*ledger.Entry, error) {
	return r.List(ctx, ledger.Filter{Origin: ledger.OriginVendorAccount, VendorAccountID: accountID})
}

// UpdateDescription rewrites the description of one active entry.
func (r *EntryRepository) UpdateDescription(ctx context.Context, id, description string, at time.Time) error {
	return r.mutate(ctx, id, func(e *ledger.Entry) error {
		if !e.Active() {
			return ledger.ErrEntryNotFound
		}
		e.Description = description
		e.UpdatedAt = at
		return nil
	})
}

// Remove soft-deletes one entry.
func (r *EntryRepository) Remove(ctx context.Context, id string, at time.Time) error {
	return r.mutate(ctx, id, func(e *ledger.Entry) error {
		if e.Active() {
			markRemoved(e, at)
		}
		return nil
	})
}

func (r *EntryRepository) mutate(ctx context.Context, id string, fn func(*ledger.Entry) error) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketLedgerEntries)
		if err != nil {
			return err
		}
		v := b.Get([]byte(id))
		if v == nil {
			return ledger.ErrEntryNotFound
		}
		e, err := decode(v)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		return put(b, e)
	})
}

func markRemoved(e *ledger.Entry, at time.Time) {
	e.Status = ledger.StatusRemoved
	e.UpdatedAt = at
	removedAt := at
	e.RemovedAt = &removedAt
}

// forEach decodes every entry; fn returns false to stop.
func forEach(b *bolt.Bucket, fn func(*ledger.Entry) bool) error {
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		e, err := decode(v)
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
	return nil
}

func put(b *bolt.Bucket, e *ledger.Entry) error {
	data, err := json.Marshal(entryDoc{
		ID:                e.ID,
		Description:       e.Description,
		Amount:            e.Amount,
		Date:              e.Date,
		Branch:            e.Branch,
		Category:          e.Category,
		Type:              string(e.Type),
		Status:            string(e.Status),
		Origin:            string(e.Origin),
		ChargeID:          e.ChargeID,
		InstallmentNumber: e.InstallmentNumber,
		VendorAccountID:   e.VendorAccountID,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
		RemovedAt:         e.RemovedAt,
	})
	if err != nil {
		return err
	}
	return b.Put([]byte(e.ID), data)
}

func decode(v []byte) (*ledger.Entry, error) {
	var d entryDoc
	if err := json.Unmarshal(v, &d); err != nil {
		return nil, err
	}
	return &ledger.Entry{
		ID:                d.ID,
		Description:       d.Description,
		Amount:            d.Amount,
		Date:              d.Date,
		Branch:            d.Branch,
		Category:          d.Category,
		Type:              ledger.EntryType(d.Type),
		Status:            ledger.EntryStatus(d.Status),
		Origin:            ledger.Origin(d.Origin),
		ChargeID:          d.ChargeID,
		InstallmentNumber: d.InstallmentNumber,
		VendorAccountID:   d.VendorAccountID,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		RemovedAt:         d.RemovedAt,
	}, nil
}
