package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/shopspring/decimal"

	"finance-backoffice/internal/storage/boltdb"
	vendorpay "finance-backoffice/internal/vendorpay/domain"
)

// AccountRepository stores vendor accounts as JSON documents keyed by id.
type AccountRepository struct {
	db *bolt.DB
}

// NewAccountRepository constructs a repository.
func NewAccountRepository(db *bolt.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

type accountDoc struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Kind        string          `json:"kind"`
	Beneficiary string          `json:"beneficiary"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     time.Time       `json:"due_date"`
	Branch      string          `json:"branch"`
	Category    string          `json:"category"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, a *vendorpay.Account) error {
	if r == nil || r.db == nil {
		return errors.New("vendor account repo: nil db")
	}
	if a == nil {
		return vendorpay.ErrNilAccount
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketVendorAccounts)
		if err != nil {
			return err
		}
		if b.Get([]byte(a.ID)) != nil {
			return vendorpay.ErrAccountExists
		}
		return putAccount(b, a)
	})
}

// Get fetches a live account.
func (r *AccountRepository) Get(ctx context.Context, id string) (*vendorpay.Account, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vendor account repo: nil db")
	}
	var out *vendorpay.Account
	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketVendorAccounts)
		if err != nil {
			return err
		}
		a, err := getLive(b, id)
		out = a
		return err
	})
	return out, err
}

// List returns live accounts, optionally for one branch, by due date.
func (r *AccountRepository) List(ctx context.Context, branch string) ([]*vendorpay.Account, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vendor account repo: nil db")
	}
	out := []*vendorpay.Account{}
	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketVendorAccounts)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			a, err := decodeAccount(v)
			if err != nil {
				return err
			}
			if a.Deleted() || (branch != "" && a.Branch != branch) {
				return nil
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateStatus writes the status of a live account.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status vendorpay.Status, at time.Time) error {
	return r.mutate(ctx, id, func(a *vendorpay.Account) {
		a.Status = status
		a.UpdatedAt = at
	})
}

// SoftDelete marks a live account deleted.
func (r *AccountRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.mutate(ctx, id, func(a *vendorpay.Account) {
		deletedAt := at
		a.DeletedAt = &deletedAt
		a.UpdatedAt = at
	})
}

func (r *AccountRepository) mutate(ctx context.Context, id string, fn func(*vendorpay.Account)) error {
	if r == nil || r.db == nil {
		return errors.New("vendor account repo: nil db")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := boltdb.Bucket(tx, boltdb.BucketVendorAccounts)
		if err != nil {
			return err
		}
		a, err := getLive(b, id)
		if err != nil {
			return err
		}
		fn(a)
		return putAccount(b, a)
	})
}

func getLive(b *bolt.Bucket, id string) (*vendorpay.Account, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, vendorpay.ErrAccountNotFound
	}
	a, err := decodeAccount(v)
	if err != nil {
		return nil, err
	}
	if a.Deleted() {
		return nil, vendorpay.ErrAccountNotFound
	}
	return a, nil
}

func putAccount(b *bolt.Bucket, a *vendorpay.Account) error {
	data, err := json.Marshal(accountDoc{
		ID:          a.ID,
		Description: a.Description,
		Kind:        string(a.Kind),
		Beneficiary: a.Beneficiary,
		Amount:      a.Amount,
		DueDate:     a.DueDate,
		Branch:      a.Branch,
		Category:    a.Category,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		DeletedAt:   a.DeletedAt,
	})
	if err != nil {
		return err
	}
	return b.Put([]byte(a.ID), data)
}

func decodeAccount(v []byte) (*vendorpay.Account, error) {
	var d accountDoc
	if err := json.Unmarshal(v, &d); err != nil {
		return nil, err
	}
	return &vendorpay.Account{
		ID:          d.ID,
		Description: d.Description,
		Kind:        vendorpay.Kind(d.Kind),
		Beneficiary: d.Beneficiary,
		Amount:      d.Amount,
		DueDate:     d.DueDate,
		Branch:      d.Branch,
		Category:    d.Category,
		Status:      vendorpay.Status(d.Status),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		DeletedAt:   d.DeletedAt,
	}, nil
}
