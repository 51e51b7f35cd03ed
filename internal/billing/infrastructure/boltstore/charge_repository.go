package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/shopspring/decimal"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/storage/boltdb"
)

// ChargeRepository stores charge documents with one nested history bucket
// per charge. Bolt serializes writers, so Update never conflicts.
type ChargeRepository struct {
	db  *bolt.DB
	now func() time.Time
}

// NewChargeRepository constructs a repository.
func NewChargeRepository(db *bolt.DB) *ChargeRepository {
	return &ChargeRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type chargeDoc struct {
	ID                    string            `json:"id"`
	PayerTaxID            string            `json:"payer_tax_id"`
	PayerName             string            `json:"payer_name"`
	Service               string            `json:"service"`
	Branch                string            `json:"branch"`
	InstallmentAmount     decimal.Decimal   `json:"installment_amount"`
	TotalAmount           decimal.Decimal   `json:"total_amount"`
	InstallmentCount      int               `json:"installment_count"`
	FirstDueDate          string            `json:"first_due_date"`
	Status                string            `json:"status"`
	PaidInstallments      []int             `json:"paid_installments"`
	CancelledInstallments []int             `json:"cancelled_installments"`
	CancelledAt           map[int]time.Time `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// Create inserts a charge and its initial history.
func (r *ChargeRepository) Create(ctx context.Context, charge *billing.Charge) error {
	if r == nil || r.db == nil {
		return errors.New("charge repo: nil db")
	}
	if charge == nil {
		return billing.ErrNilCharge
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		charges, err := boltdb.Bucket(tx, boltdb.BucketCharges)
		if err != nil {
			return err
		}
		if charges.Get([]byte(charge.ID)) != nil {
			return billing.ErrChargeExists
		}
		now := r.now()
		if charge.CreatedAt.IsZero() {
			charge.CreatedAt = now
		}
		charge.UpdatedAt = now
		if err := putCharge(charges, charge); err != nil {
			return err
		}
		return appendHistory(tx, charge.ID, charge.History)
	})
}

// Get loads a charge with its full history.
func (r *ChargeRepository) Get(ctx context.Context, id string) (*billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *billing.Charge
	err := r.db.View(func(tx *bolt.Tx) error {
		c, err := loadCharge(tx, id)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns charges ordered by id.
func (r *ChargeRepository) List(ctx context.Context, filter billing.ChargeFilter) ([]*billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []*billing.Charge{}
	err := r.db.View(func(tx *bolt.Tx) error {
		charges, err := boltdb.Bucket(tx, boltdb.BucketCharges)
		if err != nil {
			return err
		}
		cursor := charges.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var doc chargeDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if filter.Branch != "" && !strings.EqualFold(doc.Branch, filter.Branch) {
				continue
			}
			c := doc.toDomain()
			history, err := readHistory(tx, doc.ID)
			if err != nil {
				return err
			}
			c.History = history
			out = append(out, c)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies fn to the stored charge inside one write transaction and
// appends only the new history records.
func (r *ChargeRepository) Update(ctx context.Context, id string, fn billing.MergeFunc) (*billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	if fn == nil {
		return nil, errors.New("charge repo: nil merge func")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *billing.Charge
	err := r.db.Update(func(tx *bolt.Tx) error {
		current, err := loadCharge(tx, id)
		if err != nil {
			return err
		}
		stored := current.Clone().History
		if err := fn(current); err != nil {
			return err
		}
		if !billing.HistoryExtends(stored, current.History) {
			return billing.ErrHistoryRewrite
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		current.ID = id
		current.UpdatedAt = r.now()
		charges, err := boltdb.Bucket(tx, boltdb.BucketCharges)
		if err != nil {
			return err
		}
		if err := putCharge(charges, current); err != nil {
			return err
		}
		if err := appendHistory(tx, id, current.History[len(stored):]); err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadCharge(tx *bolt.Tx, id string) (*billing.Charge, error) {
	charges, err := boltdb.Bucket(tx, boltdb.BucketCharges)
	if err != nil {
		return nil, err
	}
	v := charges.Get([]byte(id))
	if v == nil {
		return nil, billing.ErrChargeNotFound
	}
	var doc chargeDoc
	if err := json.Unmarshal(v, &doc); err != nil {
		return nil, err
	}
	c := doc.toDomain()
	history, err := readHistory(tx, id)
	if err != nil {
		return nil, err
	}
	c.History = history
	return c, nil
}

func putCharge(b *bolt.Bucket, c *billing.Charge) error {
	data, err := json.Marshal(fromDomain(c))
	if err != nil {
		return err
	}
	return b.Put([]byte(c.ID), data)
}

func readHistory(tx *bolt.Tx, id string) ([]billing.HistoryRecord, error) {
	root, err := boltdb.Bucket(tx, boltdb.BucketChargeHistory)
	if err != nil {
		return nil, err
	}
	b := root.Bucket([]byte(id))
	if b == nil {
		return nil, nil
	}
	var out []billing.HistoryRecord
	err = b.ForEach(func(_, v []byte) error {
		out = append(out, billing.NewHistoryRecord(v))
		return nil
	})
	return out, err
}

func appendHistory(tx *bolt.Tx, id string, records []billing.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	root, err := boltdb.Bucket(tx, boltdb.BucketChargeHistory)
	if err != nil {
		return err
	}
	b, err := root.CreateBucketIfNotExists([]byte(id))
	if err != nil {
		return err
	}
	for _, rec := range records {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(boltdb.Itob(seq), rec.Raw()); err != nil {
			return err
		}
	}
	return nil
}

func fromDomain(c *billing.Charge) chargeDoc {
	return chargeDoc{
		ID:                    c.ID,
		PayerTaxID:            c.PayerTaxID,
		PayerName:             c.PayerName,
		Service:               c.Service,
		Branch:                c.Branch,
		InstallmentAmount:     c.InstallmentAmount,
		TotalAmount:           c.TotalAmount,
		InstallmentCount:      c.InstallmentCount,
		FirstDueDate:          c.FirstDueDate,
		Status:                c.Status,
		PaidInstallments:      []int(c.PaidInstallments),
		CancelledInstallments: []int(c.CancelledInstallments),
		CancelledAt:           c.CancelledAt,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func (d chargeDoc) toDomain() *billing.Charge {
	cancelledAt := make(map[int]time.Time, len(d.CancelledAt))
	for k, v := range d.CancelledAt {
		cancelledAt[k] = v
	}
	return &billing.Charge{
		ID:                    d.ID,
		PayerTaxID:            d.PayerTaxID,
		PayerName:             d.PayerName,
		Service:               d.Service,
		Branch:                d.Branch,
		InstallmentAmount:     d.InstallmentAmount,
		TotalAmount:           d.TotalAmount,
		InstallmentCount:      d.InstallmentCount,
		FirstDueDate:          d.FirstDueDate,
		Status:                d.Status,
		PaidInstallments:      billing.NewInstallmentSet(d.PaidInstallments...),
		CancelledInstallments: billing.NewInstallmentSet(d.CancelledInstallments...),
		CancelledAt:           cancelledAt,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}
