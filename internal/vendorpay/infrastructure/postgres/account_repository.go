package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	pgstore "finance-backoffice/internal/storage/postgres"
	vendorpay "finance-backoffice/internal/vendorpay/domain"
)

// AccountRepository persists vendor accounts in vendor_accounts.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository constructs a repository.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, description, kind, beneficiary, amount, due_date, branch, category, status,
	created_at, updated_at, deleted_at`

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, a *vendorpay.Account) error {
	if r == nil || r.db == nil {
		return errors.New("vendor account repo: nil db")
	}
	if a == nil {
		return vendorpay.ErrNilAccount
	}
	var due sql.NullTime
	if !a.DueDate.IsZero() {
		due = sql.NullTime{Time: a.DueDate, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO vendor_accounts (`+accountColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.Description, string(a.Kind), a.Beneficiary, a.Amount, due, a.Branch, a.Category,
		string(a.Status), a.CreatedAt, a.UpdatedAt, a.DeletedAt,
	)
	if pgstore.IsUniqueViolation(err) {
		return vendorpay.ErrAccountExists
	}
	return err
}

// Get fetches a live account.
func (r *AccountRepository) Get(ctx context.Context, id string) (*vendorpay.Account, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vendor account repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM vendor_accounts WHERE id = $1 AND deleted_at IS NULL`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, vendorpay.ErrAccountNotFound
	}
	return a, nil
}

// List returns live accounts, optionally for one branch, by due date.
func (r *AccountRepository) List(ctx context.Context, branch string) ([]*vendorpay.Account, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vendor account repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+accountColumns+`
FROM vendor_accounts
WHERE deleted_at IS NULL AND ($1 = '' OR branch = $1)
ORDER BY due_date ASC NULLS LAST, id ASC`, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*vendorpay.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateStatus writes the status of a live account.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status vendorpay.Status, at time.Time) error {
	return r.exec(ctx, `
UPDATE vendor_accounts SET status = $2, updated_at = $3
WHERE id = $1 AND deleted_at IS NULL`, id, string(status), at)
}

// SoftDelete marks a live account deleted.
func (r *AccountRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
UPDATE vendor_accounts SET deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL`, id, at)
}

func (r *AccountRepository) exec(ctx context.Context, query string, args ...any) error {
	if r == nil || r.db == nil {
		return errors.New("vendor account repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return vendorpay.ErrAccountNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*vendorpay.Account, error) {
	var (
		a         vendorpay.Account
		kind      string
		status    string
		due       sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Description, &kind, &a.Beneficiary, &a.Amount, &due, &a.Branch, &a.Category,
		&status, &a.CreatedAt, &a.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Kind = vendorpay.Kind(kind)
	a.Status = vendorpay.Status(status)
	if due.Valid {
		a.DueDate = due.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		a.DeletedAt = &t
	}
	return &a, nil
}
