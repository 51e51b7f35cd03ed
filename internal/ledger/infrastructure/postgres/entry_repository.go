package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	ledger "finance-backoffice/internal/ledger/domain"
	pgstore "finance-backoffice/internal/storage/postgres"
)

const activeInstallmentIndex = "ledger_active_installment"

// EntryRepository persists statement rows in ledger_entries. The partial
// unique index ledger_active_installment backs the one-active-entry rule.
type EntryRepository struct {
	db *sql.DB
}

// NewEntryRepository constructs a repository.
func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

const entryColumns = `id, description, amount, entry_date, branch, category, entry_type, status, origin,
	charge_id, installment_number, vendor_account_id, created_at, updated_at, removed_at`

// Insert stores a new entry.
func (r *EntryRepository) Insert(ctx context.Context, entry *ledger.Entry) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	if entry == nil {
		return ledger.ErrNilEntry
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ledger_entries (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		entry.ID, entry.Description, entry.Amount, entry.Date, entry.Branch, entry.Category,
		string(entry.Type), string(entry.Status), string(entry.Origin),
		nullString(entry.ChargeID), nullInt(entry.InstallmentNumber), nullString(entry.VendorAccountID),
		entry.CreatedAt, entry.UpdatedAt, entry.RemovedAt,
	)
	if err != nil {
		if pgstore.IsUniqueViolation(err) && pgstore.ConstraintName(err) == activeInstallmentIndex {
			return ledger.ErrDuplicateActive
		}
		return err
	}
	return nil
}

// Get fetches one entry.
func (r *EntryRepository) Get(ctx context.Context, id string) (*ledger.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ledger.ErrEntryNotFound
	}
	return e, nil
}

// List returns entries matching filter ordered by date then id.
func (r *EntryRepository) List(ctx context.Context, filter ledger.Filter) ([]*ledger.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !filter.IncludeRemoved {
		add("status = $%d", string(ledger.StatusActive))
	}
	if filter.Branch != "" {
		add("branch = $%d", filter.Branch)
	}
	if filter.Origin != "" {
		add("origin = $%d", string(filter.Origin))
	}
	if filter.ChargeID != "" {
		add("charge_id = $%d", filter.ChargeID)
	}
	if filter.VendorAccountID != "" {
		add("vendor_account_id = $%d", filter.VendorAccountID)
	}
	if !filter.From.IsZero() {
		add("entry_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("entry_date < $%d", filter.To)
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY entry_date ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*ledger.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoveForInstallment soft-deletes active derived entries of the pair.
func (r *EntryRepository) RemoveForInstallment(ctx context.Context, chargeID string, number int, at time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("ledger repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE ledger_entries
SET status = 'removed', removed_at = $3, updated_at = $3
WHERE charge_id = $1 AND installment_number = $2 AND origin = 'charge' AND status = 'active'`,
		chargeID, number, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListByVendorAccount returns active vendor-origin entries of an account.
func (r *EntryRepository) ListByVendorAccount(ctx context.Context, accountID string) ([]*ledger.Entry, error) {
	return r.List(ctx, ledger.Filter{Origin: ledger.OriginVendorAccount, VendorAccountID: accountID})
}

// UpdateDescription rewrites the description of one active entry.
func (r *EntryRepository) UpdateDescription(ctx context.Context, id, description string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE ledger_entries SET description = $2, updated_at = $3
WHERE id = $1 AND status = 'active'`, id, description, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

// Remove soft-deletes one entry.
func (r *EntryRepository) Remove(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE ledger_entries SET status = 'removed', removed_at = $2, updated_at = $2
WHERE id = $1 AND status = 'active'`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ledger.ErrEntryNotFound
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		e                 ledger.Entry
		entryType         string
		status            string
		origin            string
		chargeID          sql.NullString
		installmentNumber sql.NullInt64
		vendorAccountID   sql.NullString
		removedAt         sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.Description, &e.Amount, &e.Date, &e.Branch, &e.Category, &entryType, &status, &origin,
		&chargeID, &installmentNumber, &vendorAccountID, &e.CreatedAt, &e.UpdatedAt, &removedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Type = ledger.EntryType(entryType)
	e.Status = ledger.EntryStatus(status)
	e.Origin = ledger.Origin(origin)
	e.ChargeID = chargeID.String
	e.InstallmentNumber = int(installmentNumber.Int64)
	e.VendorAccountID = vendorAccountID.String
	if removedAt.Valid {
		t := removedAt.Time
		e.RemovedAt = &t
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
