package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	billing "finance-backoffice/internal/billing/domain"
	pgstore "finance-backoffice/internal/storage/postgres"
)

const defaultLockTimeout = "2s"

// ChargeRepository persists charges in charges with history rows in
// charge_history. History rows are insert-only.
type ChargeRepository struct {
	db          *sql.DB
	lockTimeout string
	now         func() time.Time
}

// ChargeRepositoryOption configures the repository.
type ChargeRepositoryOption func(*ChargeRepository)

// WithLockTimeout bounds how long Update waits for the row lock.
func WithLockTimeout(d time.Duration) ChargeRepositoryOption {
	return func(r *ChargeRepository) {
		if d > 0 {
			r.lockTimeout = fmt.Sprintf("%dms", d.Milliseconds())
		}
	}
}

// NewChargeRepository constructs a repository.
func NewChargeRepository(db *sql.DB, opts ...ChargeRepositoryOption) *ChargeRepository {
	r := &ChargeRepository{db: db, lockTimeout: defaultLockTimeout, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

const chargeColumns = `id, payer_tax_id, payer_name, service, branch, installment_amount, total_amount,
	installment_count, first_due_date, status, paid_installments, cancelled_installments, cancelled_at,
	created_at, updated_at`

// Create inserts a charge and its initial history in one transaction.
func (r *ChargeRepository) Create(ctx context.Context, charge *billing.Charge) error {
	if r == nil || r.db == nil {
		return errors.New("charge repo: nil db")
	}
	if charge == nil {
		return billing.ErrNilCharge
	}
	now := r.now()
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = now
	}
	charge.UpdatedAt = now
	sets, err := encodeSets(charge)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO charges (`+chargeColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		charge.ID, charge.PayerTaxID, charge.PayerName, charge.Service, charge.Branch,
		charge.InstallmentAmount, charge.TotalAmount, charge.InstallmentCount, charge.FirstDueDate, charge.Status,
		string(sets.paid), string(sets.cancelled), string(sets.cancelledAt), charge.CreatedAt, charge.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		if pgstore.IsUniqueViolation(err) {
			return billing.ErrChargeExists
		}
		return err
	}
	if err := insertHistory(ctx, tx, charge.ID, 0, charge.History, now); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Get loads a charge with its full history.
func (r *ChargeRepository) Get(ctx context.Context, id string) (*billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = $1`, id)
	c, err := scanCharge(row)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, billing.ErrChargeNotFound
	}
	history, err := loadHistory(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	c.History = history
	return c, nil
}

// List returns charges ordered by id.
func (r *ChargeRepository) List(ctx context.Context, filter billing.ChargeFilter) ([]*billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	query := `SELECT ` + chargeColumns + ` FROM charges`
	var args []any
	if filter.Branch != "" {
		args = append(args, filter.Branch)
		query += ` WHERE lower(branch) = lower($1)`
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*billing.Charge{}
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range out {
		history, err := loadHistory(ctx, r.db, c.ID)
		if err != nil {
			return nil, err
		}
		c.History = history
	}
	return out, nil
}

// Update locks the charge row, applies fn and persists the result with the
// new history rows. Lost races surface as billing.ErrTransactionConflict.
func (r *ChargeRepository) Update(ctx context.Context, id string, fn billing.MergeFunc) (*billing.Charge, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("charge repo: nil db")
	}
	if fn == nil {
		return nil, errors.New("charge repo: nil merge func")
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classify(err)
	}
	out, err := r.updateTx(ctx, tx, id, fn)
	if err != nil {
		_ = tx.Rollback()
		return nil, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *ChargeRepository) updateTx(ctx context.Context, tx *sql.Tx, id string, fn billing.MergeFunc) (*billing.Charge, error) {
	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '`+r.lockTimeout+`'`); err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = $1 FOR UPDATE`, id)
	current, err := scanCharge(row)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, billing.ErrChargeNotFound
	}
	stored, err := loadHistory(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	current.History = stored
	stored = current.Clone().History

	if err := fn(current); err != nil {
		return nil, err
	}
	if !billing.HistoryExtends(stored, current.History) {
		return nil, billing.ErrHistoryRewrite
	}

	now := r.now()
	current.ID = id
	current.UpdatedAt = now
	sets, err := encodeSets(current)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE charges SET
	payer_tax_id = $2, payer_name = $3, service = $4, branch = $5,
	installment_amount = $6, total_amount = $7, installment_count = $8, first_due_date = $9,
	status = $10, paid_installments = $11, cancelled_installments = $12, cancelled_at = $13,
	updated_at = $14
WHERE id = $1`,
		id, current.PayerTaxID, current.PayerName, current.Service, current.Branch,
		current.InstallmentAmount, current.TotalAmount, current.InstallmentCount, current.FirstDueDate,
		current.Status, string(sets.paid), string(sets.cancelled), string(sets.cancelledAt), now,
	)
	if err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, id, len(stored), current.History[len(stored):], now); err != nil {
		return nil, err
	}
	return current, nil
}

// classify maps lost races onto the domain conflict error. A duplicate
// history sequence means a concurrent writer appended first.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if pgstore.IsConflict(err) || (pgstore.IsUniqueViolation(err) && pgstore.ConstraintName(err) == "charge_history_pkey") {
		return fmt.Errorf("%w: %v", billing.ErrTransactionConflict, err)
	}
	return err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadHistory(ctx context.Context, q queryer, chargeID string) ([]billing.HistoryRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT entry FROM charge_history WHERE charge_id = $1 ORDER BY seq`, chargeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []billing.HistoryRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, billing.NewHistoryRecord(raw))
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx *sql.Tx, chargeID string, offset int, records []billing.HistoryRecord, at time.Time) error {
	for i, rec := range records {
		_, err := tx.ExecContext(ctx, `
INSERT INTO charge_history (charge_id, seq, entry, created_at)
VALUES ($1,$2,$3,$4)`, chargeID, offset+i+1, string(rec.Raw()), at)
		if err != nil {
			return err
		}
	}
	return nil
}

type encodedSets struct {
	paid        []byte
	cancelled   []byte
	cancelledAt []byte
}

func encodeSets(c *billing.Charge) (encodedSets, error) {
	var out encodedSets
	var err error
	if out.paid, err = json.Marshal(c.PaidInstallments); err != nil {
		return out, err
	}
	if out.cancelled, err = json.Marshal(c.CancelledInstallments); err != nil {
		return out, err
	}
	cancelledAt := c.CancelledAt
	if cancelledAt == nil {
		cancelledAt = map[int]time.Time{}
	}
	if out.cancelledAt, err = json.Marshal(cancelledAt); err != nil {
		return out, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharge(row rowScanner) (*billing.Charge, error) {
	var (
		c                 billing.Charge
		installmentAmount decimal.Decimal
		totalAmount       decimal.Decimal
		paid, cancelled   []byte
		cancelledAt       []byte
	)
	err := row.Scan(
		&c.ID, &c.PayerTaxID, &c.PayerName, &c.Service, &c.Branch, &installmentAmount, &totalAmount,
		&c.InstallmentCount, &c.FirstDueDate, &c.Status, &paid, &cancelled, &cancelledAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.InstallmentAmount = installmentAmount
	c.TotalAmount = totalAmount
	if err := decodeSet(paid, &c.PaidInstallments); err != nil {
		return nil, err
	}
	if err := decodeSet(cancelled, &c.CancelledInstallments); err != nil {
		return nil, err
	}
	c.CancelledAt = map[int]time.Time{}
	if len(strings.TrimSpace(string(cancelledAt))) > 0 {
		if err := json.Unmarshal(cancelledAt, &c.CancelledAt); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func decodeSet(raw []byte, out *billing.InstallmentSet) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		*out = billing.InstallmentSet{}
		return nil
	}
	return json.Unmarshal(raw, out)
}
