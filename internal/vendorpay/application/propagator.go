package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"finance-backoffice/internal/failure"
	ledger "finance-backoffice/internal/ledger/domain"
	"finance-backoffice/internal/observability/metrics"
	vendorpay "finance-backoffice/internal/vendorpay/domain"
)

// Alerter receives warnings of committed account writes.
type Alerter interface {
	NotifyWarnings(ctx context.Context, source, subject string, warnings []*failure.PartialFailure)
}

// VendorCategory is the default statement category of spawned entries.
const VendorCategory = "vendor_payment"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// CreateInput describes a new vendor account.
type CreateInput struct {
	Description string
	Kind        vendorpay.Kind
	Beneficiary string
	Amount      decimal.Decimal
	DueDate     time.Time
	Branch      string
	Category    string
	// SpawnEntry also records the obligation as a debit on the statement.
	SpawnEntry bool
}

// Result is the outcome of a propagating operation. The account write
// has committed whenever Account is set; Warnings list downstream steps
// that did not complete.
type Result struct {
	Account  *vendorpay.Account
	Entries  int
	Warnings []*failure.PartialFailure
}

// Propagator mirrors vendor account state onto the statement entries the
// account spawned.
type Propagator struct {
	accounts vendorpay.AccountRepository
	entries  ledger.EntryRepository
	clock    Clock
	alerts   Alerter
	logger   zerolog.Logger
}

// NewPropagator constructs a propagator.
func NewPropagator(accounts vendorpay.AccountRepository, entries ledger.EntryRepository, clock Clock, logger zerolog.Logger) (*Propagator, error) {
	if accounts == nil {
		return nil, errors.New("vendor propagator: nil account repo")
	}
	if entries == nil {
		return nil, errors.New("vendor propagator: nil entry repo")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Propagator{accounts: accounts, entries: entries, clock: clock, logger: logger}, nil
}

// SetAlerter routes cascade warnings to a. Nil disables alerts.
func (p *Propagator) SetAlerter(a Alerter) {
	p.alerts = a
}

// Create stores a waiting account and optionally its debit entry. A
// failed entry insert is a warning; the account stays.
func (p *Propagator) Create(ctx context.Context, in CreateInput) (*Result, error) {
	now := p.clock.Now().UTC()
	account := &vendorpay.Account{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(in.Description),
		Kind:        in.Kind,
		Beneficiary: in.Beneficiary,
		Amount:      in.Amount,
		DueDate:     in.DueDate,
		Branch:      in.Branch,
		Category:    in.Category,
		Status:      vendorpay.StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		metrics.IncPropagation("create", metrics.ResultError)
		return nil, err
	}
	result := &Result{Account: account}
	if !in.SpawnEntry {
		metrics.IncPropagation("create", metrics.ResultSuccess)
		return result, nil
	}

	entry := spawnedEntry(account, now)
	if err := p.entries.Insert(ctx, entry); err != nil {
		p.logger.Warn().Err(err).Str("account_id", account.ID).Msg("vendor entry insert failed")
		result.Warnings = append(result.Warnings, failure.Partial("ledger entry create", err))
		metrics.IncPropagation("create", metrics.ResultPartial)
		return result, nil
	}
	result.Entries = 1
	metrics.IncPropagation("create", metrics.ResultSuccess)
	return result, nil
}

// ChangeStatus writes the account status, then rewrites the status tag of
// every active entry the account spawned. Only descriptions change.
func (p *Propagator) ChangeStatus(ctx context.Context, accountID string, to vendorpay.Status) (*Result, error) {
	to, err := vendorpay.ParseStatus(string(to))
	if err != nil {
		return nil, err
	}
	account, err := p.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !vendorpay.CanTransition(account.Status, to) {
		return nil, failure.Validationf(vendorpay.ErrInvalidTransition, "status", "%s to %s", account.Status, to)
	}

	now := p.clock.Now().UTC()
	if err := p.accounts.UpdateStatus(ctx, accountID, to, now); err != nil {
		metrics.IncPropagation("status", metrics.ResultError)
		return nil, err
	}
	account.Status = to
	account.UpdatedAt = now
	result := &Result{Account: account}

	entries, err := p.entries.ListByVendorAccount(ctx, accountID)
	if err != nil {
		p.logger.Warn().Err(err).Str("account_id", accountID).Msg("vendor entry lookup failed")
		result.Warnings = append(result.Warnings, failure.Partial("ledger marker update", err))
		metrics.IncPropagation("status", metrics.ResultPartial)
		return result, nil
	}
	for _, e := range entries {
		desc := vendorpay.ApplyMarker(e.Description, to)
		if desc == e.Description {
			continue
		}
		if err := p.entries.UpdateDescription(ctx, e.ID, desc, now); err != nil {
			p.logger.Warn().Err(err).Str("account_id", accountID).Str("entry_id", e.ID).Msg("vendor marker update failed")
			result.Warnings = append(result.Warnings, failure.Partial(fmt.Sprintf("ledger marker update %s", e.ID), err))
			continue
		}
		result.Entries++
	}
	metrics.IncPropagation("status", outcome(result))
	return result, nil
}

// Delete soft-deletes the account, then every entry it spawned. Cascade
// failures are returned as warnings needing manual intervention.
func (p *Propagator) Delete(ctx context.Context, accountID string) (*Result, error) {
	account, err := p.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := p.clock.Now().UTC()
	if err := p.accounts.SoftDelete(ctx, accountID, now); err != nil {
		metrics.IncPropagation("delete", metrics.ResultError)
		return nil, err
	}
	account.DeletedAt = &now
	result := &Result{Account: account}

	entries, err := p.entries.ListByVendorAccount(ctx, accountID)
	if err != nil {
		result.Warnings = append(result.Warnings, manual("ledger cascade delete", err))
	}
	for _, e := range entries {
		if err := p.entries.Remove(ctx, e.ID, now); err != nil {
			result.Warnings = append(result.Warnings, manual(fmt.Sprintf("ledger cascade delete %s", e.ID), err))
			continue
		}
		result.Entries++
	}
	for _, w := range result.Warnings {
		p.logger.Error().Err(w.Err).Str("account_id", accountID).Str("step", w.Step).Msg("vendor cascade incomplete")
	}
	if p.alerts != nil && len(result.Warnings) > 0 {
		p.alerts.NotifyWarnings(ctx, "vendor_account", accountID, result.Warnings)
	}
	metrics.IncPropagation("delete", outcome(result))
	return result, nil
}

// List returns live accounts of a branch, or all when branch is empty.
func (p *Propagator) List(ctx context.Context, branch string) ([]*vendorpay.Account, error) {
	return p.accounts.List(ctx, branch)
}

func spawnedEntry(a *vendorpay.Account, now time.Time) *ledger.Entry {
	date := a.DueDate
	if date.IsZero() {
		date = now
	}
	category := a.Category
	if category == "" {
		category = VendorCategory
	}
	desc := a.Description
	if a.Beneficiary != "" {
		desc += " - " + a.Beneficiary
	}
	return &ledger.Entry{
		ID:              uuid.NewString(),
		Description:     vendorpay.ApplyMarker(desc, a.Status),
		Amount:          a.Amount.Abs().Neg(),
		Date:            date,
		Branch:          a.Branch,
		Category:        category,
		Type:            ledger.TypeDebit,
		Status:          ledger.StatusActive,
		Origin:          ledger.OriginVendorAccount,
		VendorAccountID: a.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func manual(step string, err error) *failure.PartialFailure {
	w := failure.Partial(step, err)
	w.ManualIntervention = true
	return w
}

func outcome(r *Result) string {
	if len(r.Warnings) > 0 {
		return metrics.ResultPartial
	}
	return metrics.ResultSuccess
}
