package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	billing "finance-backoffice/internal/billing/domain"
	ledger "finance-backoffice/internal/ledger/domain"
	"finance-backoffice/internal/observability/metrics"
)

// InstallmentCategory is the statement category of derived entries.
const InstallmentCategory = "installment_payment"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Synchronizer keeps derived statement entries in step with installment
// payments. Both operations are idempotent and safe to repeat.
type Synchronizer struct {
	repo   ledger.EntryRepository
	clock  Clock
	logger zerolog.Logger
}

// NewSynchronizer constructs a synchronizer.
func NewSynchronizer(repo ledger.EntryRepository, clock Clock, logger zerolog.Logger) (*Synchronizer, error) {
	if repo == nil {
		return nil, errors.New("ledger synchronizer: nil repo")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Synchronizer{repo: repo, clock: clock, logger: logger}, nil
}

// CreateFromInstallmentPayment leaves exactly one active credit entry for
// the installment. Any existing active entry of the pair is removed first.
func (s *Synchronizer) CreateFromInstallmentPayment(ctx context.Context, source *billing.Charge, number int, amount decimal.Decimal) (*ledger.Entry, error) {
	result := metrics.ResultSuccess
	defer func() { metrics.IncLedgerSync("create", result) }()

	if source == nil {
		result = metrics.ResultError
		return nil, billing.ErrNilCharge
	}
	if source.ID == "" {
		result = metrics.ResultError
		return nil, billing.ErrEmptyChargeID
	}
	if number < 1 {
		result = metrics.ResultError
		return nil, billing.ErrInvalidInstallment
	}

	now := s.clock.Now().UTC()
	if _, err := s.repo.RemoveForInstallment(ctx, source.ID, number, now); err != nil {
		result = metrics.ResultError
		return nil, fmt.Errorf("ledger synchronizer: clear installment %d: %w", number, err)
	}

	entry := s.buildEntry(source, number, amount, now)
	err := s.repo.Insert(ctx, entry)
	if errors.Is(err, ledger.ErrDuplicateActive) {
		// A concurrent writer inserted between our remove and insert.
		s.logger.Warn().
			Str("charge_id", source.ID).
			Int("installment", number).
			Msg("concurrent ledger insert, retrying once")
		if _, err := s.repo.RemoveForInstallment(ctx, source.ID, number, now); err != nil {
			result = metrics.ResultError
			return nil, fmt.Errorf("ledger synchronizer: clear installment %d: %w", number, err)
		}
		entry = s.buildEntry(source, number, amount, now)
		err = s.repo.Insert(ctx, entry)
	}
	if err != nil {
		result = metrics.ResultError
		return nil, fmt.Errorf("ledger synchronizer: insert installment %d: %w", number, err)
	}
	return entry, nil
}

// RemoveFromInstallmentPayment soft-deletes every active entry of the
// installment. Removing nothing is success.
func (s *Synchronizer) RemoveFromInstallmentPayment(ctx context.Context, chargeID string, number int) (int, error) {
	result := metrics.ResultSuccess
	defer func() { metrics.IncLedgerSync("remove", result) }()

	if chargeID == "" {
		result = metrics.ResultError
		return 0, billing.ErrEmptyChargeID
	}
	removed, err := s.repo.RemoveForInstallment(ctx, chargeID, number, s.clock.Now().UTC())
	if err != nil {
		result = metrics.ResultError
		return 0, fmt.Errorf("ledger synchronizer: remove installment %d: %w", number, err)
	}
	if removed == 0 {
		result = metrics.ResultNoop
	}
	return removed, nil
}

// Reconcile brings the installment's entries in line with the desired
// state: one active entry when paid, none otherwise.
func (s *Synchronizer) Reconcile(ctx context.Context, source *billing.Charge, number int, wantActive bool) error {
	if source == nil {
		return billing.ErrNilCharge
	}
	if !wantActive {
		_, err := s.RemoveFromInstallmentPayment(ctx, source.ID, number)
		return err
	}
	_, err := s.CreateFromInstallmentPayment(ctx, source, number, source.ResolvedAmount())
	return err
}

func (s *Synchronizer) buildEntry(source *billing.Charge, number int, amount decimal.Decimal, now time.Time) *ledger.Entry {
	return &ledger.Entry{
		ID:                uuid.NewString(),
		Description:       describeInstallment(source, number),
		Amount:            amount,
		Date:              now,
		Branch:            source.Branch,
		Category:          InstallmentCategory,
		Type:              ledger.TypeCredit,
		Status:            ledger.StatusActive,
		Origin:            ledger.OriginCharge,
		ChargeID:          source.ID,
		InstallmentNumber: number,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func describeInstallment(c *billing.Charge, number int) string {
	desc := fmt.Sprintf("Installment %d/%d", number, c.Count())
	if c.Service != "" {
		desc += " - " + c.Service
	}
	if c.PayerName != "" {
		desc += " - " + c.PayerName
	}
	return desc
}
