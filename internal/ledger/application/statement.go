package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finance-backoffice/internal/failure"
	ledger "finance-backoffice/internal/ledger/domain"
)

// ErrDerivedEntry is returned when removing an entry owned by a charge or
// vendor account.
var ErrDerivedEntry = errors.New("ledger: entry is derived")

// ManualEntryInput is an operator-submitted statement row.
type ManualEntryInput struct {
	Description string
	Amount      decimal.Decimal
	Date        time.Time
	Branch      string
	Category    string
	Type        ledger.EntryType
}

// Statement is the ledger of a branch over a period.
type Statement struct {
	Branch  string
	From    time.Time
	To      time.Time
	Entries []*ledger.Entry
	Credits decimal.Decimal
	Debits  decimal.Decimal
	Balance decimal.Decimal
}

// StatementService handles manual entries and statement reads.
type StatementService struct {
	repo  ledger.EntryRepository
	clock Clock
}

// NewStatementService constructs a service.
func NewStatementService(repo ledger.EntryRepository, clock Clock) (*StatementService, error) {
	if repo == nil {
		return nil, errors.New("statement service: nil repo")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &StatementService{repo: repo, clock: clock}, nil
}

// CreateManual stores a manual entry. Debits are stored negative and
// credits positive regardless of the submitted sign.
func (s *StatementService) CreateManual(ctx context.Context, in ManualEntryInput) (*ledger.Entry, error) {
	now := s.clock.Now().UTC()
	entry := &ledger.Entry{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(in.Description),
		Amount:      signed(in.Type, in.Amount),
		Date:        in.Date,
		Branch:      in.Branch,
		Category:    in.Category,
		Type:        in.Type,
		Status:      ledger.StatusActive,
		Origin:      ledger.OriginManual,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Remove soft-deletes a manual entry. Derived entries follow their source
// and cannot be removed here.
func (s *StatementService) Remove(ctx context.Context, id string) error {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return ledger.ErrEntryNotFound
	}
	if entry.Origin != ledger.OriginManual {
		return failure.Validationf(ErrDerivedEntry, "id", "entry %s follows %s", id, entry.Origin)
	}
	return s.repo.Remove(ctx, id, s.clock.Now().UTC())
}

// Statement lists entries matching filter with totals of the active ones.
func (s *StatementService) Statement(ctx context.Context, filter ledger.Filter) (*Statement, error) {
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	credits, debits := ledger.Totals(entries)
	return &Statement{
		Branch:  filter.Branch,
		From:    filter.From,
		To:      filter.To,
		Entries: entries,
		Credits: credits,
		Debits:  debits,
		Balance: credits.Add(debits),
	}, nil
}

func signed(t ledger.EntryType, amount decimal.Decimal) decimal.Decimal {
	if t == ledger.TypeDebit {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}
