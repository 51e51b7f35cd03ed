package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finance-backoffice/internal/failure"
)

// EntryType is the direction of a statement row.
type EntryType string

const (
	TypeCredit EntryType = "credit"
	TypeDebit  EntryType = "debit"
)

// EntryStatus tells whether a row still counts on the statement.
type EntryStatus string

const (
	StatusActive  EntryStatus = "active"
	StatusRemoved EntryStatus = "removed"
)

// Origin tells who produced a row.
type Origin string

const (
	OriginManual        Origin = "manual"
	OriginCharge        Origin = "charge"
	OriginVendorAccount Origin = "vendor_account"
)

// Entry is a financial statement row.
type Entry struct {
	ID                string
	Description       string
	Amount            decimal.Decimal
	Date              time.Time
	Branch            string
	Category          string
	Type              EntryType
	Status            EntryStatus
	Origin            Origin
	ChargeID          string
	InstallmentNumber int
	VendorAccountID   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	RemovedAt         *time.Time
}

// Active reports whether e is still on the statement.
func (e *Entry) Active() bool {
	return e != nil && e.Status == StatusActive
}

// MatchesInstallment reports whether e was derived from the given
// installment payment.
func (e *Entry) MatchesInstallment(chargeID string, number int) bool {
	return e != nil && e.Origin == OriginCharge && e.ChargeID == chargeID && e.InstallmentNumber == number
}

// Validate checks a manual entry submitted for creation.
func (e *Entry) Validate() error {
	if e == nil {
		return ErrNilEntry
	}
	if strings.TrimSpace(e.Description) == "" {
		return failure.Validation("description", "required")
	}
	if e.Type != TypeCredit && e.Type != TypeDebit {
		return failure.Validationf(ErrInvalidType, "type", "%q", e.Type)
	}
	if e.Date.IsZero() {
		return failure.Validation("date", "required")
	}
	return nil
}

// Filter narrows statement listings.
type Filter struct {
	Branch          string
	From            time.Time
	To              time.Time
	Origin          Origin
	ChargeID        string
	VendorAccountID string
	IncludeRemoved  bool
}

// Match reports whether e passes the filter. To is exclusive.
func (f Filter) Match(e *Entry) bool {
	if e == nil {
		return false
	}
	if !f.IncludeRemoved && e.Status != StatusActive {
		return false
	}
	if f.Branch != "" && e.Branch != f.Branch {
		return false
	}
	if f.Origin != "" && e.Origin != f.Origin {
		return false
	}
	if f.ChargeID != "" && e.ChargeID != f.ChargeID {
		return false
	}
	if f.VendorAccountID != "" && e.VendorAccountID != f.VendorAccountID {
		return false
	}
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Date.Before(f.To) {
		return false
	}
	return true
}

// Totals sums active credits and debits.
func Totals(entries []*Entry) (credits, debits decimal.Decimal) {
	credits, debits = decimal.Zero, decimal.Zero
	for _, e := range entries {
		if !e.Active() {
			continue
		}
		switch e.Type {
		case TypeCredit:
			credits = credits.Add(e.Amount)
		case TypeDebit:
			debits = debits.Add(e.Amount)
		}
	}
	return credits, debits
}
