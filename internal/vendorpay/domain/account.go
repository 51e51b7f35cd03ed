package vendorpay

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finance-backoffice/internal/failure"
)

// Status is the lifecycle of a vendor payment account.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts canonical names in any case.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusWaiting, StatusPaid, StatusCancelled:
		return s, nil
	case "canceled":
		return StatusCancelled, nil
	}
	return "", failure.Validationf(ErrInvalidStatus, "status", "%q", raw)
}

// Kind is the payment instrument.
type Kind string

const (
	KindBoleto Kind = "boleto"
	KindPix    Kind = "pix"
)

// Account is an externally payable obligation.
type Account struct {
	ID          string
	Description string
	Kind        Kind
	Beneficiary string
	Amount      decimal.Decimal
	DueDate     time.Time
	Branch      string
	Category    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Deleted reports whether the account was soft-deleted.
func (a *Account) Deleted() bool {
	return a != nil && a.DeletedAt != nil
}

// Validate checks an account submitted for creation.
func (a *Account) Validate() error {
	if a == nil {
		return ErrNilAccount
	}
	if strings.TrimSpace(a.Description) == "" {
		return failure.Validation("description", "required")
	}
	if a.Kind != KindBoleto && a.Kind != KindPix {
		return failure.Validationf(ErrInvalidKind, "kind", "%q", a.Kind)
	}
	if !a.Amount.IsPositive() {
		return failure.Validation("amount", "must be positive")
	}
	return nil
}

// CanTransition reports whether from may move to to. Staying in the same
// status is allowed and re-propagates markers.
func CanTransition(from, to Status) bool {
	if from == to || to == StatusWaiting {
		return true
	}
	return from == StatusWaiting && (to == StatusPaid || to == StatusCancelled)
}
