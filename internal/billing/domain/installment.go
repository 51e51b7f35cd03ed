package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentInterval is the fixed spacing between due dates, in days.
const InstallmentInterval = 30

// DefaultMinAmount is the smallest per-installment amount worth presenting.
var DefaultMinAmount = decimal.NewFromInt(5)

// Installment is one derived element of a charge.
type Installment struct {
	Number      int
	DueDate     time.Time
	Amount      decimal.Decimal
	Status      InstallmentStatus
	CancelledAt *time.Time
}

// ExpandOptions tunes the expansion.
type ExpandOptions struct {
	MinAmount  decimal.Decimal
	Vocabulary Vocabulary
}

// Expand derives the installment sequence of a charge. It returns nothing
// when the amount is below the minimum or the first due date is unparseable.
func Expand(charge *Charge, opts ExpandOptions) []Installment {
	if charge == nil {
		return nil
	}
	amount := charge.ResolvedAmount()
	if amount.LessThan(opts.MinAmount) {
		return nil
	}
	first, ok := charge.FirstDue()
	if !ok {
		return nil
	}

	n := charge.Count()
	out := make([]Installment, 0, n)
	for i := 1; i <= n; i++ {
		inst := Installment{
			Number:  i,
			DueDate: first.AddDate(0, 0, InstallmentInterval*(i-1)),
			Amount:  amount,
			Status:  ResolveStatus(i, charge, opts.Vocabulary),
		}
		if inst.Status == StatusCancelled {
			if at, ok := charge.CancelledAt[i]; ok {
				at := at
				inst.CancelledAt = &at
			}
		}
		out = append(out, inst)
	}
	return out
}

// OverdueAt reports whether inst is still waiting on a due date strictly
// before the calendar day of now.
func (inst Installment) OverdueAt(now time.Time) bool {
	if inst.Status != StatusWaiting {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return inst.DueDate.Before(today)
}

// HasOverdue reports whether any installment is overdue at now.
func HasOverdue(installments []Installment, now time.Time) bool {
	for _, inst := range installments {
		if inst.OverdueAt(now) {
			return true
		}
	}
	return false
}
