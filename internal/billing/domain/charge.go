package billing

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finance-backoffice/internal/failure"
)

// DateLayout is the stored format of a charge's first due date.
const DateLayout = "2006-01-02"

// InstallmentSet is a sorted set of installment numbers.
type InstallmentSet []int

// Has reports whether n is in the set.
func (s InstallmentSet) Has(n int) bool {
	i := sort.SearchInts(s, n)
	return i < len(s) && s[i] == n
}

// With returns a copy of the set including n.
func (s InstallmentSet) With(n int) InstallmentSet {
	if s.Has(n) {
		return s.clone()
	}
	out := append(s.clone(), n)
	sort.Ints(out)
	return out
}

// Without returns a copy of the set excluding n.
func (s InstallmentSet) Without(n int) InstallmentSet {
	out := make(InstallmentSet, 0, len(s))
	for _, v := range s {
		if v != n {
			out = append(out, v)
		}
	}
	return out
}

func (s InstallmentSet) clone() InstallmentSet {
	out := make(InstallmentSet, len(s))
	copy(out, s)
	return out
}

// UnmarshalJSON accepts unsorted input with duplicates.
func (s *InstallmentSet) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewInstallmentSet(raw...)
	return nil
}

// MarshalJSON always encodes an array, never null.
func (s InstallmentSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int(s))
}

// NewInstallmentSet builds a sorted, de-duplicated set.
func NewInstallmentSet(numbers ...int) InstallmentSet {
	out := InstallmentSet{}
	for _, n := range numbers {
		out = out.With(n)
	}
	return out
}

// Charge is a billing obligation payable in installments.
type Charge struct {
	ID                    string
	PayerTaxID            string
	PayerName             string
	Service               string
	Branch                string
	InstallmentAmount     decimal.Decimal
	TotalAmount           decimal.Decimal
	InstallmentCount      int
	FirstDueDate          string
	Status                string
	PaidInstallments      InstallmentSet
	CancelledInstallments InstallmentSet
	CancelledAt           map[int]time.Time
	History               []HistoryRecord
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Count returns the installment count, treating values below one as one.
func (c *Charge) Count() int {
	if c == nil || c.InstallmentCount < 1 {
		return 1
	}
	return c.InstallmentCount
}

// ResolvedAmount returns the per-installment amount.
func (c *Charge) ResolvedAmount() decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	if c.InstallmentAmount.GreaterThan(decimal.Zero) {
		return c.InstallmentAmount
	}
	return c.TotalAmount.Div(decimal.NewFromInt(int64(c.Count()))).Round(2)
}

// FirstDue parses the stored first due date.
func (c *Charge) FirstDue() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(c.FirstDueDate))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ValidateInstallment rejects installment numbers outside 1..n.
func (c *Charge) ValidateInstallment(n int) error {
	if n < 1 || n > c.Count() {
		return failure.Validationf(ErrInvalidInstallment, "installment", "%d is outside 1..%d", n, c.Count())
	}
	return nil
}

// Clone returns a deep copy. History records share no memory with c.
func (c *Charge) Clone() *Charge {
	if c == nil {
		return nil
	}
	out := *c
	out.PaidInstallments = c.PaidInstallments.clone()
	out.CancelledInstallments = c.CancelledInstallments.clone()
	out.CancelledAt = make(map[int]time.Time, len(c.CancelledAt))
	for k, v := range c.CancelledAt {
		out.CancelledAt[k] = v
	}
	out.History = make([]HistoryRecord, len(c.History))
	for i, rec := range c.History {
		out.History[i] = rec.clone()
	}
	return &out
}

// Validate checks the fields required to create a charge.
func (c *Charge) Validate() error {
	if c == nil {
		return ErrNilCharge
	}
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyChargeID
	}
	if c.InstallmentAmount.IsNegative() {
		return failure.Validationf(ErrInvalidAmount, "installment_amount", "must not be negative")
	}
	if c.TotalAmount.IsNegative() {
		return failure.Validationf(ErrInvalidAmount, "total_amount", "must not be negative")
	}
	if c.InstallmentCount < 0 {
		return failure.Validation("installment_count", "must not be negative")
	}
	return nil
}
