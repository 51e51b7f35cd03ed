package billing

import "context"

// MergeFunc mutates a freshly read charge inside the update transaction.
// Returning an error aborts the update without writing.
type MergeFunc func(c *Charge) error

// ChargeFilter narrows charge listings.
type ChargeFilter struct {
	Branch string
	Limit  int
}

// ChargeRepository persists charges.
//
// Update reads the charge under the store's isolation, applies fn and
// persists the result atomically. The history produced by fn must extend
// the stored history or ErrHistoryRewrite is returned. Stores report lost
// races as ErrTransactionConflict.
type ChargeRepository interface {
	Create(ctx context.Context, charge *Charge) error
	Get(ctx context.Context, id string) (*Charge, error)
	List(ctx context.Context, filter ChargeFilter) ([]*Charge, error)
	Update(ctx context.Context, id string, fn MergeFunc) (*Charge, error)
}
