package vendorpay

import (
	"context"
	"time"
)

// AccountRepository persists vendor accounts. Get and List skip deleted
// accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context, branch string) ([]*Account, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
