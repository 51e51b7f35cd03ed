package application

import (
	"context"
	"time"
)

// LedgerSyncRequested asks for the statement entries of one installment
// to be reconciled against the charge's current state. It is published
// when the inline synchronization after a committed command failed.
type LedgerSyncRequested struct {
	ChargeID          string
	InstallmentNumber int
	Reason            string
	OccurredAt        time.Time
}

// EventPublisher writes events for later delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}
