package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	billing "finance-backoffice/internal/billing/domain"
)

// LedgerRetryConsumer is the consumer name used for idempotency records.
const LedgerRetryConsumer = "billing.ledger_retry"

// LedgerRetryHandler reconciles an installment's statement entries
// against the charge as it is now, not as it was when the event was
// written. Repeated deliveries converge on the same state.
type LedgerRetryHandler struct {
	repo   billing.ChargeRepository
	ledger LedgerSync
	logger zerolog.Logger
}

// NewLedgerRetryHandler constructs a handler.
func NewLedgerRetryHandler(repo billing.ChargeRepository, ledger LedgerSync, logger zerolog.Logger) (*LedgerRetryHandler, error) {
	if repo == nil {
		return nil, errors.New("ledger retry handler: nil repo")
	}
	if ledger == nil {
		return nil, errors.New("ledger retry handler: nil ledger sync")
	}
	return &LedgerRetryHandler{repo: repo, ledger: ledger, logger: logger}, nil
}

// Handle satisfies eventing.EventHandler.
func (h *LedgerRetryHandler) Handle(ctx context.Context, event any) error {
	var req LedgerSyncRequested
	switch e := event.(type) {
	case LedgerSyncRequested:
		req = e
	case *LedgerSyncRequested:
		if e == nil {
			return errors.New("ledger retry handler: nil event")
		}
		req = *e
	default:
		return fmt.Errorf("ledger retry handler: unexpected event %T", event)
	}

	charge, err := h.repo.Get(ctx, req.ChargeID)
	if errors.Is(err, billing.ErrChargeNotFound) {
		h.logger.Warn().Str("charge_id", req.ChargeID).Msg("ledger retry for unknown charge dropped")
		return nil
	}
	if err != nil {
		return err
	}
	want := WantsLedgerEntry(charge, req.InstallmentNumber)
	if err := h.ledger.Reconcile(ctx, charge, req.InstallmentNumber, want); err != nil {
		return err
	}
	h.logger.Info().
		Str("charge_id", req.ChargeID).
		Int("installment", req.InstallmentNumber).
		Bool("want_entry", want).
		Msg("ledger retry reconciled")
	return nil
}
