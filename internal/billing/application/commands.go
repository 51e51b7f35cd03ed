package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/failure"
	"finance-backoffice/internal/observability/metrics"
)

// Command names used in metrics and responses.
const (
	CommandConfirmPayment   = "confirm_payment"
	CommandUndoPayment      = "undo_payment"
	CommandCancel           = "cancel_installment"
	CommandUndoCancellation = "undo_cancellation"
	CommandCreateCharge     = "create_charge"
	CommandReportStatus     = "report_status"
)

// Alerter receives warnings of committed commands. Implementations decide
// which warnings reach an operator.
type Alerter interface {
	NotifyWarnings(ctx context.Context, source, subject string, warnings []*failure.PartialFailure)
}

// LedgerSync keeps statement entries in step with installment payments.
type LedgerSync interface {
	Reconcile(ctx context.Context, charge *billing.Charge, number int, wantActive bool) error
}

// CommandResult is the outcome of a committed command. Warnings list
// downstream steps that did not complete; the charge write stands.
type CommandResult struct {
	Charge   *billing.Charge
	History  []billing.HistoryRecord
	Warnings []*failure.PartialFailure
}

// CreateChargeInput describes a new charge.
type CreateChargeInput struct {
	ID                string
	PayerTaxID        string
	PayerName         string
	Service           string
	Branch            string
	InstallmentAmount decimal.Decimal
	TotalAmount       decimal.Decimal
	InstallmentCount  int
	FirstDueDate      string
	Status            string
}

// CommandService runs installment commands: one atomic history append,
// then a best-effort ledger reconciliation.
type CommandService struct {
	repo      billing.ChargeRepository
	writer    *HistoryWriter
	ledger    LedgerSync
	publisher EventPublisher
	vocab     billing.Vocabulary
	minAmount decimal.Decimal
	alerts    Alerter
	logger    zerolog.Logger
}

// NewCommandService constructs the service. A nil publisher disables the
// retry outbox; failed syncs then only surface as warnings.
func NewCommandService(
	repo billing.ChargeRepository,
	writer *HistoryWriter,
	ledger LedgerSync,
	publisher EventPublisher,
	vocab billing.Vocabulary,
	logger zerolog.Logger,
) (*CommandService, error) {
	if repo == nil {
		return nil, errors.New("command service: nil repo")
	}
	if writer == nil {
		return nil, errors.New("command service: nil history writer")
	}
	if ledger == nil {
		return nil, errors.New("command service: nil ledger sync")
	}
	return &CommandService{
		repo:      repo,
		writer:    writer,
		ledger:    ledger,
		publisher: publisher,
		vocab:     vocab,
		minAmount: billing.DefaultMinAmount,
		logger:    logger,
	}, nil
}

// SetMinAmount sets the resolved amount below which a charge has no
// installments and payments are rejected.
func (s *CommandService) SetMinAmount(d decimal.Decimal) {
	s.minAmount = d
}

// SetAlerter routes command warnings to a. Nil disables alerts.
func (s *CommandService) SetAlerter(a Alerter) {
	s.alerts = a
}

// ConfirmPayment marks installment n paid. Confirming a paid installment
// appends again and re-synchronizes. A cancelled installment records the
// payment but gets no statement credit.
func (s *CommandService) ConfirmPayment(ctx context.Context, chargeID string, n int, actor string) (*CommandResult, error) {
	return s.installmentCommand(ctx, CommandConfirmPayment, billing.ActionPaymentConfirmed, chargeID, n, actor, func(c *billing.Charge) {
		c.PaidInstallments = c.PaidInstallments.With(n)
	})
}

// UndoPayment clears the paid mark of installment n and removes its entry.
func (s *CommandService) UndoPayment(ctx context.Context, chargeID string, n int, actor string) (*CommandResult, error) {
	return s.installmentCommand(ctx, CommandUndoPayment, billing.ActionPaymentReverted, chargeID, n, actor, func(c *billing.Charge) {
		c.PaidInstallments = c.PaidInstallments.Without(n)
	})
}

// CancelInstallment cancels installment n and removes any entry it had.
func (s *CommandService) CancelInstallment(ctx context.Context, chargeID string, n int, actor string) (*CommandResult, error) {
	now := s.writer.clock.Now().UTC()
	return s.installmentCommand(ctx, CommandCancel, billing.ActionInstallmentCancelled, chargeID, n, actor, func(c *billing.Charge) {
		c.CancelledInstallments = c.CancelledInstallments.With(n)
		if c.CancelledAt == nil {
			c.CancelledAt = map[int]time.Time{}
		}
		c.CancelledAt[n] = now
	})
}

// UndoCancellation lifts the cancellation of installment n. A paid
// installment gets its entry back.
func (s *CommandService) UndoCancellation(ctx context.Context, chargeID string, n int, actor string) (*CommandResult, error) {
	return s.installmentCommand(ctx, CommandUndoCancellation, billing.ActionCancellationReverted, chargeID, n, actor, func(c *billing.Charge) {
		c.CancelledInstallments = c.CancelledInstallments.Without(n)
		delete(c.CancelledAt, n)
	})
}

// CreateCharge stores a new charge with its creation entry.
func (s *CommandService) CreateCharge(ctx context.Context, in CreateChargeInput, actor string) (*CommandResult, error) {
	result := metrics.ResultSuccess
	defer func() { metrics.IncCommandResult(CommandCreateCharge, result) }()

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	charge := &billing.Charge{
		ID:                    id,
		PayerTaxID:            strings.TrimSpace(in.PayerTaxID),
		PayerName:             strings.TrimSpace(in.PayerName),
		Service:               strings.TrimSpace(in.Service),
		Branch:                strings.TrimSpace(in.Branch),
		InstallmentAmount:     in.InstallmentAmount,
		TotalAmount:           in.TotalAmount,
		InstallmentCount:      in.InstallmentCount,
		FirstDueDate:          strings.TrimSpace(in.FirstDueDate),
		Status:                strings.TrimSpace(in.Status),
		PaidInstallments:      billing.InstallmentSet{},
		CancelledInstallments: billing.InstallmentSet{},
		CancelledAt:           map[int]time.Time{},
	}
	if err := charge.Validate(); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if _, ok := charge.FirstDue(); !ok {
		result = metrics.ResultError
		return nil, failure.Validation("first_due_date", "expected YYYY-MM-DD")
	}
	if charge.Status != "" {
		s.checkVocabulary(charge.ID, charge.Status)
	}

	now := s.writer.clock.Now()
	entry := billing.NewEntry(billing.ActionChargeCreated, actor, map[string]any{
		"installments": charge.Count(),
		"amount":       charge.ResolvedAmount().StringFixed(2),
	}, now, s.writer.loc)
	history, err := billing.AppendHistory(nil, entry)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	charge.History = history
	charge.CreatedAt = now.UTC()
	charge.UpdatedAt = now.UTC()
	if err := s.repo.Create(ctx, charge); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return &CommandResult{Charge: charge, History: charge.History}, nil
}

// ReportStatus records the externally reported lifecycle status. Values
// outside the vocabulary are stored as given and logged.
func (s *CommandService) ReportStatus(ctx context.Context, chargeID, status, actor string) (*CommandResult, error) {
	result := metrics.ResultSuccess
	defer func() { metrics.IncCommandResult(CommandReportStatus, result) }()

	status = strings.TrimSpace(status)
	if status == "" {
		result = metrics.ResultError
		return nil, failure.Validation("status", "required")
	}
	var previous string
	history, charge, err := s.writer.Append(ctx, chargeID, billing.ActionStatusReported, actor, map[string]any{"status": status}, func(c *billing.Charge) error {
		previous = c.Status
		c.Status = status
		return nil
	})
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	s.checkVocabulary(chargeID, status)
	s.logger.Info().
		Str("charge_id", chargeID).
		Str("from", previous).
		Str("to", status).
		Msg("charge status reported")
	return &CommandResult{Charge: charge, History: history}, nil
}

func (s *CommandService) installmentCommand(
	ctx context.Context,
	command, action, chargeID string,
	n int,
	actor string,
	apply func(c *billing.Charge),
) (*CommandResult, error) {
	result := metrics.ResultSuccess
	defer func() { metrics.IncCommandResult(command, result) }()

	metadata := map[string]any{"installment": n}
	history, charge, err := s.writer.Append(ctx, chargeID, action, actor, metadata, func(c *billing.Charge) error {
		if err := c.ValidateInstallment(n); err != nil {
			return err
		}
		if command == CommandConfirmPayment {
			amount := c.ResolvedAmount()
			if amount.LessThan(s.minAmount) {
				return failure.Validationf(billing.ErrInvalidAmount, "installment_amount",
					"resolved amount %s is below the minimum %s", amount.StringFixed(2), s.minAmount.StringFixed(2))
			}
			metadata["amount"] = amount.StringFixed(2)
		}
		apply(c)
		return nil
	})
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}

	out := &CommandResult{Charge: charge, History: history}
	if w := s.syncLedger(ctx, charge, n); w != nil {
		out.Warnings = append(out.Warnings, w...)
		result = metrics.ResultPartial
		if s.alerts != nil {
			s.alerts.NotifyWarnings(ctx, "charge", chargeID, out.Warnings)
		}
	}
	return out, nil
}

// syncLedger reconciles the entry of installment n with the committed
// charge. Failures are queued for retry and returned as warnings.
func (s *CommandService) syncLedger(ctx context.Context, charge *billing.Charge, n int) []*failure.PartialFailure {
	want := WantsLedgerEntry(charge, n)
	err := s.ledger.Reconcile(ctx, charge, n, want)
	if err == nil {
		return nil
	}
	s.logger.Warn().
		Err(err).
		Str("charge_id", charge.ID).
		Int("installment", n).
		Bool("want_entry", want).
		Msg("ledger sync failed after history append")

	warnings := []*failure.PartialFailure{failure.Partial("ledger sync", err)}
	if s.publisher == nil {
		return warnings
	}
	event := LedgerSyncRequested{
		ChargeID:          charge.ID,
		InstallmentNumber: n,
		Reason:            err.Error(),
		OccurredAt:        s.writer.clock.Now().UTC(),
	}
	if perr := s.publisher.Publish(ctx, event); perr != nil {
		s.logger.Error().Err(perr).Str("charge_id", charge.ID).Msg("ledger retry enqueue failed")
		w := failure.Partial("ledger retry enqueue", perr)
		w.ManualIntervention = true
		warnings = append(warnings, w)
	}
	return warnings
}

func (s *CommandService) checkVocabulary(chargeID, status string) {
	if s.vocab.Known(status) {
		return
	}
	metrics.IncUnknownStatus()
	s.logger.Warn().
		Str("charge_id", chargeID).
		Str("status", status).
		Msg("unrecognized charge status, treated as waiting")
}

// WantsLedgerEntry reports whether installment n should have an active
// statement entry: paid and not cancelled.
func WantsLedgerEntry(c *billing.Charge, n int) bool {
	return c != nil && c.PaidInstallments.Has(n) && !c.CancelledInstallments.Has(n)
}
