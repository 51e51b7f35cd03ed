package application

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	billing "finance-backoffice/internal/billing/domain"
	chargestore "finance-backoffice/internal/billing/infrastructure/boltstore"
	ledgerapp "finance-backoffice/internal/ledger/application"
	ledger "finance-backoffice/internal/ledger/domain"
	"finance-backoffice/internal/failure"
	ledgerstore "finance-backoffice/internal/ledger/infrastructure/boltstore"
	"finance-backoffice/internal/logger"
	"finance-backoffice/internal/storage/boltdb"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixture struct {
	charges  *chargestore.ChargeRepository
	entries  *ledgerstore.EntryRepository
	writer   *HistoryWriter
	commands *CommandService
	queries  *QueryService
	sweeper  *Sweeper
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "billing.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := fixedClock{now: now}
	charges := chargestore.NewChargeRepository(db)
	entries := ledgerstore.NewEntryRepository(db)
	syncer, err := ledgerapp.NewSynchronizer(entries, clock, logger.Nop())
	if err != nil {
		t.Fatalf("synchronizer: %v", err)
	}
	writer, err := NewHistoryWriter(charges, logger.Nop(), WithClock(clock), WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	opts := billing.ExpandOptions{MinAmount: billing.DefaultMinAmount, Vocabulary: billing.DefaultVocabulary()}
	commands, err := NewCommandService(charges, writer, syncer, nil, opts.Vocabulary, logger.Nop())
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	sweeper, err := NewSweeper(charges, writer, opts, logger.Nop())
	if err != nil {
		t.Fatalf("sweeper: %v", err)
	}
	queries, err := NewQueryService(charges, sweeper, opts, time.UTC, logger.Nop())
	if err != nil {
		t.Fatalf("queries: %v", err)
	}
	return &fixture{charges: charges, entries: entries, writer: writer, commands: commands, queries: queries, sweeper: sweeper}
}

func (f *fixture) createCharge(t *testing.T) *billing.Charge {
	t.Helper()
	res, err := f.commands.CreateCharge(context.Background(), CreateChargeInput{
		ID:                "charge-1",
		PayerName:         "Maria",
		Service:           "Consulting",
		Branch:            "north",
		InstallmentAmount: decimal.NewFromInt(100),
		InstallmentCount:  3,
		FirstDueDate:      "2024-01-10",
		Status:            "PENDING",
	}, "ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res.Charge
}

func (f *fixture) activeEntries(t *testing.T, number int) []*ledger.Entry {
	t.Helper()
	all, err := f.entries.List(context.Background(), ledger.Filter{ChargeID: "charge-1", Origin: ledger.OriginCharge})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	var out []*ledger.Entry
	for _, e := range all {
		if e.InstallmentNumber == number {
			out = append(out, e)
		}
	}
	return out
}

func statuses(installments []billing.Installment) []billing.InstallmentStatus {
	out := make([]billing.InstallmentStatus, len(installments))
	for i, inst := range installments {
		out[i] = inst.Status
	}
	return out
}

var beforeFirstDue = time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

func TestScenario_ExpansionOfNewCharge(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	f.createCharge(t)

	view, err := f.queries.Get(context.Background(), "charge-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []string{"2024-01-10", "2024-02-09", "2024-03-10"}
	if len(view.Installments) != len(want) {
		t.Fatalf("expected %d installments, got %d", len(want), len(view.Installments))
	}
	for i, inst := range view.Installments {
		if inst.DueDate.Format(billing.DateLayout) != want[i] {
			t.Fatalf("installment %d due %s, want %s", inst.Number, inst.DueDate.Format(billing.DateLayout), want[i])
		}
		if !inst.Amount.Equal(decimal.NewFromInt(100)) || inst.Status != billing.StatusWaiting {
			t.Fatalf("unexpected installment %+v", inst)
		}
	}
	if !view.HistoryIntact || len(view.History) != 1 || view.History[0].Entry.User != "ana" {
		t.Fatalf("unexpected history view: %+v", view.History)
	}
}

func TestScenario_ConfirmAndUndoPayment(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	f.createCharge(t)
	ctx := context.Background()

	res, err := f.commands.ConfirmPayment(ctx, "charge-1", 2, "bob")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
	view, _ := f.queries.Get(ctx, "charge-1")
	got := statuses(view.Installments)
	if got[0] != billing.StatusWaiting || got[1] != billing.StatusPaid || got[2] != billing.StatusWaiting {
		t.Fatalf("unexpected statuses %v", got)
	}
	entries := f.activeEntries(t, 2)
	if len(entries) != 1 || entries[0].ChargeID != "charge-1" || entries[0].InstallmentNumber != 2 {
		t.Fatalf("expected one entry for (charge-1, 2), got %+v", entries)
	}

	if _, err := f.commands.UndoPayment(ctx, "charge-1", 2, "bob"); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if entries := f.activeEntries(t, 2); len(entries) != 0 {
		t.Fatalf("expected zero entries after undo, got %d", len(entries))
	}
	view, _ = f.queries.Get(ctx, "charge-1")
	if view.Installments[1].Status != billing.StatusWaiting {
		t.Fatalf("installment 2 should be waiting again")
	}
}

func TestScenario_CancelAndRevert(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	created := f.createCharge(t)
	ctx := context.Background()

	if _, err := f.commands.CancelInstallment(ctx, "charge-1", 1, "carl"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	view, _ := f.queries.Get(ctx, "charge-1")
	if view.Installments[0].Status != billing.StatusCancelled || view.Installments[0].CancelledAt == nil {
		t.Fatalf("installment 1 should be cancelled: %+v", view.Installments[0])
	}

	if _, err := f.commands.UndoCancellation(ctx, "charge-1", 1, "carl"); err != nil {
		t.Fatalf("undo cancel: %v", err)
	}
	view, _ = f.queries.Get(ctx, "charge-1")
	if view.Installments[0].Status != billing.StatusWaiting {
		t.Fatalf("installment 1 should be waiting, got %s", view.Installments[0].Status)
	}
	history := view.Charge.History
	if len(history) != 3 {
		t.Fatalf("expected 3 history records, got %d", len(history))
	}
	if !history[0].Equal(created.History[0]) {
		t.Fatalf("creation entry changed")
	}
	if view.History[1].Entry.Action != billing.ActionInstallmentCancelled || view.History[2].Entry.Action != billing.ActionCancellationReverted {
		t.Fatalf("unexpected actions: %s, %s", view.History[1].Entry.Action, view.History[2].Entry.Action)
	}
	if !view.HistoryIntact {
		t.Fatalf("history chain broken at %d", view.HistoryBrokenAt)
	}
}

func TestCommands_CancellationWinsOverPayment(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	f.createCharge(t)
	ctx := context.Background()

	if _, err := f.commands.ConfirmPayment(ctx, "charge-1", 3, "bob"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.commands.CancelInstallment(ctx, "charge-1", 3, "bob"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	view, _ := f.queries.Get(ctx, "charge-1")
	if view.Installments[2].Status != billing.StatusCancelled {
		t.Fatalf("paid and cancelled should resolve cancelled, got %s", view.Installments[2].Status)
	}
	if entries := f.activeEntries(t, 3); len(entries) != 0 {
		t.Fatalf("cancelled installment keeps no entry")
	}

	// Reverting the cancellation restores the credit of the still-paid installment.
	if _, err := f.commands.UndoCancellation(ctx, "charge-1", 3, "bob"); err != nil {
		t.Fatalf("undo cancel: %v", err)
	}
	if entries := f.activeEntries(t, 3); len(entries) != 1 {
		t.Fatalf("expected entry restored, got %d", len(entries))
	}
}

func TestCommands_RejectsOutOfRangeInstallment(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	created := f.createCharge(t)

	_, err := f.commands.ConfirmPayment(context.Background(), "charge-1", 4, "bob")
	if !errors.Is(err, billing.ErrInvalidInstallment) {
		t.Fatalf("expected ErrInvalidInstallment, got %v", err)
	}
	stored, _ := f.charges.Get(context.Background(), "charge-1")
	if len(stored.History) != len(created.History) {
		t.Fatalf("rejected command must not append")
	}
	if _, err := f.commands.ConfirmPayment(context.Background(), "missing", 1, "bob"); !errors.Is(err, billing.ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestCommands_RejectsPaymentBelowMinimum(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	ctx := context.Background()
	created, err := f.commands.CreateCharge(ctx, CreateChargeInput{
		ID:                "charge-1",
		PayerName:         "Maria",
		InstallmentAmount: decimal.RequireFromString("3.00"),
		InstallmentCount:  2,
		FirstDueDate:      "2024-01-10",
	}, "ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.commands.ConfirmPayment(ctx, "charge-1", 1, "bob")
	if !failure.IsValidation(err) || !errors.Is(err, billing.ErrInvalidAmount) {
		t.Fatalf("expected amount validation error, got %v", err)
	}
	stored, _ := f.charges.Get(ctx, "charge-1")
	if len(stored.History) != len(created.History) || stored.PaidInstallments.Has(1) {
		t.Fatalf("rejected payment must not append")
	}
	if got := f.activeEntries(t, 1); len(got) != 0 {
		t.Fatalf("rejected payment must not book a credit, got %d", len(got))
	}

	f.commands.SetMinAmount(decimal.NewFromInt(1))
	if _, err := f.commands.ConfirmPayment(ctx, "charge-1", 1, "bob"); err != nil {
		t.Fatalf("confirm with lower minimum: %v", err)
	}
}

func TestHistoryWriter_ConcurrentAppendsKeepEveryRecord(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	created := f.createCharge(t)
	original := created.History[0].Raw()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.writer.Append(context.Background(), "charge-1", billing.ActionStatusReported, "", map[string]any{"i": i}, nil)
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	stored, err := f.charges.Get(context.Background(), "charge-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.History) != len(created.History)+n {
		t.Fatalf("expected %d records, got %d", len(created.History)+n, len(stored.History))
	}
	if string(stored.History[0].Raw()) != string(original) {
		t.Fatalf("original record bytes changed")
	}
	if broken := billing.VerifyHistory(stored.History); broken >= 0 {
		t.Fatalf("chain broken at %d", broken)
	}
	entry, _ := stored.History[1].Decode()
	if entry.User != billing.UnknownActor {
		t.Fatalf("empty actor should be recorded as %q, got %q", billing.UnknownActor, entry.User)
	}
}

// conflictRepo fails Update with a conflict a fixed number of times.
type conflictRepo struct {
	billing.ChargeRepository
	conflicts int
	calls     int
}

func (r *conflictRepo) Update(ctx context.Context, id string, fn billing.MergeFunc) (*billing.Charge, error) {
	r.calls++
	if r.calls <= r.conflicts {
		return nil, billing.ErrTransactionConflict
	}
	return r.ChargeRepository.Update(ctx, id, fn)
}

func TestHistoryWriter_RetriesConflicts(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	f.createCharge(t)
	repo := &conflictRepo{ChargeRepository: f.charges, conflicts: 2}
	writer, _ := NewHistoryWriter(repo, logger.Nop(), WithRetryBackoff(0), WithMaxAttempts(3))

	history, _, err := writer.Append(context.Background(), "charge-1", billing.ActionStatusReported, "ana", nil, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if repo.calls != 3 || len(history) != 2 {
		t.Fatalf("expected success on third attempt, calls=%d history=%d", repo.calls, len(history))
	}
}

func TestHistoryWriter_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	f.createCharge(t)
	repo := &conflictRepo{ChargeRepository: f.charges, conflicts: 10}
	writer, _ := NewHistoryWriter(repo, logger.Nop(), WithRetryBackoff(0), WithMaxAttempts(4))

	_, _, err := writer.Append(context.Background(), "charge-1", billing.ActionStatusReported, "ana", nil, nil)
	if !errors.Is(err, billing.ErrTransactionFailed) || !errors.Is(err, billing.ErrTransactionConflict) {
		t.Fatalf("expected ErrTransactionFailed wrapping the conflict, got %v", err)
	}
	if repo.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", repo.calls)
	}
	stored, _ := f.charges.Get(context.Background(), "charge-1")
	if len(stored.History) != 1 {
		t.Fatalf("failed append must not write")
	}
}

func TestHistoryWriter_CancelledContextAborts(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	f.createCharge(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := f.writer.Append(ctx, "charge-1", billing.ActionStatusReported, "ana", nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	stored, _ := f.charges.Get(context.Background(), "charge-1")
	if len(stored.History) != 1 {
		t.Fatalf("cancelled append must not write")
	}
}

type failingLedger struct{ err error }

func (l failingLedger) Reconcile(ctx context.Context, c *billing.Charge, n int, want bool) error {
	return l.err
}

type recordingPublisher struct {
	events []any
}

func (p *recordingPublisher) Publish(ctx context.Context, event any) error {
	p.events = append(p.events, event)
	return nil
}

func TestCommands_LedgerFailureIsWarningAndQueued(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	f.createCharge(t)
	pub := &recordingPublisher{}
	commands, _ := NewCommandService(f.charges, f.writer, failingLedger{err: errors.New("ledger offline")}, pub, billing.DefaultVocabulary(), logger.Nop())

	res, err := commands.ConfirmPayment(context.Background(), "charge-1", 1, "bob")
	if err != nil {
		t.Fatalf("confirm should succeed: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Step != "ledger sync" {
		t.Fatalf("expected ledger warning, got %+v", res.Warnings)
	}
	if !res.Charge.PaidInstallments.Has(1) {
		t.Fatalf("audit write should stand")
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected retry event, got %d", len(pub.events))
	}
	ev, ok := pub.events[0].(LedgerSyncRequested)
	if !ok || ev.ChargeID != "charge-1" || ev.InstallmentNumber != 1 {
		t.Fatalf("unexpected event %#v", pub.events[0])
	}
}

func TestLedgerRetryHandler_ReconcilesCurrentState(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	f.createCharge(t)
	ctx := context.Background()
	commands, _ := NewCommandService(f.charges, f.writer, failingLedger{err: errors.New("offline")}, nil, billing.DefaultVocabulary(), logger.Nop())
	if _, err := commands.ConfirmPayment(ctx, "charge-1", 2, "bob"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(f.activeEntries(t, 2)) != 0 {
		t.Fatalf("entry should be missing before the retry")
	}

	syncer, _ := ledgerapp.NewSynchronizer(f.entries, nil, logger.Nop())
	handler, err := NewLedgerRetryHandler(f.charges, syncer, logger.Nop())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	event := LedgerSyncRequested{ChargeID: "charge-1", InstallmentNumber: 2}
	for i := 0; i < 2; i++ {
		if err := handler.Handle(ctx, event); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	if got := f.activeEntries(t, 2); len(got) != 1 {
		t.Fatalf("expected exactly one entry after retries, got %d", len(got))
	}
	if err := handler.Handle(ctx, LedgerSyncRequested{ChargeID: "gone", InstallmentNumber: 1}); err != nil {
		t.Fatalf("unknown charge should be dropped: %v", err)
	}
}

func TestCommands_CreateChargeValidation(t *testing.T) {
	f := newFixture(t, beforeFirstDue)
	_, err := f.commands.CreateCharge(context.Background(), CreateChargeInput{FirstDueDate: "10/01/2024", InstallmentCount: 2}, "ana")
	if err == nil {
		t.Fatalf("expected invalid date error")
	}
	_, err = f.commands.CreateCharge(context.Background(), CreateChargeInput{FirstDueDate: "2024-01-10", TotalAmount: decimal.NewFromInt(-1)}, "ana")
	if !errors.Is(err, billing.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
