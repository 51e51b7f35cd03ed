package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finance-backoffice/internal/failure"
	ledger "finance-backoffice/internal/ledger/domain"
	"finance-backoffice/internal/logger"
)

func TestStatementService_ManualEntriesAndTotals(t *testing.T) {
	repo := newBoltRepo(t)
	svc, err := NewStatementService(repo, fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := svc.CreateManual(ctx, ManualEntryInput{Description: "deposit", Amount: decimal.NewFromInt(300), Date: day, Branch: "north", Type: ledger.TypeCredit}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	debit, err := svc.CreateManual(ctx, ManualEntryInput{Description: "supplies", Amount: decimal.NewFromInt(120), Date: day, Branch: "north", Type: ledger.TypeDebit})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !debit.Amount.Equal(decimal.NewFromInt(-120)) {
		t.Fatalf("debit should be stored negative, got %s", debit.Amount)
	}
	if _, err := svc.CreateManual(ctx, ManualEntryInput{Description: "other", Amount: decimal.NewFromInt(50), Date: day, Branch: "south", Type: ledger.TypeCredit}); err != nil {
		t.Fatalf("other branch: %v", err)
	}

	st, err := svc.Statement(ctx, ledger.Filter{Branch: "north"})
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(st.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(st.Entries))
	}
	if !st.Balance.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("unexpected balance %s", st.Balance)
	}

	if err := svc.Remove(ctx, debit.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	st, _ = svc.Statement(ctx, ledger.Filter{Branch: "north"})
	if !st.Balance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("removed entry still counted: %s", st.Balance)
	}
}

func TestStatementService_RejectsInvalidEntry(t *testing.T) {
	svc, _ := NewStatementService(newBoltRepo(t), nil)
	_, err := svc.CreateManual(context.Background(), ManualEntryInput{Description: "x", Amount: decimal.NewFromInt(1), Date: time.Now(), Type: "transfer"})
	if !failure.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatementService_RemoveRejectsDerivedEntry(t *testing.T) {
	repo := newBoltRepo(t)
	clock := fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	syncer, err := NewSynchronizer(repo, clock, logger.Nop())
	if err != nil {
		t.Fatalf("synchronizer: %v", err)
	}
	ctx := context.Background()
	derived, err := syncer.CreateFromInstallmentPayment(ctx, sampleCharge(), 1, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc, _ := NewStatementService(repo, clock)
	if err := svc.Remove(ctx, derived.ID); !errors.Is(err, ErrDerivedEntry) {
		t.Fatalf("expected ErrDerivedEntry, got %v", err)
	}
	if err := svc.Remove(ctx, "missing"); !errors.Is(err, ledger.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if got := activeFor(t, repo, "charge-1", 1); len(got) != 1 {
		t.Fatalf("derived entry must survive, got %d active", len(got))
	}
}
