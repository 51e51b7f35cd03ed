package application

import (
	"context"
	"testing"
	"time"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/logger"
)

var afterFirstDue = time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC)

func TestSweeper_ReclassifiesOnce(t *testing.T) {
	f := newFixture(t, afterFirstDue)
	f.createCharge(t)
	ctx := context.Background()

	res, err := f.sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Scanned != 1 || res.Reclassified != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	res, _ = f.sweeper.Run(ctx)
	if res.Reclassified != 0 {
		t.Fatalf("second sweep should not append, got %+v", res)
	}

	stored, _ := f.charges.Get(ctx, "charge-1")
	if stored.Status != string(billing.StatusOverdue) {
		t.Fatalf("expected OVERDUE, got %q", stored.Status)
	}
	if len(stored.History) != 2 {
		t.Fatalf("expected one reclassification entry, got %d records", len(stored.History))
	}
	entry, err := stored.History[1].Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.User != SystemActor || entry.Action != billing.ActionStatusReclassified {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestSweeper_DueTodayIsNotOverdue(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC))
	f.createCharge(t)

	res, err := f.sweeper.Run(context.Background())
	if err != nil || res.Reclassified != 0 {
		t.Fatalf("due today must not be overdue: %+v %v", res, err)
	}
}

func TestSweeper_PaidInstallmentIsNotOverdue(t *testing.T) {
	f := newFixture(t, afterFirstDue)
	f.createCharge(t)
	ctx := context.Background()
	if _, err := f.commands.ConfirmPayment(ctx, "charge-1", 1, "bob"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	res, _ := f.sweeper.Run(ctx)
	if res.Reclassified != 0 {
		t.Fatalf("paid installment should not trigger overdue")
	}
}

func TestQueryService_ReclassifiesOnRead(t *testing.T) {
	f := newFixture(t, afterFirstDue)
	f.createCharge(t)
	ctx := context.Background()

	view, err := f.queries.Get(ctx, "charge-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Installments[0].Status != billing.StatusOverdue || !view.Overdue {
		t.Fatalf("expected overdue view, got %s", view.Installments[0].Status)
	}
	if len(view.Charge.History) != 2 {
		t.Fatalf("expected reclassification appended, got %d", len(view.Charge.History))
	}
	view, _ = f.queries.Get(ctx, "charge-1")
	if len(view.Charge.History) != 2 {
		t.Fatalf("repeat read must not append again")
	}
}

func TestQueryService_OverdueFlagFollowsClock(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))
	f.createCharge(t)
	ctx := context.Background()

	view, err := f.queries.Get(ctx, "charge-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Overdue || len(view.Charge.History) != 1 {
		t.Fatalf("nothing is due yet: overdue=%v history=%d", view.Overdue, len(view.Charge.History))
	}

	reader, err := NewQueryService(f.charges, nil, f.sweeper.opts, time.UTC, logger.Nop(), WithQueryClock(fixedClock{now: afterFirstDue}))
	if err != nil {
		t.Fatalf("queries: %v", err)
	}
	view, _ = reader.Get(ctx, "charge-1")
	if !view.Overdue || len(view.Charge.History) != 1 {
		t.Fatalf("expected overdue flag without reclassification: overdue=%v history=%d", view.Overdue, len(view.Charge.History))
	}
}

func TestScheduler_DailyAtRunsOncePerDay(t *testing.T) {
	f := newFixture(t, afterFirstDue)
	s := NewScheduler(f.sweeper, time.Hour, "03:30", f.sweeper.logger)
	day := func(d, h, m int) time.Time { return time.Date(2024, 1, d, h, m, 0, 0, time.UTC) }

	if s.shouldRun(day(1, 3, 29)) {
		t.Fatalf("unexpected run before 03:30")
	}
	// The 03:30 tick was skipped; the next tick still runs.
	if !s.shouldRun(day(1, 3, 31)) {
		t.Fatalf("expected catch-up run at 03:31")
	}
	if s.shouldRun(day(1, 3, 32)) || s.shouldRun(day(1, 23, 59)) {
		t.Fatalf("daily sweep must run once per day")
	}
	if !s.shouldRun(day(2, 3, 30)) {
		t.Fatalf("expected run on the next day")
	}

	interval := NewScheduler(f.sweeper, time.Hour, "", f.sweeper.logger)
	if !interval.shouldRun(time.Now()) || !interval.shouldRun(time.Now()) {
		t.Fatalf("interval scheduler runs on every tick")
	}
}
