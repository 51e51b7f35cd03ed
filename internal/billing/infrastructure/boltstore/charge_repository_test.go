package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/storage/boltdb"
)

func newTestRepo(t *testing.T) *ChargeRepository {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChargeRepository(db)
}

func seedCharge(t *testing.T, repo *ChargeRepository) *billing.Charge {
	t.Helper()
	history, err := billing.AppendHistory(nil, billing.NewEntry(billing.ActionChargeCreated, "ana", nil, time.Now(), time.UTC))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	c := &billing.Charge{
		ID:                "charge-1",
		Branch:            "north",
		InstallmentAmount: decimal.NewFromInt(100),
		InstallmentCount:  3,
		FirstDueDate:      "2024-01-10",
		Status:            "PENDING",
		History:           history,
	}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestChargeRepository_CreateGet(t *testing.T) {
	repo := newTestRepo(t)
	seeded := seedCharge(t, repo)

	got, err := repo.Get(context.Background(), "charge-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.InstallmentAmount.Equal(decimal.NewFromInt(100)) || got.InstallmentCount != 3 {
		t.Fatalf("unexpected charge: %+v", got)
	}
	if len(got.History) != 1 || !got.History[0].Equal(seeded.History[0]) {
		t.Fatalf("history not stored verbatim")
	}
	if err := repo.Create(context.Background(), seeded); !errors.Is(err, billing.ErrChargeExists) {
		t.Fatalf("expected ErrChargeExists, got %v", err)
	}
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, billing.ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestChargeRepository_UpdateAppends(t *testing.T) {
	repo := newTestRepo(t)
	seedCharge(t, repo)

	_, err := repo.Update(context.Background(), "charge-1", func(c *billing.Charge) error {
		next, err := billing.AppendHistory(c.History, billing.NewEntry(billing.ActionPaymentConfirmed, "bob", nil, time.Now(), time.UTC))
		if err != nil {
			return err
		}
		c.History = next
		c.PaidInstallments = c.PaidInstallments.With(2)
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.Get(context.Background(), "charge-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 2 || !got.PaidInstallments.Has(2) {
		t.Fatalf("unexpected charge after update: %+v", got)
	}
	if billing.VerifyHistory(got.History) != -1 {
		t.Fatalf("expected intact chain")
	}
}

func TestChargeRepository_RejectsHistoryRewrite(t *testing.T) {
	repo := newTestRepo(t)
	seedCharge(t, repo)

	_, err := repo.Update(context.Background(), "charge-1", func(c *billing.Charge) error {
		c.History = nil
		return nil
	})
	if !errors.Is(err, billing.ErrHistoryRewrite) {
		t.Fatalf("expected ErrHistoryRewrite, got %v", err)
	}
}

func TestChargeRepository_MergeErrorAborts(t *testing.T) {
	repo := newTestRepo(t)
	seedCharge(t, repo)
	boom := errors.New("boom")

	_, err := repo.Update(context.Background(), "charge-1", func(c *billing.Charge) error {
		c.Status = "PAID"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected merge error, got %v", err)
	}
	got, _ := repo.Get(context.Background(), "charge-1")
	if got.Status != "PENDING" {
		t.Fatalf("aborted update was persisted: %s", got.Status)
	}
}

func TestChargeRepository_CancelledContext(t *testing.T) {
	repo := newTestRepo(t)
	seedCharge(t, repo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.Update(ctx, "charge-1", func(c *billing.Charge) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChargeRepository_ListFiltersBranch(t *testing.T) {
	repo := newTestRepo(t)
	seedCharge(t, repo)
	if err := repo.Create(context.Background(), &billing.Charge{ID: "charge-2", Branch: "south"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.List(context.Background(), billing.ChargeFilter{Branch: "north"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "charge-1" {
		t.Fatalf("unexpected list: %d", len(got))
	}
}
