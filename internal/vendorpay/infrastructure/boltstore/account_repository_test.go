package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finance-backoffice/internal/storage/boltdb"
	vendorpay "finance-backoffice/internal/vendorpay/domain"
)

func TestAccountRepository_Lifecycle(t *testing.T) {
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "vendor.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	repo := NewAccountRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

	acc := &vendorpay.Account{
		ID:          "acc-1",
		Description: "Electricity",
		Kind:        vendorpay.KindBoleto,
		Amount:      decimal.RequireFromString("231.90"),
		DueDate:     now.AddDate(0, 0, 10),
		Branch:      "north",
		Status:      vendorpay.StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, acc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, acc); !errors.Is(err, vendorpay.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, "acc-1", vendorpay.StatusPaid, now); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.Get(ctx, "acc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != vendorpay.StatusPaid || !got.Amount.Equal(acc.Amount) {
		t.Fatalf("unexpected account: %+v", got)
	}

	list, err := repo.List(ctx, "south")
	if err != nil || len(list) != 0 {
		t.Fatalf("branch filter: %v %+v", err, list)
	}

	if err := repo.SoftDelete(ctx, "acc-1", now); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "acc-1"); !errors.Is(err, vendorpay.ErrAccountNotFound) {
		t.Fatalf("deleted account still visible: %v", err)
	}
	if err := repo.SoftDelete(ctx, "acc-1", now); !errors.Is(err, vendorpay.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound on second delete, got %v", err)
	}
	list, _ = repo.List(ctx, "")
	if len(list) != 0 {
		t.Fatalf("deleted account listed")
	}
}
