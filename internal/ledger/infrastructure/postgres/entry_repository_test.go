package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ledger "finance-backoffice/internal/ledger/domain"
	"finance-backoffice/internal/logger"
	"finance-backoffice/internal/migration"
	pgstore "finance-backoffice/internal/storage/postgres"
)

func newPGRepo(t *testing.T) *EntryRepository {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	db, err := pgstore.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := migration.Apply(ctx, db, logger.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewEntryRepository(db)
}

func chargeEntry(chargeID string, number int, now time.Time) *ledger.Entry {
	return &ledger.Entry{
		ID:                uuid.NewString(),
		Description:       "[AUTO] Installment 1/3",
		Amount:            decimal.NewFromInt(100),
		Date:              time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Branch:            "north",
		Type:              ledger.TypeCredit,
		Status:            ledger.StatusActive,
		Origin:            ledger.OriginCharge,
		ChargeID:          chargeID,
		InstallmentNumber: number,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestEntryRepository_PostgresOneActivePerInstallment(t *testing.T) {
	repo := newPGRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	chargeID := "charge-pg-" + uuid.NewString()

	if err := repo.Insert(ctx, chargeEntry(chargeID, 1, now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(ctx, chargeEntry(chargeID, 1, now)); !errors.Is(err, ledger.ErrDuplicateActive) {
		t.Fatalf("expected ErrDuplicateActive, got %v", err)
	}
	if err := repo.Insert(ctx, chargeEntry(chargeID, 2, now)); err != nil {
		t.Fatalf("other installment: %v", err)
	}

	removed, err := repo.RemoveForInstallment(ctx, chargeID, 1, now)
	if err != nil || removed != 1 {
		t.Fatalf("remove: n=%d err=%v", removed, err)
	}
	if err := repo.Insert(ctx, chargeEntry(chargeID, 1, now)); err != nil {
		t.Fatalf("insert after removal: %v", err)
	}

	entries, err := repo.List(ctx, ledger.Filter{ChargeID: chargeID, IncludeRemoved: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(entries))
	}
}
