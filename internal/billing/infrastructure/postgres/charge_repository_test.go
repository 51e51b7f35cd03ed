package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/logger"
	"finance-backoffice/internal/migration"
	pgstore "finance-backoffice/internal/storage/postgres"
)

func openTestDB(t *testing.T) *sql.DB {
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
	return db
}

func newPGCharge(t *testing.T) *billing.Charge {
	t.Helper()
	history, err := billing.AppendHistory(nil, billing.NewEntry(billing.ActionChargeCreated, "ana", nil, time.Now(), time.UTC))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return &billing.Charge{
		ID:                "charge-pg-" + uuid.NewString(),
		PayerName:         "Maria",
		Branch:            "north",
		InstallmentAmount: decimal.NewFromInt(100),
		InstallmentCount:  3,
		FirstDueDate:      "2024-01-10",
		Status:            "PENDING",
		History:           history,
	}
}

func TestChargeRepository_PostgresCreateGet(t *testing.T) {
	repo := NewChargeRepository(openTestDB(t))
	ctx := context.Background()
	c := newPGCharge(t)

	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, c); !errors.Is(err, billing.ErrChargeExists) {
		t.Fatalf("expected ErrChargeExists, got %v", err)
	}
	got, err := repo.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 1 || !got.History[0].Equal(c.History[0]) {
		t.Fatalf("history not stored verbatim")
	}
	if !got.InstallmentAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("amount = %s", got.InstallmentAmount)
	}
}

func TestChargeRepository_PostgresConcurrentUpdatesAppend(t *testing.T) {
	repo := NewChargeRepository(openTestDB(t), WithLockTimeout(5*time.Second))
	ctx := context.Background()
	c := newPGCharge(t)
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, c.ID, func(fresh *billing.Charge) error {
				next, err := billing.AppendHistory(fresh.History, billing.NewEntry(billing.ActionStatusReported, "bob", nil, time.Now(), time.UTC))
				if err != nil {
					return err
				}
				fresh.History = next
				return nil
			})
			if err != nil && !errors.Is(err, billing.ErrTransactionConflict) {
				t.Errorf("update: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 1+succeeded {
		t.Fatalf("history = %d records, want %d", len(got.History), 1+succeeded)
	}
	if broken := billing.VerifyHistory(got.History); broken >= 0 {
		t.Fatalf("history broken at %d", broken)
	}
}

func TestChargeRepository_PostgresRejectsRewrite(t *testing.T) {
	repo := NewChargeRepository(openTestDB(t))
	ctx := context.Background()
	c := newPGCharge(t)
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := repo.Update(ctx, c.ID, func(fresh *billing.Charge) error {
		fresh.History = nil
		return nil
	})
	if !errors.Is(err, billing.ErrHistoryRewrite) {
		t.Fatalf("expected ErrHistoryRewrite, got %v", err)
	}
}
