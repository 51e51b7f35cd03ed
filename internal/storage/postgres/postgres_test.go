package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	wrapped := fmt.Errorf("update: %w", &pgconn.PgError{Code: CodeSerializationFailure})
	if !IsConflict(wrapped) {
		t.Fatalf("expected conflict")
	}
	if !IsConflict(&pgconn.PgError{Code: CodeLockNotAvailable}) {
		t.Fatalf("expected lock timeout to be a conflict")
	}
	dup := &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "ledger_active_installment"}
	if !IsUniqueViolation(dup) || IsConflict(dup) {
		t.Fatalf("unexpected classification for unique violation")
	}
	if ConstraintName(dup) != "ledger_active_installment" {
		t.Fatalf("constraint name lost")
	}
	if Code(errors.New("plain")) != "" {
		t.Fatalf("expected empty code")
	}
}
