package migration

import (
	"strings"
	"testing"
)

func TestFilesOrdered(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) < 5 {
		t.Fatalf("expected embedded migrations, got %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].Version >= files[i].Version {
			t.Fatalf("migrations out of order: %s before %s", files[i-1].Version, files[i].Version)
		}
	}
}

func TestLedgerMigrationHasPartialUniqueIndex(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	for _, f := range files {
		if strings.Contains(f.SQL, "ledger_active_installment") {
			if !strings.Contains(f.SQL, "WHERE status = 'active' AND origin = 'charge'") {
				t.Fatalf("unique index must be partial on active charge entries")
			}
			return
		}
	}
	t.Fatalf("ledger unique index not found")
}
