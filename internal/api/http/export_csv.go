package apihttp

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	ledgerapp "finance-backoffice/internal/ledger/application"
	ledger "finance-backoffice/internal/ledger/domain"
)

// StatementReader loads a branch statement.
type StatementReader interface {
	Statement(ctx context.Context, filter ledger.Filter) (*ledgerapp.Statement, error)
}

// ExportLedgerCSVHandler streams statement rows as CSV.
type ExportLedgerCSVHandler struct {
	statements StatementReader
	loc        *time.Location
}

// NewExportLedgerCSVHandler constructs an ExportLedgerCSVHandler.
func NewExportLedgerCSVHandler(statements StatementReader, loc *time.Location) (*ExportLedgerCSVHandler, error) {
	if statements == nil {
		return nil, errors.New("ledger csv export: nil statement reader")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ExportLedgerCSVHandler{statements: statements, loc: loc}, nil
}

// ServeHTTP handles GET /api/v1/exports/ledger.csv.
func (h *ExportLedgerCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, to, err := ParsePeriod(r, h.loc)
	if err != nil {
		WriteError(w, err)
		return
	}
	includeRemoved, err := ParseBoolQuery(r, "include_removed")
	if err != nil {
		WriteError(w, err)
		return
	}
	stmt, err := h.statements.Statement(r.Context(), ledger.Filter{
		Branch:         r.URL.Query().Get("branch"),
		From:           from,
		To:             to,
		IncludeRemoved: includeRemoved,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"id",
		"date",
		"description",
		"type",
		"amount",
		"branch",
		"category",
		"status",
		"origin",
		"charge_id",
		"installment",
		"vendor_account_id",
	})
	for _, e := range stmt.Entries {
		installment := ""
		if e.InstallmentNumber > 0 {
			installment = strconv.Itoa(e.InstallmentNumber)
		}
		_ = writer.Write([]string{
			e.ID,
			e.Date.In(h.loc).Format(DateLayout),
			e.Description,
			string(e.Type),
			e.Amount.StringFixed(2),
			e.Branch,
			e.Category,
			string(e.Status),
			string(e.Origin),
			e.ChargeID,
			installment,
			e.VendorAccountID,
		})
	}
	writer.Flush()
}
