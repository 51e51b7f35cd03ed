package apihttp

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/eventing"
	"finance-backoffice/internal/failure"
	ledgerapp "finance-backoffice/internal/ledger/application"
	ledger "finance-backoffice/internal/ledger/domain"
	vendorpay "finance-backoffice/internal/vendorpay/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("load: %w", billing.ErrChargeNotFound), http.StatusNotFound},
		{ledger.ErrEntryNotFound, http.StatusNotFound},
		{failure.Validation("amount", "required"), http.StatusBadRequest},
		{billing.ErrInvalidInstallment, http.StatusBadRequest},
		{failure.Validationf(vendorpay.ErrInvalidTransition, "status", "paid to cancelled"), http.StatusConflict},
		{billing.ErrChargeExists, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?from=2024-01-01&to=2024-01-31", nil)
	from, to, err := ParsePeriod(r, time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period %s..%s", from, to)
	}

	r = httptest.NewRequest(http.MethodGet, "/x?from=2024-02-01&to=2024-01-31", nil)
	if _, _, err := ParsePeriod(r, time.UTC); !failure.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	r = httptest.NewRequest(http.MethodGet, "/x?from=01/02/2024", nil)
	if _, _, err := ParsePeriod(r, time.UTC); !failure.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type stubStatements struct {
	got  ledger.Filter
	stmt *ledgerapp.Statement
}

func (s *stubStatements) Statement(_ context.Context, filter ledger.Filter) (*ledgerapp.Statement, error) {
	s.got = filter
	return s.stmt, nil
}

func TestExportLedgerCSV(t *testing.T) {
	stub := &stubStatements{stmt: &ledgerapp.Statement{Entries: []*ledger.Entry{
		{
			ID:                "e-1",
			Description:       "[AUTO] Installment 1/3",
			Amount:            decimal.NewFromInt(100),
			Date:              time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Type:              ledger.TypeCredit,
			Status:            ledger.StatusActive,
			Origin:            ledger.OriginCharge,
			ChargeID:          "charge-1",
			InstallmentNumber: 1,
		},
		{
			ID:     "e-2",
			Amount: decimal.NewFromInt(-30),
			Date:   time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
			Type:   ledger.TypeDebit,
			Status: ledger.StatusActive,
			Origin: ledger.OriginManual,
		},
	}}}
	h, err := NewExportLedgerCSVHandler(stub, time.UTC)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/ledger.csv?branch=north&include_removed=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if stub.got.Branch != "north" || !stub.got.IncludeRemoved {
		t.Fatalf("filter not passed through: %+v", stub.got)
	}
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[1][4] != "100.00" || rows[1][10] != "1" || rows[2][4] != "-30.00" || rows[2][10] != "" {
		t.Fatalf("unexpected rows %v", rows[1:])
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/ledger.csv?include_removed=maybe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLoggingMiddlewareCorrelatesRequests(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = eventing.MetaFromContext(r.Context()).CorrelationID
		w.WriteHeader(http.StatusTeapot)
	})
	h := LoggingMiddleware(next, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-42" || rec.Header().Get(RequestIDHeader) != "req-42" || rec.Code != http.StatusTeapot {
		t.Fatalf("correlation not propagated: seen=%q header=%q code=%d", seen, rec.Header().Get(RequestIDHeader), rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get(RequestIDHeader) == "" || seen != rec.Header().Get(RequestIDHeader) {
		t.Fatalf("expected generated request id")
	}
}
