package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apihttp "finance-backoffice/internal/api/http"
	"finance-backoffice/internal/audit"
	"finance-backoffice/internal/auth"
	"finance-backoffice/internal/failure"
	ledgerapp "finance-backoffice/internal/ledger/application"
	ledger "finance-backoffice/internal/ledger/domain"
	"finance-backoffice/internal/observability/metrics"
)

const (
	entriesPath   = "/api/v1/ledger/entries"
	statementPath = "/api/v1/ledger/statement."
)

// Handler serves statement entries and exports.
type Handler struct {
	service     *ledgerapp.StatementService
	auditLogger audit.Logger
	loc         *time.Location
	logger      zerolog.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *ledgerapp.StatementService, auditLogger audit.Logger, loc *time.Location, logger zerolog.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("ledger handler: nil statement service")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{service: service, auditLogger: auditLogger, loc: loc, logger: logger}, nil
}

type entryRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Branch      string          `json:"branch"`
	Category    string          `json:"category"`
	Type        string          `json:"type"`
}

type entryResponse struct {
	ID                string          `json:"id"`
	Description       string          `json:"description"`
	Amount            decimal.Decimal `json:"amount"`
	Date              string          `json:"date"`
	Branch            string          `json:"branch"`
	Category          string          `json:"category,omitempty"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	Origin            string          `json:"origin"`
	ChargeID          string          `json:"charge_id,omitempty"`
	InstallmentNumber int             `json:"installment_number,omitempty"`
	VendorAccountID   string          `json:"vendor_account_id,omitempty"`
	RemovedAt         string          `json:"removed_at,omitempty"`
}

type statementResponse struct {
	Branch  string          `json:"branch,omitempty"`
	Entries []entryResponse `json:"entries"`
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
	Balance decimal.Decimal `json:"balance"`
}

// ServeHTTP routes /api/v1/ledger/.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == entriesPath:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, entriesPath+"/"):
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRemove(w, r, strings.TrimPrefix(path, entriesPath+"/"))
	case strings.HasPrefix(path, statementPath):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r, strings.TrimPrefix(path, statementPath))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) filter(r *http.Request) (ledger.Filter, error) {
	from, to, err := apihttp.ParsePeriod(r, h.loc)
	if err != nil {
		return ledger.Filter{}, err
	}
	includeRemoved, err := apihttp.ParseBoolQuery(r, "include_removed")
	if err != nil {
		return ledger.Filter{}, err
	}
	q := r.URL.Query()
	return ledger.Filter{
		Branch:          q.Get("branch"),
		From:            from,
		To:              to,
		Origin:          ledger.Origin(q.Get("origin")),
		ChargeID:        q.Get("charge_id"),
		VendorAccountID: q.Get("vendor_account_id"),
		IncludeRemoved:  includeRemoved,
	}, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filter(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	stmt, err := h.service.Statement(r.Context(), filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	resp := statementResponse{
		Branch:  stmt.Branch,
		Entries: make([]entryResponse, 0, len(stmt.Entries)),
		Credits: stmt.Credits,
		Debits:  stmt.Debits,
		Balance: stmt.Balance,
	}
	for _, e := range stmt.Entries {
		resp.Entries = append(resp.Entries, h.entry(e))
	}
	apihttp.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := apihttp.DecodeJSON(w, r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	date, err := time.ParseInLocation(dateLayout, req.Date, h.loc)
	if err != nil {
		apihttp.WriteError(w, failure.Validation("date", "must be YYYY-MM-DD"))
		return
	}
	entry, err := h.service.CreateManual(r.Context(), ledgerapp.ManualEntryInput{
		Description: req.Description,
		Amount:      req.Amount,
		Date:        date,
		Branch:      req.Branch,
		Category:    req.Category,
		Type:        ledger.EntryType(strings.ToLower(req.Type)),
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	h.logAudit(r, "ledger.entry.create", entry.ID, map[string]any{"amount": entry.Amount.StringFixed(2), "branch": entry.Branch})
	apihttp.WriteJSON(w, http.StatusCreated, h.entry(entry))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if err := h.service.Remove(r.Context(), id); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	h.logAudit(r, "ledger.entry.remove", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	start := time.Now()
	var build func(*ledgerapp.Statement, *time.Location) ([]byte, error)
	var contentType string
	switch format {
	case "xlsx":
		build = BuildStatementXLSX
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		build = BuildStatementPDF
		contentType = "application/pdf"
	default:
		http.NotFound(w, r)
		return
	}

	filter, err := h.filter(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	stmt, err := h.service.Statement(r.Context(), filter)
	if err != nil {
		metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(start))
		apihttp.WriteError(w, err)
		return
	}
	data, err := build(stmt, h.loc)
	if err != nil {
		metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(start))
		h.logger.Error().Err(err).Str("format", format).Msg("statement export failed")
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveStatementExport(format, metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="statement.`+format+`"`)
	_, _ = w.Write(data)
}

func (h *Handler) entry(e *ledger.Entry) entryResponse {
	out := entryResponse{
		ID:                e.ID,
		Description:       e.Description,
		Amount:            e.Amount,
		Date:              e.Date.In(h.loc).Format(dateLayout),
		Branch:            e.Branch,
		Category:          e.Category,
		Type:              string(e.Type),
		Status:            string(e.Status),
		Origin:            string(e.Origin),
		ChargeID:          e.ChargeID,
		InstallmentNumber: e.InstallmentNumber,
		VendorAccountID:   e.VendorAccountID,
	}
	if e.RemovedAt != nil {
		out.RemovedAt = apihttp.FormatTime(*e.RemovedAt)
	}
	return out
}

func (h *Handler) logAudit(r *http.Request, action, entryID string, details map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var meta json.RawMessage
	if details != nil {
		meta, _ = json.Marshal(details)
	}
	entry := audit.FromRequest(r, audit.Entry{
		Actor:        auth.ActorFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "ledger_entry",
		ResourceID:   entryID,
		Metadata:     meta,
	})
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("access audit write failed")
	}
}
