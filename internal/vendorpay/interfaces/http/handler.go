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
	vendorapp "finance-backoffice/internal/vendorpay/application"
	vendorpay "finance-backoffice/internal/vendorpay/domain"
)

const basePath = "/api/v1/vendor-accounts"

// Handler serves vendor payment accounts.
type Handler struct {
	propagator  *vendorapp.Propagator
	auditLogger audit.Logger
	loc         *time.Location
	logger      zerolog.Logger
}

// NewHandler constructs a handler.
func NewHandler(propagator *vendorapp.Propagator, auditLogger audit.Logger, loc *time.Location, logger zerolog.Logger) (*Handler, error) {
	if propagator == nil {
		return nil, errors.New("vendor accounts handler: nil propagator")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{propagator: propagator, auditLogger: auditLogger, loc: loc, logger: logger}, nil
}

type createRequest struct {
	Description string          `json:"description"`
	Kind        string          `json:"kind"`
	Beneficiary string          `json:"beneficiary"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     string          `json:"due_date"`
	Branch      string          `json:"branch"`
	Category    string          `json:"category"`
	SpawnEntry  bool            `json:"spawn_entry"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type accountResponse struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Kind        string          `json:"kind"`
	Beneficiary string          `json:"beneficiary,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     string          `json:"due_date,omitempty"`
	Branch      string          `json:"branch"`
	Category    string          `json:"category,omitempty"`
	Status      string          `json:"status"`
}

type resultResponse struct {
	Account            *accountResponse `json:"account"`
	Entries            int              `json:"entries_changed"`
	Warnings           []string         `json:"warnings,omitempty"`
	ManualIntervention bool             `json:"manual_intervention,omitempty"`
}

// ServeHTTP routes /api/v1/vendor-accounts and /api/v1/vendor-accounts/.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, basePath), "/")
	parts := strings.Split(rest, "/")
	switch {
	case rest == "" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case rest == "" && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case len(parts) == 1 && rest != "" && r.Method == http.MethodDelete:
		h.handleDelete(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost:
		h.handleStatus(w, r, parts[0])
	case len(parts) <= 2:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.propagator.List(r.Context(), r.URL.Query().Get("branch"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	out := make([]*accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, h.account(a))
	}
	apihttp.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := apihttp.DecodeJSON(w, r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	var due time.Time
	if req.DueDate != "" {
		parsed, err := time.ParseInLocation(apihttp.DateLayout, req.DueDate, h.loc)
		if err != nil {
			apihttp.WriteError(w, failure.Validation("due_date", "must be YYYY-MM-DD"))
			return
		}
		due = parsed
	}
	res, err := h.propagator.Create(r.Context(), vendorapp.CreateInput{
		Description: req.Description,
		Kind:        vendorpay.Kind(strings.ToLower(req.Kind)),
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
		DueDate:     due,
		Branch:      req.Branch,
		Category:    req.Category,
		SpawnEntry:  req.SpawnEntry,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	h.logAudit(r, "vendor_account.create", res.Account.ID, map[string]any{"spawn_entry": req.SpawnEntry})
	apihttp.WriteJSON(w, http.StatusCreated, h.result(res))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req statusRequest
	if err := apihttp.DecodeJSON(w, r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	res, err := h.propagator.ChangeStatus(r.Context(), id, vendorpay.Status(req.Status))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	h.logAudit(r, "vendor_account.status", id, map[string]any{"status": string(res.Account.Status), "entries": res.Entries})
	apihttp.WriteJSON(w, http.StatusOK, h.result(res))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.propagator.Delete(r.Context(), id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	h.logAudit(r, "vendor_account.delete", id, map[string]any{"entries": res.Entries, "warnings": len(res.Warnings)})
	apihttp.WriteJSON(w, http.StatusOK, h.result(res))
}

func (h *Handler) account(a *vendorpay.Account) *accountResponse {
	if a == nil {
		return nil
	}
	out := &accountResponse{
		ID:          a.ID,
		Description: a.Description,
		Kind:        string(a.Kind),
		Beneficiary: a.Beneficiary,
		Amount:      a.Amount,
		Branch:      a.Branch,
		Category:    a.Category,
		Status:      string(a.Status),
	}
	if !a.DueDate.IsZero() {
		out.DueDate = a.DueDate.In(h.loc).Format(apihttp.DateLayout)
	}
	return out
}

func (h *Handler) result(res *vendorapp.Result) resultResponse {
	out := resultResponse{
		Account:  h.account(res.Account),
		Entries:  res.Entries,
		Warnings: failure.Messages(res.Warnings),
	}
	for _, w := range res.Warnings {
		if w != nil && w.ManualIntervention {
			out.ManualIntervention = true
		}
	}
	return out
}

func (h *Handler) logAudit(r *http.Request, action, accountID string, details map[string]any) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(details)
	entry := audit.FromRequest(r, audit.Entry{
		Actor:        auth.ActorFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "vendor_account",
		ResourceID:   accountID,
		Metadata:     meta,
	})
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("access audit write failed")
	}
}
