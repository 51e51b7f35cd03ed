package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apihttp "finance-backoffice/internal/api/http"
	"finance-backoffice/internal/audit"
	"finance-backoffice/internal/auth"
	billingapp "finance-backoffice/internal/billing/application"
	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/eventing"
)

const basePath = "/api/v1/charges"

type installmentAction func(ctx context.Context, chargeID string, n int, actor string) (*billingapp.CommandResult, error)

// Handler serves charge reads and installment commands.
type Handler struct {
	commands    *billingapp.CommandService
	queries     *billingapp.QueryService
	auditLogger audit.Logger
	loc         *time.Location
	logger      zerolog.Logger
	actions     map[string]installmentAction
}

// NewHandler constructs a handler. A nil audit logger skips access audit.
func NewHandler(commands *billingapp.CommandService, queries *billingapp.QueryService, auditLogger audit.Logger, loc *time.Location, logger zerolog.Logger) (*Handler, error) {
	if commands == nil {
		return nil, errors.New("charges handler: nil command service")
	}
	if queries == nil {
		return nil, errors.New("charges handler: nil query service")
	}
	if loc == nil {
		loc = time.UTC
	}
	h := &Handler{commands: commands, queries: queries, auditLogger: auditLogger, loc: loc, logger: logger}
	h.actions = map[string]installmentAction{
		"confirm-payment": commands.ConfirmPayment,
		"undo-payment":    commands.UndoPayment,
		"cancel":          commands.CancelInstallment,
		"undo-cancel":     commands.UndoCancellation,
	}
	return h, nil
}

// ServeHTTP routes /api/v1/charges and /api/v1/charges/.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, basePath), "/")
	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.Split(rest, "/")
	id := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case len(parts) == 2 && parts[1] == "schedule.xlsx" && r.Method == http.MethodGet:
		h.handleSchedule(w, r, id)
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost:
		h.handleStatus(w, r, id)
	case len(parts) == 4 && parts[1] == "installments" && r.Method == http.MethodPost:
		h.handleInstallment(w, r, id, parts[2], parts[3])
	case len(parts) <= 4 && r.Method != http.MethodGet && r.Method != http.MethodPost:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := billing.ChargeFilter{Branch: r.URL.Query().Get("branch")}
	if value := r.URL.Query().Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	views, err := h.queries.List(r.Context(), filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	out := make([]chargeResponse, 0, len(views))
	for _, v := range views {
		out = append(out, newChargeResponse(v, h.loc))
	}
	apihttp.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	view, err := h.queries.Get(r.Context(), id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, newChargeResponse(view, h.loc))
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request, id string) {
	view, err := h.queries.Get(r.Context(), id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	data, err := BuildScheduleXLSX(view)
	if err != nil {
		h.logger.Error().Err(err).Str("charge_id", id).Msg("schedule export failed")
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule-`+id+`.xlsx"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createChargeRequest
	if err := apihttp.DecodeJSON(w, r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	res, err := h.commands.CreateCharge(r.Context(), req.input(), auth.ActorFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	h.logAudit(r, "charge.create", res.Charge.ID, map[string]any{
		"installments": res.Charge.Count(),
		"branch":       res.Charge.Branch,
	})
	apihttp.WriteJSON(w, http.StatusCreated, newCommandResponse(res))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req statusRequest
	if err := apihttp.DecodeJSON(w, r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	res, err := h.commands.ReportStatus(r.Context(), id, req.Status, auth.ActorFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	h.logAudit(r, "charge.status", id, map[string]any{"status": req.Status})
	apihttp.WriteJSON(w, http.StatusOK, newCommandResponse(res))
}

func (h *Handler) handleInstallment(w http.ResponseWriter, r *http.Request, id, number, name string) {
	action, ok := h.actions[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		http.Error(w, "installment must be an integer", http.StatusBadRequest)
		return
	}
	actor := auth.ActorFromContext(r.Context())
	res, err := action(eventing.WithActor(r.Context(), actor), id, n, actor)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	h.logAudit(r, "installment."+name, id, map[string]any{
		"installment": n,
		"warnings":    len(res.Warnings),
	})
	apihttp.WriteJSON(w, http.StatusOK, newCommandResponse(res))
}

func (h *Handler) logAudit(r *http.Request, action, chargeID string, details map[string]any) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(details)
	entry := audit.FromRequest(r, audit.Entry{
		Actor:        auth.ActorFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "charge",
		ResourceID:   chargeID,
		Metadata:     meta,
	})
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("access audit write failed")
	}
}
