package http

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	billingapp "finance-backoffice/internal/billing/application"
	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/failure"
)

type createChargeRequest struct {
	ID                string          `json:"id"`
	PayerTaxID        string          `json:"payer_tax_id"`
	PayerName         string          `json:"payer_name"`
	Service           string          `json:"service"`
	Branch            string          `json:"branch"`
	InstallmentAmount decimal.Decimal `json:"installment_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	InstallmentCount  int             `json:"installment_count"`
	FirstDueDate      string          `json:"first_due_date"`
	Status            string          `json:"status"`
}

func (r createChargeRequest) input() billingapp.CreateChargeInput {
	return billingapp.CreateChargeInput{
		ID:                r.ID,
		PayerTaxID:        r.PayerTaxID,
		PayerName:         r.PayerName,
		Service:           r.Service,
		Branch:            r.Branch,
		InstallmentAmount: r.InstallmentAmount,
		TotalAmount:       r.TotalAmount,
		InstallmentCount:  r.InstallmentCount,
		FirstDueDate:      r.FirstDueDate,
		Status:            r.Status,
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

type installmentResponse struct {
	Number      int             `json:"number"`
	DueDate     string          `json:"due_date"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	CancelledAt string          `json:"cancelled_at,omitempty"`
}

type historyResponse struct {
	ID          string          `json:"id,omitempty"`
	Action      string          `json:"action,omitempty"`
	User        string          `json:"user,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Details     map[string]any  `json:"details,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	DecodeError string          `json:"decode_error,omitempty"`
}

type chargeResponse struct {
	ID                string                `json:"id"`
	PayerTaxID        string                `json:"payer_tax_id,omitempty"`
	PayerName         string                `json:"payer_name"`
	Service           string                `json:"service"`
	Branch            string                `json:"branch"`
	Status            string                `json:"status"`
	StatusRecognized  bool                  `json:"status_recognized"`
	Overdue           bool                  `json:"overdue"`
	InstallmentAmount decimal.Decimal       `json:"installment_amount"`
	InstallmentCount  int                   `json:"installment_count"`
	FirstDueDate      string                `json:"first_due_date"`
	Installments      []installmentResponse `json:"installments"`
	History           []historyResponse     `json:"history"`
	HistoryIntact     bool                  `json:"history_intact"`
	HistoryBrokenAt   *int                  `json:"history_broken_at,omitempty"`
	Warnings          []string              `json:"warnings,omitempty"`
}

type commandResponse struct {
	ChargeID string   `json:"charge_id"`
	Status   string   `json:"status"`
	History  int      `json:"history_length"`
	Warnings []string `json:"warnings,omitempty"`
}

func newChargeResponse(v *billingapp.ChargeView, loc *time.Location) chargeResponse {
	c := v.Charge
	resp := chargeResponse{
		ID:                c.ID,
		PayerTaxID:        c.PayerTaxID,
		PayerName:         c.PayerName,
		Service:           c.Service,
		Branch:            c.Branch,
		Status:            c.Status,
		StatusRecognized:  v.StatusRecognized,
		Overdue:           v.Overdue,
		InstallmentAmount: c.ResolvedAmount(),
		InstallmentCount:  c.Count(),
		FirstDueDate:      c.FirstDueDate,
		Installments:      make([]installmentResponse, 0, len(v.Installments)),
		History:           make([]historyResponse, 0, len(v.History)),
		HistoryIntact:     v.HistoryIntact,
		Warnings:          failure.Messages(v.Warnings),
	}
	if !v.HistoryIntact {
		at := v.HistoryBrokenAt
		resp.HistoryBrokenAt = &at
	}
	for _, inst := range v.Installments {
		item := installmentResponse{
			Number:  inst.Number,
			DueDate: inst.DueDate.Format(billing.DateLayout),
			Amount:  inst.Amount,
			Status:  string(inst.Status),
		}
		if inst.CancelledAt != nil {
			item.CancelledAt = billing.FormatTimestamp(billing.ModernTimestamp(*inst.CancelledAt), loc)
		}
		resp.Installments = append(resp.Installments, item)
	}
	for _, h := range v.History {
		if h.DecodeError != "" {
			resp.History = append(resp.History, historyResponse{Raw: rawOrString(h.Raw), DecodeError: h.DecodeError})
			continue
		}
		resp.History = append(resp.History, historyResponse{
			ID:        h.Entry.ID,
			Action:    h.Entry.Action,
			User:      h.Entry.User,
			Timestamp: h.DisplayTime,
			Details:   h.Entry.Details,
		})
	}
	return resp
}

func newCommandResponse(res *billingapp.CommandResult) commandResponse {
	return commandResponse{
		ChargeID: res.Charge.ID,
		Status:   res.Charge.Status,
		History:  len(res.Charge.History),
		Warnings: failure.Messages(res.Warnings),
	}
}

func rawOrString(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
