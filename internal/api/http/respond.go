package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/failure"
	ledger "finance-backoffice/internal/ledger/domain"
	vendorpay "finance-backoffice/internal/vendorpay/domain"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code and writes an ErrorBody.
func WriteError(w http.ResponseWriter, err error) {
	body := ErrorBody{Error: err.Error()}
	var verr *failure.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	WriteJSON(w, StatusFor(err), body)
}

// StatusFor classifies service errors.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, billing.ErrChargeNotFound),
		errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, vendorpay.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, vendorpay.ErrInvalidTransition):
		return http.StatusConflict
	case failure.IsValidation(err),
		errors.Is(err, billing.ErrInvalidInstallment),
		errors.Is(err, billing.ErrInvalidAmount),
		errors.Is(err, billing.ErrEmptyChargeID):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrChargeExists),
		errors.Is(err, vendorpay.ErrAccountExists),
		errors.Is(err, billing.ErrTransactionFailed),
		errors.Is(err, billing.ErrHistoryRewrite):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON reads a JSON request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return failure.Validation("body", "required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return failure.Validation("body", "invalid json")
	}
	return nil
}
