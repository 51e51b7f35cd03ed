package billing

import (
	"fmt"
	"strings"
)

// InstallmentStatus is the canonical lifecycle state of an installment.
type InstallmentStatus string

const (
	StatusWaiting   InstallmentStatus = "WAITING"
	StatusPaid      InstallmentStatus = "PAID"
	StatusOverdue   InstallmentStatus = "OVERDUE"
	StatusRefunded  InstallmentStatus = "REFUNDED"
	StatusCancelled InstallmentStatus = "CANCELLED"
)

// Valid reports whether s is one of the canonical statuses.
func (s InstallmentStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusPaid, StatusOverdue, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// defaultVocabulary maps every externally reported status variant seen in
// stored charges onto a canonical status. Keys are upper-cased.
var defaultVocabulary = map[string]InstallmentStatus{
	"WAITING":                      StatusWaiting,
	"PENDING":                      StatusWaiting,
	"AWAITING":                     StatusWaiting,
	"AWAITING_PAYMENT":             StatusWaiting,
	"AWAITING_RISK_ANALYSIS":       StatusWaiting,
	"AGUARDANDO":                   StatusWaiting,
	"AGUARDANDO_PAGAMENTO":         StatusWaiting,
	"PENDENTE":                     StatusWaiting,
	"PAID":                         StatusPaid,
	"RECEIVED":                     StatusPaid,
	"CONFIRMED":                    StatusPaid,
	"RECEIVED_IN_CASH":             StatusPaid,
	"PAGO":                         StatusPaid,
	"RECEBIDO":                     StatusPaid,
	"CONFIRMADO":                   StatusPaid,
	"OVERDUE":                      StatusOverdue,
	"LATE":                         StatusOverdue,
	"VENCIDO":                      StatusOverdue,
	"ATRASADO":                     StatusOverdue,
	"REFUNDED":                     StatusRefunded,
	"REFUND_REQUESTED":             StatusRefunded,
	"REFUND_IN_PROGRESS":           StatusRefunded,
	"CHARGEBACK_REQUESTED":         StatusRefunded,
	"CHARGEBACK_DISPUTE":           StatusRefunded,
	"AWAITING_CHARGEBACK_REVERSAL": StatusRefunded,
	"ESTORNADO":                    StatusRefunded,
	"CANCELLED":                    StatusCancelled,
	"CANCELED":                     StatusCancelled,
	"DELETED":                      StatusCancelled,
	"CANCELADO":                    StatusCancelled,
}

// Vocabulary is the single mapping table from reported status strings onto
// canonical statuses. The zero value uses the built-in table.
type Vocabulary struct {
	table map[string]InstallmentStatus
}

// DefaultVocabulary returns the built-in mapping table.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{table: defaultVocabulary}
}

// WithAliases returns a copy of v extended with extra variants. Every alias
// must target a canonical status.
func (v Vocabulary) WithAliases(aliases map[string]string) (Vocabulary, error) {
	base := v.entries()
	table := make(map[string]InstallmentStatus, len(base)+len(aliases))
	for k, s := range base {
		table[k] = s
	}
	for alias, target := range aliases {
		key := normalizeStatusKey(alias)
		if key == "" {
			return v, fmt.Errorf("billing: empty status alias for %q", target)
		}
		status := InstallmentStatus(normalizeStatusKey(target))
		if !status.Valid() {
			return v, fmt.Errorf("billing: status alias %q targets unknown status %q", alias, target)
		}
		table[key] = status
	}
	return Vocabulary{table: table}, nil
}

// Parse maps a reported status onto a canonical one. Unrecognized input
// returns StatusWaiting and false.
func (v Vocabulary) Parse(raw string) (InstallmentStatus, bool) {
	status, ok := v.entries()[normalizeStatusKey(raw)]
	if !ok {
		return StatusWaiting, false
	}
	return status, true
}

// Known reports whether raw is present in the table.
func (v Vocabulary) Known(raw string) bool {
	_, ok := v.Parse(raw)
	return ok
}

func (v Vocabulary) entries() map[string]InstallmentStatus {
	if v.table == nil {
		return defaultVocabulary
	}
	return v.table
}

func normalizeStatusKey(raw string) string {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	return strings.ReplaceAll(key, "-", "_")
}

// ResolveStatus computes the status of installment number for charge.
// Cancellation wins over payment, payment wins over the reported status.
func ResolveStatus(number int, charge *Charge, vocab Vocabulary) InstallmentStatus {
	if charge == nil {
		return StatusWaiting
	}
	if charge.CancelledInstallments.Has(number) {
		return StatusCancelled
	}
	if charge.PaidInstallments.Has(number) {
		return StatusPaid
	}
	status, _ := vocab.Parse(charge.Status)
	return status
}
