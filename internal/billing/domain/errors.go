package billing

import "errors"

var (
	// ErrChargeNotFound is returned when a charge id does not exist.
	ErrChargeNotFound = errors.New("billing: charge not found")
	// ErrChargeExists is returned when creating a charge whose id is taken.
	ErrChargeExists = errors.New("billing: charge already exists")
	// ErrEmptyChargeID is returned when a charge id is empty.
	ErrEmptyChargeID = errors.New("billing: empty charge id")
	// ErrNilCharge is returned when saving a nil charge.
	ErrNilCharge = errors.New("billing: nil charge")
	// ErrInvalidInstallment is returned for installment numbers outside 1..n.
	ErrInvalidInstallment = errors.New("billing: invalid installment number")
	// ErrInvalidAmount is returned for negative or unparseable amounts.
	ErrInvalidAmount = errors.New("billing: invalid amount")
	// ErrTransactionConflict is returned by a repository when a concurrent
	// writer won the race. Callers may retry.
	ErrTransactionConflict = errors.New("billing: transaction conflict")
	// ErrTransactionFailed is returned once conflict retries are exhausted.
	ErrTransactionFailed = errors.New("billing: transaction failed")
	// ErrHistoryRewrite is returned when an update would alter stored history.
	ErrHistoryRewrite = errors.New("billing: history is append-only")
)
