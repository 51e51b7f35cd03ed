package ledger

import "errors"

var (
	// ErrEntryNotFound is returned when an entry id does not exist.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrNilEntry is returned when saving a nil entry.
	ErrNilEntry = errors.New("ledger: nil entry")
	// ErrInvalidType is returned for unknown entry types.
	ErrInvalidType = errors.New("ledger: invalid entry type")
	// ErrDuplicateActive is returned when inserting a second active entry
	// for the same installment payment.
	ErrDuplicateActive = errors.New("ledger: active entry already exists")
)
