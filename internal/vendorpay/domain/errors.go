package vendorpay

import "errors"

var (
	// ErrAccountNotFound is returned when an account id does not exist or
	// was deleted.
	ErrAccountNotFound = errors.New("vendorpay: account not found")
	// ErrAccountExists is returned when creating a duplicate id.
	ErrAccountExists = errors.New("vendorpay: account already exists")
	// ErrNilAccount is returned when saving a nil account.
	ErrNilAccount = errors.New("vendorpay: nil account")
	// ErrInvalidStatus is returned for unknown statuses.
	ErrInvalidStatus = errors.New("vendorpay: invalid status")
	// ErrInvalidKind is returned for unknown payment kinds.
	ErrInvalidKind = errors.New("vendorpay: invalid kind")
	// ErrInvalidTransition is returned for disallowed status changes.
	ErrInvalidTransition = errors.New("vendorpay: invalid status transition")
)
