// Package failure holds the error types shared by the billing, ledger and
// vendor payment contexts.
package failure

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

// Validation builds a ValidationError for a field.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Validationf wraps a sentinel with field details.
func Validationf(err error, field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (e *ValidationError) Error() string {
	switch {
	case e.Err != nil && e.Field != "":
		return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	default:
		return "invalid input: " + e.Reason
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// PartialFailure reports a downstream step that failed after the primary
// write already committed. It is surfaced as a warning, never rolled back.
type PartialFailure struct {
	Step string
	Err  error
	// ManualIntervention marks failures that no automatic retry will repair.
	ManualIntervention bool
}

// Partial builds a PartialFailure for a step.
func Partial(step string, err error) *PartialFailure {
	return &PartialFailure{Step: step, Err: err}
}

func (e *PartialFailure) Error() string {
	if e.ManualIntervention {
		return fmt.Sprintf("%s failed (manual intervention required): %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

// Messages renders warnings for API responses.
func Messages(warnings []*PartialFailure) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if w != nil {
			out = append(out, w.Error())
		}
	}
	return out
}
