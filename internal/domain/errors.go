package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrReceiptNotFound means no receipt exists for the given ID.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrBranchNotFound means no branch exists for the given ID.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrIllegalTransition means the requested lifecycle transition is not
	// allowed from the receipt's current status.
	ErrIllegalTransition = errors.New("illegal receipt status transition")

	// ErrDuplicateCommit means a ledger write targeted a transaction ID that
	// is already committed. Callers treat this as a no-op success.
	ErrDuplicateCommit = errors.New("duplicate ledger commit")

	// ErrNegativeBatchTotal means a POS batch summed to a negative amount
	// and was rejected whole; a negative aggregate indicates an upstream
	// data error, not a refund.
	ErrNegativeBatchTotal = errors.New("POS batch total is negative")

	// ErrClassificationUnavailable means the classification backend failed
	// or answered outside the permitted category set. The affected item
	// degrades to uncategorized; the receipt itself is unaffected.
	ErrClassificationUnavailable = errors.New("classification backend unavailable")
)

// ValidationError reports caller-correctable bad input. It never indicates
// mutated state: the operation that raised it left everything as it was.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
