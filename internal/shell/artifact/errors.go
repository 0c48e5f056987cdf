package artifact

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when no record exists for a unit.
	ErrNotFound = errors.New("artifact not found")

	// ErrIncompleteRecord is returned when a record has a descriptor but no
	// address, i.e. a write was interrupted.
	ErrIncompleteRecord = errors.New("artifact record is incomplete")

	// ErrInvalidData is returned for empty names, empty addresses or a
	// descriptor that is not valid JSON.
	ErrInvalidData = errors.New("invalid artifact data")

	// ErrConnectionFailed is returned when the backend cannot be reached.
	ErrConnectionFailed = errors.New("artifact store connection failed")

	// ErrMigrationFailed is returned when database migration fails.
	ErrMigrationFailed = errors.New("artifact store migration failed")

	// ErrTxFailed is returned when a transaction operation fails.
	ErrTxFailed = errors.New("transaction failed")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown artifact store backend")
)

// StoreError wraps errors with additional context.
type StoreError struct {
	Op      string // Operation that failed (e.g., "Persist")
	Unit    string // Unit name if applicable
	Field   string // Record field if applicable
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Unit != "" && e.Field != "" {
		return fmt.Sprintf("%s %s.%s: %s", e.Op, e.Unit, e.Field, e.Message)
	}
	if e.Unit != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Unit, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, unit, field, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Unit:    unit,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
