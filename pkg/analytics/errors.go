package analytics

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by errors returned when the requested account or
	// contact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoData is returned when a trend or anomaly computation is asked to
	// work on an empty series.
	ErrNoData = errors.New("no data available")

	// ErrInvalidInput is returned for malformed report parameters.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError identifies the missing entity. It matches ErrNotFound.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is reports whether target is ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ComputationError is the user-safe failure returned by every report.
// Error() never exposes the cause; use errors.Unwrap or errors.Is to inspect it.
type ComputationError struct {
	What  string
	Cause error
}

func (e *ComputationError) Error() string {
	return "failed to retrieve " + e.What
}

func (e *ComputationError) Unwrap() error {
	return e.Cause
}

// failure wraps cause unless it is already a NotFound or input error, which
// callers need to see verbatim.
func failure(what string, cause error) error {
	if errors.Is(cause, ErrNotFound) || errors.Is(cause, ErrInvalidInput) {
		return cause
	}
	return &ComputationError{What: what, Cause: cause}
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
