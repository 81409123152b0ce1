package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the service-wide failure taxonomy. Services wrap these
// with %w and a human-readable detail; handlers map them to HTTP statuses
// with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("state conflict")
	ErrInvalid   = errors.New("invalid input")
)

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// Forbidden wraps ErrForbidden with the denied action.
func Forbidden(action string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, action)
}

// Conflict wraps ErrConflict naming the required state so callers can
// self-diagnose a wrong-state request.
func Conflict(action, current, required string) error {
	return fmt.Errorf("%w: cannot %s while status is %s (requires %s)", ErrConflict, action, current, required)
}

// Invalid wraps ErrInvalid with a field-level detail message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// HTTPStatus maps a taxonomy error to its HTTP status code. Unrecognised
// errors are internal.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return 400
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrConflict):
		return 409
	}
	return 500
}
