package common

import (
	"errors"
	"net/http"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrResourceLimit = errors.New("resource limit exceeded")
	ErrInternal      = errors.New("internal error")

	// ErrUnauthenticated marks requests without a valid session when the password gate is on.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidRange is carried by validation errors for unparsable or unsatisfiable Range headers.
	ErrInvalidRange = errors.New("invalid range")
)

const internalMessage = "Internal server error"

// Error is a classified failure. Message is safe to show to the caller,
// Err keeps the underlying cause for logs.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func AccessDenied(msg string) error {
	return &Error{Kind: ErrAccessDenied, Message: msg}
}

func ResourceLimit(msg string) error {
	return &Error{Kind: ErrResourceLimit, Message: msg}
}

func Internal(msg string, err error) error {
	return &Error{Kind: ErrInternal, Message: msg, Err: err}
}

func Unauthenticated(msg string) error {
	return &Error{Kind: ErrUnauthenticated, Message: msg}
}

// InvalidRange reports a Range header that cannot be served.
func InvalidRange(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg, Err: ErrInvalidRange}
}

// Status maps an error to the HTTP status reported at the boundary.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrResourceLimit):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text a caller may see. Internal failures are
// reported with a generic message; details only go to the log.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || Status(err) == http.StatusInternalServerError {
		return internalMessage
	}
	return e.Message
}
