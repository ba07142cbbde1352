package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an HTTP-facing error: a status, a stable code, and an error whose
// text is safe to show to end users.
type Error struct {
	Status int
	Code   string
	Err    error
	// RetryAfterSeconds is surfaced as a Retry-After header when positive.
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// From extracts an *Error from err, or wraps it as an opaque internal error.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, "internal_error", errors.New("internal error"))
}
