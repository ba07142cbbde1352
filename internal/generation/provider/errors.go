package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindRateLimit       Kind = "rate_limit"
	KindInvalidResponse Kind = "invalid_response"
	KindServer          Kind = "server"
	KindClient          Kind = "client"
	KindNetwork         Kind = "network"
	KindUnknown         Kind = "unknown"
)

// Error is the typed failure every provider returns. Message is internal and
// may contain upstream text; it must never reach end users unsanitized.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "provider error"
	}
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Message != "" {
		msg += " " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable is the error-specific predicate: network and 5xx style failures
// may succeed on a second try, 4xx style and malformed output will not.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindTimeout, KindRateLimit, KindServer, KindNetwork, KindUnknown:
		return true
	default:
		return false
	}
}

func Errorf(provider string, kind Kind, format string, args ...any) *Error {
	return &Error{Provider: provider, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FromStatus maps an upstream HTTP status to an Error.
func FromStatus(provider string, status int, body string) *Error {
	kind := KindUnknown
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindServer
	case status >= 400:
		kind = KindClient
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: status, Message: body}
}

// Wrap converts an arbitrary transport error into an Error. Context errors
// are returned unchanged so callers can tell cancellation apart.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return &Error{Provider: provider, Kind: KindTimeout, Err: err}
		}
		return &Error{Provider: provider, Kind: KindNetwork, Err: err}
	}
	return &Error{Provider: provider, Kind: KindUnknown, Err: err}
}

// IsTransient reports whether err is worth another try against the same provider.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
