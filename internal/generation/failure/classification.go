// Package failure defines the attempt failure taxonomy, its retryability
// rules, and the user-facing sanitizer.
package failure

type Classification string

const (
	Timeout       Classification = "timeout"
	RateLimit     Classification = "rate_limit"
	ProviderError Classification = "provider_error"
	Validation    Classification = "validation"
	Capped        Classification = "capped"
	RateLimited   Classification = "rate_limited"
	InProgress    Classification = "in_progress"
	InvalidStatus Classification = "invalid_status"
	Unknown       Classification = "unknown"
)

// Retryable reports whether an attempt that failed with c may be retried.
// provider_error is decided per error by the caller and is false here.
func (c Classification) Retryable() bool {
	switch c {
	case Timeout, RateLimit, Unknown:
		return true
	default:
		return false
	}
}

// Reservation reports whether c is a reservation-level rejection, i.e. no
// attempt row exists for it.
func (c Classification) Reservation() bool {
	switch c {
	case Capped, RateLimited, InProgress, InvalidStatus:
		return true
	default:
		return false
	}
}

func (c Classification) String() string { return string(c) }
