package orchestrator

import (
	"errors"

	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/parser"
	"github.com/yungbote/planforge-backend/internal/generation/provider"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
	"github.com/yungbote/planforge-backend/internal/generation/timeout"
)

// Classify maps an attempt error to its classification and whether a later
// attempt may succeed. timedOut is the controller's verdict and wins over
// whatever error the cancellation surfaced as.
func Classify(err error, timedOut bool) (failure.Classification, bool) {
	if timedOut || errors.Is(err, timeout.ErrTimedOut) {
		return failure.Timeout, true
	}
	if errors.Is(err, parser.ErrInvalidResponse) || errors.Is(err, reservation.ErrEmptyCurriculum) {
		return failure.Validation, false
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case provider.KindTimeout:
			return failure.Timeout, true
		case provider.KindRateLimit:
			return failure.RateLimit, true
		case provider.KindInvalidResponse:
			return failure.Validation, false
		default:
			return failure.ProviderError, pe.Retryable()
		}
	}
	if errors.Is(err, provider.ErrNoProviders) {
		return failure.ProviderError, false
	}
	return failure.Unknown, true
}

// rejection maps a reservation-level reason to the attempt classification
// reported to callers.
func rejection(reason failure.Classification) failure.Classification {
	if reason == failure.RateLimited {
		return failure.RateLimit
	}
	return reason
}
