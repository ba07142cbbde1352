package failure

import (
	"net/http"

	"github.com/yungbote/planforge-backend/internal/platform/apierr"
)

// Public is what end users see for a failed attempt. It never carries
// provider text, stack traces or credentials.
type Public struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

var publicByClassification = map[Classification]Public{
	Timeout: {
		Code:    "GENERATION_TIMEOUT",
		Message: "Plan generation took too long. Please try again.",
		Status:  http.StatusGatewayTimeout,
	},
	RateLimit: {
		Code:    "PROVIDER_BUSY",
		Message: "The plan generator is busy right now. Please try again shortly.",
		Status:  http.StatusServiceUnavailable,
	},
	ProviderError: {
		Code:    "PROVIDER_ERROR",
		Message: "We could not generate your plan. Please try again.",
		Status:  http.StatusBadGateway,
	},
	Validation: {
		Code:    "INVALID_GENERATION",
		Message: "The generated plan was not usable. Please adjust your request and try again.",
		Status:  http.StatusUnprocessableEntity,
	},
	Capped: {
		Code:    "ATTEMPTS_EXHAUSTED",
		Message: "This plan has reached its generation attempt limit.",
		Status:  http.StatusConflict,
	},
	RateLimited: {
		Code:    "RATE_LIMITED",
		Message: "You have started too many plan generations. Please wait before trying again.",
		Status:  http.StatusTooManyRequests,
	},
	InProgress: {
		Code:    "GENERATION_IN_PROGRESS",
		Message: "A generation for this plan is already running.",
		Status:  http.StatusConflict,
	},
	InvalidStatus: {
		Code:    "INVALID_PLAN_STATE",
		Message: "This plan cannot be generated in its current state.",
		Status:  http.StatusConflict,
	},
	Unknown: {
		Code:    "GENERATION_FAILED",
		Message: "Something went wrong while generating your plan. Please try again.",
		Status:  http.StatusInternalServerError,
	},
}

// Sanitize maps a classification to its fixed public message.
func Sanitize(c Classification) Public {
	if p, ok := publicByClassification[c]; ok {
		return p
	}
	return publicByClassification[Unknown]
}

// APIError wraps the public form for the HTTP layer.
func APIError(c Classification) *apierr.Error {
	p := Sanitize(c)
	return apierr.New(p.Status, p.Code, publicError(p.Message))
}

type publicError string

func (e publicError) Error() string { return string(e) }
