package failure

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	cases := map[Classification]bool{
		Timeout:       true,
		RateLimit:     true,
		Unknown:       true,
		ProviderError: false,
		Validation:    false,
		Capped:        false,
		RateLimited:   false,
		InProgress:    false,
		InvalidStatus: false,
	}
	for c, want := range cases {
		assert.Equal(t, want, c.Retryable(), string(c))
	}
}

func TestSanitizeNeverLeaksAndCoversTaxonomy(t *testing.T) {
	for _, c := range []Classification{Timeout, RateLimit, ProviderError, Validation, Capped, RateLimited, InProgress, InvalidStatus, Unknown} {
		p := Sanitize(c)
		assert.NotEmpty(t, p.Code, string(c))
		assert.NotEmpty(t, p.Message, string(c))
	}
	assert.Equal(t, Sanitize(Unknown), Sanitize(Classification("boom: sk-secret")))
}

func TestAPIError(t *testing.T) {
	err := APIError(RateLimited)
	assert.Equal(t, http.StatusTooManyRequests, err.Status)
	assert.Equal(t, "RATE_LIMITED", err.Code)
	assert.Contains(t, err.Error(), "too many")
}
