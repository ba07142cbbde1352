package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/planforge-backend/internal/platform/ctxutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

func authRouter(am *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(am.RequireAuth())
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, ctxutil.UserID(c.Request.Context()).String())
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	cfg := AuthConfig{Secret: "test-secret", Issuer: "planforge"}
	am := NewAuthMiddleware(logger.NewNop(), cfg)
	r := authRouter(am)
	userID := uuid.New()

	valid, err := IssueToken(cfg, userID, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(cfg, userID, -time.Hour)
	require.NoError(t, err)
	foreign, err := IssueToken(AuthConfig{Secret: "other", Issuer: "planforge"}, userID, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := IssueToken(AuthConfig{Secret: "test-secret", Issuer: "someone"}, userID, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"bad signature", "Bearer " + foreign, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + wrongIssuer, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, userID.String(), rec.Body.String())
			}
		})
	}
}

func TestVerifyWithoutSecretRejects(t *testing.T) {
	am := NewAuthMiddleware(logger.NewNop(), AuthConfig{})
	_, err := am.Verify("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
