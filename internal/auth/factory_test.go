package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/sheetsync-server/internal/config"
)

func TestNewAuthMiddleware(t *testing.T) {
	t.Parallel()

	echoUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := PrincipalFromContext(r.Context())
		_, _ = w.Write([]byte(user))
	})

	t.Run("nil config is anonymous", func(t *testing.T) {
		t.Parallel()
		mw, err := NewAuthMiddleware(nil)
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		mw(echoUser).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, config.DefaultAnonymousUser, rr.Body.String())
	})

	t.Run("jwt mode", func(t *testing.T) {
		t.Parallel()
		mw, err := NewAuthMiddleware(&config.AuthConfig{Mode: config.AuthModeJWT, Secret: testSecret})
		require.NoError(t, err)
		h := mw(echoUser)

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code, "health stays public")

		token, err := SignToken(testSecret, "alice", time.Minute, nil)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/tables", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "alice", rr.Body.String())
	})

	t.Run("jwt mode without secret", func(t *testing.T) {
		t.Parallel()
		_, err := NewAuthMiddleware(&config.AuthConfig{Mode: config.AuthModeJWT})
		assert.ErrorContains(t, err, "no signing secret configured")
	})

	t.Run("unknown mode", func(t *testing.T) {
		t.Parallel()
		_, err := NewAuthMiddleware(&config.AuthConfig{Mode: "saml"})
		assert.ErrorContains(t, err, "unsupported auth mode")
	})
}
