// Package auth establishes the current user of a request, either from an HS256
// bearer token or as a fixed anonymous principal.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// RFC 6750 Section 3 error codes
const (
	errorCodeInvalidRequest = "invalid_request"
	errorCodeInvalidToken   = "invalid_token"
)

// accessTokenParam carries the token on WebSocket upgrades, where browsers cannot set headers
const accessTokenParam = "access_token"

// defaultRealm is the protection space reported in WWW-Authenticate
const defaultRealm = "sheetsync"

var errNoToken = errors.New("missing bearer token")

// bearerMiddleware authenticates requests with a bearer token
type bearerMiddleware struct {
	validator tokenValidatorInterface
	realm     string
}

// Middleware returns an HTTP middleware function that performs authentication.
func (m *bearerMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractToken(r)
		if err != nil {
			slog.Warn("Token extraction failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			m.writeError(w, errorCodeInvalidRequest, "missing or malformed authorization header")
			return
		}

		claims, err := m.validator.ValidateToken(r.Context(), token)
		if err != nil {
			slog.Warn("Token validation failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			m.writeError(w, errorCodeInvalidToken, "token validation failed")
			return
		}

		sub, _ := claims.GetSubject()
		slog.Debug("Authentication successful", "subject", sub, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), sub)))
	})
}

// extractToken reads the token from the Authorization header, falling back to
// the access_token query parameter
func extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", fmt.Errorf("unsupported authorization scheme")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return "", errNoToken
		}
		return token, nil
	}
	if token := r.URL.Query().Get(accessTokenParam); token != "" {
		return token, nil
	}
	return "", errNoToken
}

// sanitizeHeaderValue strips characters that would break out of a quoted header value
func sanitizeHeaderValue(s string) string {
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.ReplaceAll(s, `"`, `\"`)
}

// writeError writes a 401 JSON error with an RFC 6750 WWW-Authenticate header
func (m *bearerMiddleware) writeError(w http.ResponseWriter, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		sanitizeHeaderValue(m.realm), errCode, sanitizeHeaderValue(description)))
	w.WriteHeader(http.StatusUnauthorized)

	resp := struct {
		Error string `json:"error"`
	}{
		Error: description,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// anonymousMiddleware attaches a fixed principal to every request
func anonymousMiddleware(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), userID)))
		})
	}
}
