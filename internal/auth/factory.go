package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stacklok/sheetsync-server/internal/config"
)

// NewAuthMiddleware creates authentication middleware based on config.
// Paths in cfg.PublicPaths, plus DefaultPublicPaths, skip authentication.
func NewAuthMiddleware(cfg *config.AuthConfig) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		cfg = &config.AuthConfig{}
	}

	var mw func(http.Handler) http.Handler
	switch cfg.GetMode() {
	case config.AuthModeAnonymous:
		slog.Info("auth: anonymous mode", "user", cfg.GetAnonymousUser())
		mw = anonymousMiddleware(cfg.GetAnonymousUser())
	case config.AuthModeJWT:
		secret, err := cfg.GetSecret()
		if err != nil {
			return nil, err
		}
		validator, err := newHMACValidator(secret, cfg.Issuer, cfg.Audience)
		if err != nil {
			return nil, fmt.Errorf("failed to create token validator: %w", err)
		}
		slog.Info("auth: jwt mode", "issuer", cfg.Issuer, "audience", cfg.Audience)
		mw = (&bearerMiddleware{validator: validator, realm: defaultRealm}).Middleware
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	publicPaths := append(append([]string{}, DefaultPublicPaths...), cfg.PublicPaths...)
	return WrapWithPublicPaths(mw, publicPaths), nil
}
