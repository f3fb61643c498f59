package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandrinn/llm-gateway/internal/config"
)

type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

func NewAuthMiddleware(config *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		config: config,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Error("Authentication failed", "error", err, "remote_addr", r.RemoteAddr)
			http.Error(w, "Gateway API key not authorized", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) error {
	cfg := am.config.Get()

	if cfg.APIKey == "" {
		return nil
	}

	var token string

	// Each protocol's clients send credentials in their native location.
	switch {
	case strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "):
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	case r.Header.Get("X-Api-Key") != "":
		token = r.Header.Get("X-Api-Key")
	case r.Header.Get("X-Goog-Api-Key") != "":
		token = r.Header.Get("X-Goog-Api-Key")
	case r.URL.Query().Get("key") != "":
		token = r.URL.Query().Get("key")
	}

	if token == "" {
		return errors.New("no authentication token provided")
	}

	if token != cfg.APIKey {
		return errors.New("invalid API key")
	}

	return nil
}
