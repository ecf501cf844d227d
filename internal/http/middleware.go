package http

import (
	"log/slog"
	"net/http"

	m "github.com/go-chi/chi/v5/middleware"

	"autocmx/internal/config"
)

const adminRealm = "autocmx"

// RequireAdmin guards the admin API with basic auth. Without configured
// credentials the gate is open and a warning is logged once at start-up.
func RequireAdmin(creds config.AdminConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if creds.Username == "" {
		logger.Warn("admin credentials not configured, admin API is unauthenticated")
		return func(next http.Handler) http.Handler { return next }
	}
	return m.BasicAuth(adminRealm, map[string]string{creds.Username: creds.Password})
}
