package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/strefethen/heartbeat-hub-go/internal/api"
	"github.com/strefethen/heartbeat-hub-go/internal/apperrors"
	"github.com/strefethen/heartbeat-hub-go/internal/config"
)

var publicRoutes = map[string]struct{}{
	"/v1/auth/token":   {},
	"/v1/health":       {},
	"/v1/health/live":  {},
	"/v1/health/ready": {},
	"/v1/events":       {},
}

// Middleware validates JWT tokens for protected routes. When no JWT secret
// is configured the hub runs open, suitable for trusted LAN deployments.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.AuthEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := publicRoutes[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Missing Authorization header"))
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader || token == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid Authorization header format"))
				return
			}

			payload, err := VerifyToken(cfg, token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeTokenExpired))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeTokenInvalid))
				return
			}

			user := User{Sub: payload.Sub, ClientName: payload.ClientName}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
