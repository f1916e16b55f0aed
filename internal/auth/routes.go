package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/strefethen/heartbeat-hub-go/internal/api"
	"github.com/strefethen/heartbeat-hub-go/internal/apperrors"
	"github.com/strefethen/heartbeat-hub-go/internal/config"
)

type tokenRequest struct {
	ClientName string `json:"client_name"`
	SetupCode  string `json:"setup_code"`
}

// RegisterRoutes wires the token issue endpoint. Clients present the
// configured setup code once and hold the returned token afterwards.
func RegisterRoutes(router chi.Router, cfg config.Config) {
	router.Method(http.MethodPost, "/v1/auth/token", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("Invalid JSON body", nil)
		}
		if req.ClientName == "" {
			return apperrors.NewValidationError("client_name is required", nil)
		}
		if cfg.SetupCode == "" || req.SetupCode != cfg.SetupCode {
			return apperrors.NewUnauthorizedError("Invalid setup code")
		}

		token, err := GenerateToken(cfg, TokenPayload{
			Sub:        uuid.NewString(),
			ClientName: req.ClientName,
		})
		if err != nil {
			return apperrors.NewInternalError("Failed to generate token")
		}

		return api.ActionResponse(w, r, http.StatusOK, map[string]any{
			"access_token":   token,
			"expires_in_sec": cfg.JWTTokenExpirySec,
		})
	}))
}
