package scheduler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/heartbeat-hub-go/internal/api"
	"github.com/strefethen/heartbeat-hub-go/internal/apperrors"
)

// RegisterRoutes wires the schedule config endpoints.
func RegisterRoutes(router chi.Router, sched *Scheduler) {
	router.Method(http.MethodGet, "/v1/schedule", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.SingleResponse(w, r, http.StatusOK, "schedule", sched.Config())
	}))

	router.Method(http.MethodPut, "/v1/schedule", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var cfg Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			return apperrors.NewValidationError("Invalid JSON body", nil)
		}
		if err := sched.SetConfig(cfg); err != nil {
			return apperrors.NewValidationError(err.Error(), nil)
		}
		return api.SingleResponse(w, r, http.StatusOK, "schedule", sched.Config())
	}))
}
