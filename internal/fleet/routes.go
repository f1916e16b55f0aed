package fleet

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/heartbeat-hub-go/internal/api"
	"github.com/strefethen/heartbeat-hub-go/internal/apperrors"
	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
)

// Service exposes the orchestration API the GUI calls: node CRUD and manual
// dispatch rounds. The hook fields let the hub persist registry changes and
// react to manual plays without this package importing the store or the
// scheduler.
type Service struct {
	Registry        *Registry
	Dispatcher      CommandDispatcher
	Timeout         time.Duration
	DefaultNodePort int
	Logger          *log.Logger

	// PersistNodes, when set, runs after every registry mutation.
	PersistNodes func([]Node)
	// OnManualPlay, when set, runs after a manual play round with the
	// dispatched spec. The hub uses it to reset the auto-play countdown and
	// remember the last-used spec.
	OnManualPlay func(protocol.PlaybackSpec)
	// OnRound, when set, runs after every dispatch round.
	OnRound func()
}

type nodeRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

type playRequest struct {
	Filename  string `json:"filename"`
	Volume    int    `json:"volume"`
	PlayCount int    `json:"playcount"`
}

// RegisterRoutes wires the fleet endpoints to the router.
func RegisterRoutes(router chi.Router, svc *Service) {
	router.Method(http.MethodGet, "/v1/nodes", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.ListResponse(w, r, http.StatusOK, "nodes", svc.Registry.List())
	}))

	router.Method(http.MethodPost, "/v1/nodes", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var req nodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("Invalid JSON body", nil)
		}
		if req.Port == 0 {
			req.Port = svc.DefaultNodePort
		}
		if err := svc.Registry.Add(req.Name, req.Host, req.Port); err != nil {
			if _, exists := svc.Registry.Get(req.Name); exists {
				return apperrors.NewConflictError(err.Error(), nil)
			}
			return apperrors.NewValidationError(err.Error(), nil)
		}
		svc.persist()

		node, _ := svc.Registry.Get(req.Name)
		return api.SingleResponse(w, r, http.StatusCreated, "node", node)
	}))

	router.Method(http.MethodPut, "/v1/nodes/{name}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name := chi.URLParam(r, "name")
		var req nodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("Invalid JSON body", nil)
		}
		if req.Port == 0 {
			req.Port = svc.DefaultNodePort
		}
		if _, exists := svc.Registry.Get(name); !exists {
			return apperrors.NewNotFoundResource("Node", name)
		}
		if err := svc.Registry.Update(name, req.Host, req.Port); err != nil {
			return apperrors.NewValidationError(err.Error(), nil)
		}
		svc.persist()

		node, _ := svc.Registry.Get(name)
		return api.SingleResponse(w, r, http.StatusOK, "node", node)
	}))

	router.Method(http.MethodDelete, "/v1/nodes/{name}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name := chi.URLParam(r, "name")
		if err := svc.Registry.Remove(name); err != nil {
			return apperrors.NewNotFoundResource("Node", name)
		}
		svc.persist()
		return api.ActionResponse(w, r, http.StatusOK, map[string]any{"deleted": name})
	}))

	router.Method(http.MethodPost, "/v1/playback/play", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var req playRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("Invalid JSON body", nil)
		}
		if req.Filename == "" {
			return apperrors.NewValidationError("filename is required", nil)
		}
		if req.PlayCount < 1 {
			req.PlayCount = 1
		}

		spec := protocol.PlaybackSpec{
			Filename:  req.Filename,
			Volume:    req.Volume,
			PlayCount: req.PlayCount,
		}.Clamped()

		results := svc.round(r.Context(), protocol.Play(spec))
		if svc.OnManualPlay != nil {
			svc.OnManualPlay(spec)
		}
		return api.ListResponse(w, r, http.StatusOK, "results", results)
	}))

	router.Method(http.MethodPost, "/v1/playback/stop", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		results := svc.round(r.Context(), protocol.Stop())
		return api.ListResponse(w, r, http.StatusOK, "results", results)
	}))
}

// round runs one dispatch round against the whole fleet and folds the
// results into the registry.
func (svc *Service) round(ctx context.Context, cmd protocol.Command) []DispatchResult {
	nodes := svc.Registry.List()
	results := svc.Dispatcher.Dispatch(ctx, nodes, cmd, svc.Timeout)
	for _, result := range results {
		svc.Registry.ApplyDispatchResult(string(cmd.Type), result)
	}
	if svc.OnRound != nil {
		svc.OnRound()
	}
	return results
}

func (svc *Service) persist() {
	if svc.PersistNodes != nil {
		svc.PersistNodes(svc.Registry.List())
	}
}
