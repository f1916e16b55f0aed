// Package server assembles the hub: store, registry, dispatcher, poller,
// scheduler, events hub, and the HTTP API on top of them.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strefethen/heartbeat-hub-go/internal/api"
	"github.com/strefethen/heartbeat-hub-go/internal/auth"
	"github.com/strefethen/heartbeat-hub-go/internal/config"
	"github.com/strefethen/heartbeat-hub-go/internal/events"
	"github.com/strefethen/heartbeat-hub-go/internal/fleet"
	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
	"github.com/strefethen/heartbeat-hub-go/internal/scheduler"
	"github.com/strefethen/heartbeat-hub-go/internal/store"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// DisableBackground skips the poller and scheduler loops (for tests).
	DisableBackground bool
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	db, err := store.Open(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	registry := fleet.NewRegistry()
	nodes, err := db.LoadNodes()
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load nodes: %w", err)
	}
	registry.Load(nodes)
	log.Printf("Restored %d node(s)", len(nodes))

	dispatcher := fleet.NewDispatcher(nil)
	timeout := time.Duration(cfg.CommandTimeoutMs) * time.Millisecond
	hub := events.NewHub(nil)

	sched := scheduler.New(registry, dispatcher, db, timeout, nil)
	if schedCfg, found, err := db.LoadSchedule(); err != nil {
		log.Printf("load schedule: %v", err)
	} else if found {
		var spec *protocol.PlaybackSpec
		if lastSpec, specFound, err := db.LoadPlaybackSpec(); err != nil {
			log.Printf("load playback spec: %v", err)
		} else if specFound {
			spec = &lastSpec
		}
		sched.Restore(schedCfg, spec)
	}
	sched.OnRound = func() { broadcastFleet(hub, registry) }

	poller := fleet.NewPoller(registry, dispatcher,
		time.Duration(cfg.PingIntervalSec)*time.Second, timeout, nil)
	poller.OnRound = func() { broadcastFleet(hub, registry) }

	fleetService := &fleet.Service{
		Registry:        registry,
		Dispatcher:      dispatcher,
		Timeout:         timeout,
		DefaultNodePort: cfg.DefaultNodePort,
		PersistNodes: func(nodes []fleet.Node) {
			if err := db.SaveNodes(nodes); err != nil {
				log.Printf("persist nodes: %v", err)
			}
		},
		OnManualPlay: func(spec protocol.PlaybackSpec) {
			if err := db.SavePlaybackSpec(spec); err != nil {
				log.Printf("persist playback spec: %v", err)
			}
			if err := sched.NotifyManualPlay(spec, time.Now()); err != nil {
				log.Printf("persist schedule: %v", err)
			}
		},
		OnRound: func() { broadcastFleet(hub, registry) },
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	registerHealthRoutes(router)
	if cfg.AuthEnabled() {
		auth.RegisterRoutes(router, cfg)
	}
	fleet.RegisterRoutes(router, fleetService)
	scheduler.RegisterRoutes(router, sched)
	events.RegisterRoutes(router, hub)

	if !options.DisableBackground {
		poller.Start()
		tickSpec := fmt.Sprintf("@every %ds", cfg.SchedulerTickSec)
		if err := sched.Start(tickSpec); err != nil {
			poller.Stop()
			db.Close()
			return nil, nil, err
		}
	}

	shutdown := func(ctx context.Context) error {
		if !options.DisableBackground {
			sched.Stop()
			poller.Stop()
		}
		hub.Close()
		return db.Close()
	}

	return router, shutdown, nil
}

// broadcastFleet pushes the current registry snapshot to GUI clients.
func broadcastFleet(hub *events.Hub, registry *fleet.Registry) {
	hub.Broadcast("fleet.updated", map[string]any{"nodes": registry.List()})
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "heartbeat-hub",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
