// Package api exposes the turn processor over HTTP: a JSON message
// endpoint, session inspection, a websocket stream, and operational
// endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adpilot-ai/adpilot/pkg/orchestrator"
	"github.com/adpilot-ai/adpilot/pkg/storage"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	Address      string
	Orchestrator *orchestrator.Orchestrator
	// Store enables the session inspection endpoints (optional).
	Store *storage.Store
	Log   *slog.Logger
}

// Server is the HTTP front of the turn processor.
type Server struct {
	orch       *orchestrator.Orchestrator
	store      *storage.Store
	log        *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8180"
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	s := &Server{
		orch:  cfg.Orchestrator,
		store: cfg.Store,
		log:   cfg.Log,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Get("/sessions/{sessionID}/messages", s.handleSessionMessages)
		r.Put("/sessions/{sessionID}/settings", s.handleSessionSettings)
		r.Get("/ws", s.handleWebSocket)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long for streaming
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the API server and blocks until it stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": "orchestrator not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
