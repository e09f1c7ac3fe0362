// Package server implements the back-end RPC surface of spec.md §6.1: one
// HTTP endpoint per named procedure, plus the WebSocket transport that
// forwards Event Bus (C8) traffic to the single front-end consumer.
//
// Grounded on the teacher's internal/server package (ServeMux + a manual
// middleware chain, no router library) and internal/handlers/websocket.go
// for the event-forwarding side.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/common"
	"github.com/weiqr/weiqr/internal/interfaces"
)

// Server wires every component's RPC-facing methods behind named HTTP
// routes and owns the Event Bus's WebSocket fan-out.
type Server struct {
	cfg    common.ServerConfig
	logger arbor.ILogger

	orchestrator interfaces.LoginOrchestrator
	credStore    interfaces.CredentialStore
	validator    interfaces.CredentialValidator
	crawlEngine  interfaces.CrawlEngine
	taskStore    interfaces.TaskStore
	postStore    interfaces.PostStore
	bridge       interfaces.SidecarBridge
	events       interfaces.EventService

	ws *wsHandler

	router     *http.ServeMux
	httpServer *http.Server
}

// Deps bundles every component the RPC surface dispatches into, so New
// takes one argument instead of eight.
type Deps struct {
	Orchestrator interfaces.LoginOrchestrator
	CredStore    interfaces.CredentialStore
	Validator    interfaces.CredentialValidator
	CrawlEngine  interfaces.CrawlEngine
	TaskStore    interfaces.TaskStore
	PostStore    interfaces.PostStore
	Bridge       interfaces.SidecarBridge
	Events       interfaces.EventService
}

// New builds a Server bound to the given address and components.
func New(cfg common.ServerConfig, deps Deps, logger arbor.ILogger) *Server {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		orchestrator: deps.Orchestrator,
		credStore:    deps.CredStore,
		validator:    deps.Validator,
		crawlEngine:  deps.CrawlEngine,
		taskStore:    deps.TaskStore,
		postStore:    deps.PostStore,
		bridge:       deps.Bridge,
		events:       deps.Events,
	}

	s.ws = newWSHandler(deps.Events, logger)
	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start runs the HTTP server until it is shut down. Blocks the caller.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info().Str("address", addr).Msg("RPC server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and its Event Bus subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("RPC server shutting down")
	s.ws.close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("RPC server stopped")
	return nil
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
