package server

import (
	"net/http"
	"strconv"
)

// handleStartPlaywrightServer is the `start_playwright_server` RPC: a thin
// wrapper over Bridge.Start (spec.md §4.1).
func (s *Server) handleStartPlaywrightServer(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.bridge.Start(r.Context()); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handleStopPlaywrightServer is the `stop_playwright_server` RPC.
func (s *Server) handleStopPlaywrightServer(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.bridge.Stop(r.Context()); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleCheckPlaywrightServer is the `check_playwright_server` RPC.
func (s *Server) handleCheckPlaywrightServer(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	healthy := s.bridge.Health(r.Context())
	WriteJSON(w, http.StatusOK, map[string]bool{"healthy": healthy})
}

// handleGetPlaywrightLogs is the `get_playwright_logs` RPC: backed by
// Bridge's in-memory ring buffer of the sidecar subprocess's forwarded
// stdout/stderr lines, not a library we could not ground.
func (s *Server) handleGetPlaywrightLogs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 200
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	lines, err := s.bridge.Logs(r.Context(), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, struct {
		Lines []string `json:"lines"`
	}{Lines: lines})
}
