package server

import "net/http"

// handleGenerateQRCode is the `generate_qrcode` RPC (spec.md §4.4):
// requests a fresh QR session from the Login Orchestrator and returns the
// PNG image and its expiry to the caller.
func (s *Server) handleGenerateQRCode(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := s.orchestrator.Open(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, struct {
		SessionID  string `json:"session_id"`
		QrImagePNG []byte `json:"qr_image_png"`
		ExpiresInS int    `json:"expires_in_s"`
	}{
		SessionID:  result.SessionID,
		QrImagePNG: result.QrImagePNG,
		ExpiresInS: result.ExpiresInS,
	})
}

// handlePollLoginStatus is the `poll_login_status` RPC: a pull-query
// fallback for a front end that missed, or cannot rely solely on, the
// Event Bus's push notifications for this session.
func (s *Server) handlePollLoginStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "session_id is required")
		return
	}

	status, cookies, updatedAt, err := s.orchestrator.Status(r.Context(), sessionID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, struct {
		Status    string            `json:"status"`
		Cookies   map[string]string `json:"cookies,omitempty"`
		UpdatedAt string            `json:"updated_at"`
	}{
		Status:    status,
		Cookies:   cookies,
		UpdatedAt: updatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// handleCancelLogin is a supplement to the named RPC list: it exercises
// LoginOrchestrator.Cancel, which otherwise has no caller, letting a
// front end abandon an open QR session (e.g. the user closes the dialog)
// instead of waiting out the full expiry window.
func (s *Server) handleCancelLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}

	if err := s.orchestrator.Cancel(r.Context(), req.SessionID); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
