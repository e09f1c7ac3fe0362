// Package sidecarbridge implements the Sidecar Bridge (C1): subprocess
// lifecycle management for the browser-automation sidecar plus its
// WebSocket control channel (spec.md §4.1).
//
// Grounded on the teacher's internal/handlers/websocket.go connection
// bookkeeping (map of live connections guarded by a mutex, one JSON
// envelope type per message) and internal/services/crawler/retry.go's
// backoff-loop shape, re-targeted from a server-side broadcast socket to an
// outbound client dialer against the sidecar subprocess.
package sidecarbridge

import "encoding/json"

// FrameType enumerates the WebSocket frame types of spec.md §4.1/§6.2.
type FrameType string

const (
	FrameQrGenerated      FrameType = "qr_generated"
	FrameStatusUpdate     FrameType = "status_update"
	FrameValidationResult FrameType = "validation_result"
	FrameSearchResult     FrameType = "search_result"
	FrameError            FrameType = "error"
	FrameHeartbeat        FrameType = "heartbeat"

	// Outbound request frames; not explicitly named in spec.md §4.1 but
	// required to address the corresponding sidecar-side RPC over the same
	// multiplexed socket.
	FrameOpenSession FrameType = "open_session"
	FrameValidate    FrameType = "validate"
	FrameSearch      FrameType = "search"
)

// Frame is the wire envelope: "one message = one JSON object"
// (spec.md §4.1). RequestID correlates an outbound request with its async
// reply; the sidecar echoes it back unchanged.
type Frame struct {
	Type      FrameType       `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type qrGeneratedPayload struct {
	QrImage     string `json:"qr_image"`
	ExpiresIn   int    `json:"expires_in"`
	AutoRefresh bool   `json:"auto_refreshed,omitempty"`
}

type statusUpdatePayload struct {
	Status  string            `json:"status"`
	Cookies map[string]string `json:"cookies,omitempty"`
}

type validationResultPayload struct {
	Valid       bool   `json:"valid"`
	UID         string `json:"uid,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

type searchResultPayload struct {
	Posts           []wirePost `json:"posts"`
	HasNextPage     bool       `json:"has_next_page"`
	TotalPages      int        `json:"total_pages,omitempty"`
	CaptchaDetected bool       `json:"captcha_detected,omitempty"`
	RateLimited     bool       `json:"rate_limited,omitempty"`
}

type wirePost struct {
	ID          string                 `json:"id"`
	PublishedAt string                 `json:"published_at"`
	Content     string                 `json:"content"`
	Author      string                 `json:"author"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type validateRequestPayload struct {
	Cookies map[string]string `json:"cookies"`
}

type searchRequestPayload struct {
	Cookies map[string]string `json:"cookies"`
	Keyword string             `json:"keyword"`
	Range   timeRangeWire      `json:"range"`
	Page    int                `json:"page"`
}

type timeRangeWire struct {
	Start string `json:"start"`
	End   string `json:"end"`
}
