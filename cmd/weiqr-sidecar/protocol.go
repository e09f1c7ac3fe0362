package main

import "encoding/json"

// Frame mirrors internal/services/sidecarbridge.Frame: the wire envelope
// is the contract between the two binaries, not a Go type either side can
// import (the Bridge's payload structs are unexported). Field names and
// JSON tags must stay byte-for-byte identical to that package's protocol.go.
type frameType string

const (
	frameQrGenerated      frameType = "qr_generated"
	frameStatusUpdate     frameType = "status_update"
	frameValidationResult frameType = "validation_result"
	frameSearchResult     frameType = "search_result"
	frameError            frameType = "error"
	frameHeartbeat        frameType = "heartbeat"

	frameOpenSession frameType = "open_session"
	frameValidate    frameType = "validate"
	frameSearch      frameType = "search"
)

type frame struct {
	Type      frameType       `json:"type"`
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
	Keyword string            `json:"keyword"`
	Range   timeRangeWire     `json:"range"`
	Page    int               `json:"page"`
}

type timeRangeWire struct {
	Start string `json:"start"`
	End   string `json:"end"`
}
