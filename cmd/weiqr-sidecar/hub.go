package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub serves the single WebSocket control channel the Bridge (C1's client
// half) dials. Only one control connection is expected at a time, matching
// the Bridge's own singleton design (spec.md §5, "The Sidecar Bridge is a
// singleton").
type hub struct {
	logger   arbor.ILogger
	sessions *sessionManager

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func newHub(logger arbor.ILogger, sessions *sessionManager) *hub {
	return &hub{logger: logger, sessions: sessions}
}

// ServeHTTP upgrades the connection and serves it until the Bridge
// disconnects or the process is stopped.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("control channel upgrade failed")
		return
	}

	h.writeMu.Lock()
	h.conn = conn
	h.writeMu.Unlock()

	h.logger.Info().Msg("control channel connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Warn().Err(err).Msg("control channel read failed, closing")
			break
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.logger.Warn().Err(err).Msg("malformed inbound frame dropped")
			continue
		}

		go h.dispatch(f)
	}

	h.writeMu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.writeMu.Unlock()
	_ = conn.Close()
}

// dispatch handles one inbound request frame and sends its reply. Each
// request runs on its own goroutine so a slow search doesn't block
// open_session polling or other in-flight requests.
func (h *hub) dispatch(f frame) {
	switch f.Type {
	case frameOpenSession:
		h.handleOpenSession(f)
	case frameValidate:
		h.handleValidate(f)
	case frameSearch:
		h.handleSearch(f)
	default:
		h.logger.Warn().Str("type", string(f.Type)).Msg("unrecognised frame type")
	}
}

func (h *hub) handleOpenSession(f frame) {
	sessionID := uuid.NewString()

	payload, err := h.sessions.openSession(sessionID)
	if err != nil {
		h.sendError(f.RequestID, "open_session_failed", err.Error())
		return
	}

	h.send(frame{
		Type:      frameQrGenerated,
		RequestID: f.RequestID,
		SessionID: sessionID,
		Payload:   mustMarshal(payload),
	})

	go h.sessions.watch(sessionID, h)
}

func (h *hub) handleValidate(f frame) {
	var req validateRequestPayload
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		h.sendError(f.RequestID, "bad_request", "malformed validate payload")
		return
	}

	result := h.sessions.validate(req.Cookies)
	h.send(frame{
		Type:      frameValidationResult,
		RequestID: f.RequestID,
		Payload:   mustMarshal(result),
	})
}

func (h *hub) handleSearch(f frame) {
	var req searchRequestPayload
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		h.sendError(f.RequestID, "bad_request", "malformed search payload")
		return
	}

	result, err := h.sessions.search(req.Cookies, req.Keyword, req.Range, req.Page)
	if err != nil {
		h.sendError(f.RequestID, "search_failed", err.Error())
		return
	}

	h.send(frame{
		Type:      frameSearchResult,
		RequestID: f.RequestID,
		Payload:   mustMarshal(result),
	})
}

// pushStatusUpdate implements statusPusher: an unsolicited status_update
// frame, routed by the Bridge to listen() subscribers rather than a
// pending request (no RequestID set).
func (h *hub) pushStatusUpdate(sessionID string, payload statusUpdatePayload) {
	h.send(frame{
		Type:      frameStatusUpdate,
		SessionID: sessionID,
		Payload:   mustMarshal(payload),
	})
}

func (h *hub) sendError(requestID, code, message string) {
	h.send(frame{
		Type:      frameError,
		RequestID: requestID,
		Payload:   mustMarshal(errorPayload{Code: code, Message: message}),
	})
}

func (h *hub) send(f frame) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.conn == nil {
		h.logger.Warn().Str("type", string(f.Type)).Msg("dropping frame, no control channel connected")
		return
	}

	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error().Err(err).Msg("encoding outbound frame")
		return
	}
	if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("writing outbound frame failed")
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
