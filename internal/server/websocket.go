package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is the envelope every Event Bus topic is wrapped in before
// reaching the single front-end consumer over the WebSocket transport
// (spec.md §4.8).
type wsMessage struct {
	Type    interfaces.EventType `json:"type"`
	Payload interface{}          `json:"payload"`
}

// wsHandler fans out Event Bus traffic to every connected WebSocket
// client. Grounded on the teacher's WebSocketHandler (one write-mutex per
// connection, since concurrent writes to a single *websocket.Conn are
// unsafe), simplified because every Event Bus payload here is already a
// typed struct rather than a map[string]interface{} that needs defensive
// field extraction.
type wsHandler struct {
	logger arbor.ILogger
	events interfaces.EventService

	mu          sync.RWMutex
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
}

var allTopics = []interfaces.EventType{
	interfaces.TopicLoginStatusUpdate,
	interfaces.TopicLoginError,
	interfaces.TopicWebsocketConnectionLost,
	interfaces.TopicWebsocketConnectionRestored,
	interfaces.TopicCrawlProgress,
	interfaces.TopicCrawlCompleted,
	interfaces.TopicCrawlError,
}

func newWSHandler(events interfaces.EventService, logger arbor.ILogger) *wsHandler {
	h := &wsHandler{
		logger:      logger,
		events:      events,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}

	if events != nil {
		for _, topic := range allTopics {
			t := topic
			_ = events.Subscribe(t, func(ctx context.Context, event interfaces.Event) error {
				h.broadcast(t, event.Payload)
				return nil
			})
		}
	}

	return h
}

// ServeHTTP upgrades the connection and registers the client. Grounded on
// the teacher's HandleWebSocket: the read loop exists only to detect
// client disconnect, since the transport is one-way server to client
// (spec.md §4.8, "one-way, best-effort").
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", clientCount).Msg("websocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Info().Int("clients", remaining).Msg("websocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("websocket read error")
			}
			break
		}
	}
}

func (h *wsHandler) broadcast(topic interfaces.EventType, payload interface{}) {
	msg := wsMessage{Type: topic, Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(topic)).Msg("failed to marshal event for broadcast")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to send event to websocket client")
		}
	}
}

// close drops every connected client. Event Bus subscriptions live for the
// process lifetime and are not individually torn down.
func (h *wsHandler) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
}
