package sidecarbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/interfaces"
)

// readLoop pumps inbound frames off the control channel, dispatching
// replies to pending requests and status updates to session listeners.
// On disconnect it runs the reconnection sequence (spec.md §4.1,
// "Reconnection").
func (b *Bridge) readLoop() {
	for {
		b.mu.Lock()
		conn := b.conn
		closed := b.closed
		b.mu.Unlock()

		if closed || conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if closed {
				return
			}
			b.logger.Warn().Err(err).Msg("sidecar control channel read failed")
			if !b.reconnect() {
				return
			}
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Warn().Err(err).Msg("malformed sidecar frame dropped")
			continue
		}

		b.dispatch(frame)
	}
}

// dispatch routes one inbound frame. qr_generated and validation_result and
// search_result double as both the direct reply to a pending request
// (open_session/validate/search) and, for qr_generated only, an unsolicited
// async push on auto-refresh (spec.md §4.4, "Auto-refresh"). A frame whose
// request_id matches an outstanding request is always delivered there
// first; only an unmatched qr_generated/status_update is treated as a
// broadcast to listen() subscribers.
func (b *Bridge) dispatch(frame Frame) {
	if frame.Type == FrameHeartbeat {
		return
	}

	if frame.RequestID != "" {
		b.pendingMu.Lock()
		pending, ok := b.pending[frame.RequestID]
		b.pendingMu.Unlock()
		if ok {
			select {
			case pending.replies <- frame:
			default:
			}
			return
		}
	}

	switch frame.Type {
	case FrameQrGenerated:
		var payload qrGeneratedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			b.logger.Warn().Err(err).Msg("malformed qr_generated frame dropped")
			return
		}
		b.publish(frame.SessionID, interfaces.SessionUpdate{
			Status:      interfaces.SidecarStatusPending,
			AutoRefresh: payload.AutoRefresh,
			ExpiresInS:  payload.ExpiresIn,
		})
	case FrameStatusUpdate:
		var payload statusUpdatePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			b.logger.Warn().Err(err).Msg("malformed status_update frame dropped")
			return
		}
		b.publish(frame.SessionID, interfaces.SessionUpdate{
			Status:  interfaces.SidecarStatus(payload.Status),
			Cookies: payload.Cookies,
		})
	default:
		b.logger.Warn().Str("type", string(frame.Type)).Msg("unmatched sidecar frame dropped")
	}
}

func (b *Bridge) publish(sessionID string, update interfaces.SessionUpdate) {
	b.listenersMu.Lock()
	subs := append([]chan interfaces.SessionUpdate(nil), b.listeners[sessionID]...)
	b.listenersMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- update:
		default:
			b.logger.Warn().Str("session_id", sessionID).Msg("session update dropped, listener not draining")
		}
	}
}

// pingLoop sends a heartbeat every PingInterval and runs reconnect once
// PingMissThreshold consecutive pings have failed (spec.md §4.1, "two
// missed pings trigger reconnection"); readLoop also reconnects when a read
// fails.
func (b *Bridge) pingLoop() {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-b.stopHealth:
			return
		case <-ticker.C:
			b.mu.Lock()
			conn := b.conn
			b.mu.Unlock()
			if conn == nil {
				return
			}
			// WriteControl is safe to call concurrently with WriteMessage
			// (gorilla/websocket guarantees this for control frames), so it
			// does not need b.writeMu.
			if err := conn.WriteControl(websocketPingMessage(), nil, deadline(b.cfg.PingInterval)); err != nil {
				missed++
				b.logger.Warn().Int("missed", missed).Msg("sidecar ping failed")
				if missed >= b.cfg.PingMissThreshold {
					b.reconnect()
					missed = 0
				}
				continue
			}
			missed = 0
		}
	}
}

// healthLoop polls the sidecar's local health endpoint; three consecutive
// failures triggers a subprocess kill and restart (spec.md §4.1,
// "Subprocess lifecycle").
func (b *Bridge) healthLoop() {
	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	client := &http.Client{Timeout: b.cfg.HealthInterval}

	for {
		select {
		case <-b.stopHealth:
			return
		case <-ticker.C:
			ok := probeHealth(client, b.cfg.HealthURL)

			b.mu.Lock()
			if ok {
				b.healthFailures = 0
			} else {
				b.healthFailures++
			}
			failures := b.healthFailures
			b.mu.Unlock()

			if failures >= b.cfg.HealthMaxFailures {
				b.logger.Warn().Int("failures", failures).Msg("sidecar health checks exhausted, restarting subprocess")
				b.restartSubprocess()
			}
		}
	}
}

func probeHealth(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (b *Bridge) restartSubprocess() {
	b.mu.Lock()
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
	b.healthFailures = 0
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b.mu.Lock()
	b.started = false
	b.mu.Unlock()

	if err := b.Start(ctx); err != nil {
		b.logger.Error().Err(err).Msg("failed to restart sidecar subprocess")
	}
}

// reconnect runs the retry-with-backoff sequence of spec.md §4.1:
// "retry up to five times with backoff 2 -> 4 -> 8 -> 16 -> 30 s". Returns
// false if the bridge has been stopped or all retries are exhausted.
func (b *Bridge) reconnect() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()

	b.logger.Warn().Msg("sidecar control channel lost, reconnecting")
	b.publishConnectionEvent(interfaces.TopicWebsocketConnectionLost, false)

	for i, backoff := range b.cfg.ReconnectBackoffs {
		if i >= b.cfg.MaxReconnects {
			break
		}
		time.Sleep(backoff)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, _, err := dial(ctx, b.cfg.ControlURL)
		cancel()
		if err == nil {
			b.mu.Lock()
			b.conn = conn
			b.mu.Unlock()
			b.logger.Info().Int("attempt", i+1).Msg("sidecar control channel restored")
			b.publishConnectionEvent(interfaces.TopicWebsocketConnectionRestored, false)
			return true
		}

		b.logger.Warn().Int("attempt", i+1).Err(err).Dur("backoff", backoff).Msg("sidecar reconnect attempt failed")
	}

	b.logger.Error().Msg("sidecar control channel reconnection exhausted, fatal")
	b.publishConnectionEvent(interfaces.TopicWebsocketConnectionLost, true)
	return false
}

// publishConnectionEvent is a best-effort notification; a nil EventService
// (e.g. in tests) is a silent no-op.
func (b *Bridge) publishConnectionEvent(topic interfaces.EventType, fatal bool) {
	if b.events == nil {
		return
	}
	_ = b.events.Publish(context.Background(), interfaces.Event{
		Type:    topic,
		Payload: map[string]interface{}{"fatal": fatal, "timestamp": time.Now().UTC()},
	})
}

// forwardLines tags subprocess stdout/stderr with its PID and forwards it
// to the log sink (spec.md §4.1, "Forward subprocess stdout/stderr to the
// log sink, tagged with PID").
func forwardLines(r io.Reader, logger arbor.ILogger, pid int, isStderr bool, sink func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if isStderr {
			logger.Warn().Int("sidecar_pid", pid).Str("stream", "stderr").Msg(line)
		} else {
			logger.Info().Int("sidecar_pid", pid).Str("stream", "stdout").Msg(line)
		}
		if sink != nil {
			sink(line)
		}
	}
}
