// Package login implements the Login Orchestrator (C4): drives one
// end-to-end QR-login attempt through acquire-QR, relay scan/confirm,
// validate, persist, emit-events (spec.md §4.4).
//
// Grounded on the teacher's event_service.go publish-and-forget idiom
// (interfaces.EventService.Publish never fails the producer) and on the
// state-machine shape the spec itself draws; sessions are in-memory only,
// mirroring the teacher's preference for capability objects over global
// registries.
package login

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
)

type sessionState string

const (
	stateWaitingForScan    sessionState = "WaitingForScan"
	stateWaitingForConfirm sessionState = "WaitingForConfirm"
	stateValidating        sessionState = "Validating"
	stateStored            sessionState = "Stored"
	stateFailed            sessionState = "Failed"
	stateExpired           sessionState = "Expired"
	stateRejected          sessionState = "Rejected"
)

func isTerminal(s sessionState) bool {
	switch s {
	case stateStored, stateFailed, stateExpired, stateRejected:
		return true
	default:
		return false
	}
}

// sessionRetention is how long a terminal session stays queryable via
// Status after reaching a terminal state, so a poll_login_status call
// racing the final event still observes the outcome (spec.md §6.1,
// "poll_login_status ... {status, cookies?, updated_at}").
const sessionRetention = 2 * time.Minute

type session struct {
	mu        sync.Mutex
	id        string
	state     sessionState
	expiresAt time.Time
	updatedAt time.Time
	cookies   map[string]string
	cancel    context.CancelFunc
}

// Orchestrator implements interfaces.LoginOrchestrator.
type Orchestrator struct {
	bridge        interfaces.SidecarBridge
	validator     interfaces.CredentialValidator
	store         interfaces.CredentialStore
	events        interfaces.EventService
	defaultExpiry time.Duration
	logger        arbor.ILogger

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds an Orchestrator. defaultExpiry is used only when the sidecar
// omits expires_in (spec.md §4.4: "180 s by default, set by the sidecar").
func New(bridge interfaces.SidecarBridge, validator interfaces.CredentialValidator, store interfaces.CredentialStore, events interfaces.EventService, defaultExpiry time.Duration, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		bridge:        bridge,
		validator:     validator,
		store:         store,
		events:        events,
		defaultExpiry: defaultExpiry,
		logger:        logger,
		sessions:      make(map[string]*session),
	}
}

var _ interfaces.LoginOrchestrator = (*Orchestrator)(nil)

// Open acquires a new QR session from the bridge and starts its expiry
// timer and status listener (spec.md §4.4, "Idle -> open -> WaitingForScan").
func (o *Orchestrator) Open(ctx context.Context) (*interfaces.OpenLoginResult, error) {
	result, err := o.bridge.OpenSession(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNetworkFailed, "opening login session", err)
	}

	expiresIn := result.ExpiresInS
	if expiresIn <= 0 {
		expiresIn = int(o.defaultExpiry.Seconds())
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	sess := &session{
		id:        result.SessionID,
		state:     stateWaitingForScan,
		expiresAt: now.Add(time.Duration(expiresIn) * time.Second),
		updatedAt: now,
		cancel:    cancel,
	}

	o.mu.Lock()
	o.sweepTerminal()
	o.sessions[sess.id] = sess
	o.mu.Unlock()

	updates, err := o.bridge.Listen(sessCtx, sess.id)
	if err != nil {
		cancel()
		return nil, apperr.Wrap(apperr.CodeNetworkFailed, "listening to login session", err)
	}

	o.emit(sess.id, models.EventQrGenerated, map[string]interface{}{"expires_in": expiresIn})

	go o.manage(sessCtx, sess, updates)

	return &interfaces.OpenLoginResult{
		SessionID:  sess.id,
		QrImagePNG: result.QrImagePNG,
		ExpiresInS: expiresIn,
	}, nil
}

// Cancel releases a session's local resources; the sidecar's own
// server-side session state times out on its own (spec.md §4.4,
// "Cancellation").
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	if !ok {
		return apperr.New(apperr.CodeQrNotFound, "no such login session: "+sessionID)
	}

	sess.cancel()
	return nil
}

func (o *Orchestrator) manage(ctx context.Context, sess *session, updates <-chan interfaces.SessionUpdate) {
	timer := time.NewTimer(time.Until(sess.expiresAt))
	defer timer.Stop()
	defer o.finish(sess.id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sess.mu.Lock()
			already := isTerminal(sess.state)
			if !already {
				sess.state = stateExpired
				sess.updatedAt = time.Now().UTC()
			}
			sess.mu.Unlock()
			if !already {
				o.emit(sess.id, models.EventQrExpired, nil)
			}
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if terminal := o.handleUpdate(ctx, sess, update, timer); terminal {
				return
			}
		}
	}
}

// handleUpdate advances the session state machine for one SessionUpdate and
// reports whether the session reached a terminal state.
func (o *Orchestrator) handleUpdate(ctx context.Context, sess *session, update interfaces.SessionUpdate, timer *time.Timer) bool {
	switch update.Status {
	case interfaces.SidecarStatusPending:
		if update.AutoRefresh {
			o.resetExpiry(sess, timer, update.ExpiresInS)
			o.emit(sess.id, models.EventQrGenerated, map[string]interface{}{"auto_refreshed": true, "expires_in": update.ExpiresInS})
		}
		return false

	case interfaces.SidecarStatusScanned:
		sess.mu.Lock()
		sess.state = stateWaitingForConfirm
		sess.updatedAt = time.Now().UTC()
		sess.mu.Unlock()
		o.emit(sess.id, models.EventQrScanned, nil)
		return false

	case interfaces.SidecarStatusConfirmed:
		sess.mu.Lock()
		sess.state = stateValidating
		sess.updatedAt = time.Now().UTC()
		sess.mu.Unlock()
		o.emit(sess.id, models.EventConfirmed, nil)
		o.validateAndStore(ctx, sess, update.Cookies)
		return true

	case interfaces.SidecarStatusRejected:
		sess.mu.Lock()
		sess.state = stateRejected
		sess.updatedAt = time.Now().UTC()
		sess.mu.Unlock()
		o.emit(sess.id, models.EventRejected, nil)
		return true

	case interfaces.SidecarStatusExpired:
		sess.mu.Lock()
		sess.state = stateExpired
		sess.updatedAt = time.Now().UTC()
		sess.mu.Unlock()
		o.emit(sess.id, models.EventQrExpired, nil)
		return true

	default:
		o.logger.Warn().Str("status", string(update.Status)).Msg("unrecognised session status ignored")
		return false
	}
}

// validateAndStore runs the Validating -> {Stored | Failed} leg
// (spec.md §4.4 diagram). A ValidationFailed never retries; the user must
// re-scan.
func (o *Orchestrator) validateAndStore(ctx context.Context, sess *session, cookies map[string]string) {
	result, err := o.validator.Validate(ctx, cookies, "")
	if err != nil {
		sess.mu.Lock()
		sess.state = stateFailed
		sess.updatedAt = time.Now().UTC()
		sess.mu.Unlock()
		o.emit(sess.id, models.EventValidationFailed, map[string]interface{}{"reason": err.Error()})
		return
	}

	now := time.Now().UTC()
	record := &models.CredentialRecord{
		UID:         result.UID,
		Cookies:     cookies,
		FetchedAt:   now,
		ValidatedAt: now,
		DisplayName: result.DisplayName,
	}

	if _, _, err := o.store.Save(ctx, record); err != nil {
		sess.mu.Lock()
		sess.state = stateFailed
		sess.updatedAt = time.Now().UTC()
		sess.mu.Unlock()
		o.emit(sess.id, models.EventLoginError, map[string]interface{}{"reason": err.Error()})
		return
	}

	sess.mu.Lock()
	sess.state = stateStored
	sess.cookies = cookies
	sess.updatedAt = time.Now().UTC()
	sess.mu.Unlock()
	o.emit(sess.id, models.EventValidationSuccess, map[string]interface{}{"uid": result.UID, "display_name": result.DisplayName})
}

func (o *Orchestrator) resetExpiry(sess *session, timer *time.Timer, expiresInS int) {
	if expiresInS <= 0 {
		expiresInS = int(o.defaultExpiry.Seconds())
	}

	sess.mu.Lock()
	sess.expiresAt = time.Now().Add(time.Duration(expiresInS) * time.Second)
	sess.mu.Unlock()

	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(time.Duration(expiresInS) * time.Second)
}

// finish is a no-op beyond logging: a session that reached a terminal
// state stays in the map, queryable via Status, until sweepTerminal
// evicts it after sessionRetention.
func (o *Orchestrator) finish(sessionID string) {
	o.logger.Debug().Str("session_id", sessionID).Msg("login session goroutine exited")
}

// sweepTerminal evicts sessions that finished more than sessionRetention
// ago. Called under o.mu, opportunistically from Open.
func (o *Orchestrator) sweepTerminal() {
	now := time.Now()
	for id, sess := range o.sessions {
		sess.mu.Lock()
		stale := isTerminal(sess.state) && now.Sub(sess.updatedAt) > sessionRetention
		sess.mu.Unlock()
		if stale {
			delete(o.sessions, id)
		}
	}
}

// Status reports a session's current state, its stored cookies if the
// session reached Stored, and the time of its last transition
// (spec.md §6.1, `poll_login_status`).
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (status string, cookies map[string]string, updatedAt time.Time, err error) {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return "", nil, time.Time{}, apperr.New(apperr.CodeQrNotFound, "no such login session: "+sessionID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return string(sess.state), sess.cookies, sess.updatedAt, nil
}

// emit publishes one LoginEvent (spec.md §4.4, "Fan-out": "every transition
// produces exactly one event to the bus; no duplicates"). Publish is
// best-effort; an Event Bus failure never fails the Orchestrator
// (spec.md §7).
func (o *Orchestrator) emit(sessionID string, eventType models.LoginEventType, details map[string]interface{}) {
	event := models.LoginEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Details:   details,
	}

	topic := interfaces.TopicLoginStatusUpdate
	if eventType == models.EventLoginError || eventType == models.EventValidationFailed {
		topic = interfaces.TopicLoginError
	}

	if o.events == nil {
		return
	}
	if err := o.events.Publish(context.Background(), interfaces.Event{Type: topic, Payload: event}); err != nil {
		o.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("login event publish failed")
	}
}
