package models

import "time"

// LoginSessionStatus is the state of one QR-login attempt (spec.md §3).
type LoginSessionStatus string

const (
	LoginPending   LoginSessionStatus = "Pending"
	LoginScanned   LoginSessionStatus = "Scanned"
	LoginConfirmed LoginSessionStatus = "Confirmed"
	LoginRejected  LoginSessionStatus = "Rejected"
	LoginExpired   LoginSessionStatus = "Expired"
)

// LoginSession is the Login Orchestrator's in-memory record of one QR-login
// attempt. It is never persisted; it lives only as long as the Orchestrator
// holds it (spec.md §3, "Ownership summary").
type LoginSession struct {
	QrID        string
	Status      LoginSessionStatus
	CreatedAt   time.Time
	ScannedAt   *time.Time
	ConfirmedAt *time.Time
	ExpiresAt   time.Time
}

// Valid reports whether the session's timestamps respect the monotone
// invariant created_at <= scanned_at <= confirmed_at, created_at < expires_at.
func (s *LoginSession) Valid() bool {
	if !s.CreatedAt.Before(s.ExpiresAt) {
		return false
	}
	if s.ScannedAt != nil && s.ScannedAt.Before(s.CreatedAt) {
		return false
	}
	if s.ConfirmedAt != nil {
		if s.ScannedAt == nil || s.ConfirmedAt.Before(*s.ScannedAt) {
			return false
		}
	}
	return true
}

// IsTerminal reports whether the session has reached a state from which it
// will not transition further.
func (s *LoginSession) IsTerminal() bool {
	switch s.Status {
	case LoginConfirmed, LoginRejected, LoginExpired:
		return true
	default:
		return false
	}
}

// LoginEventType enumerates the stream elements the Login Orchestrator
// fans out over the Event Bus (spec.md §3, LoginEvent).
type LoginEventType string

const (
	EventQrGenerated       LoginEventType = "QrGenerated"
	EventQrScanned         LoginEventType = "QrScanned"
	EventConfirmed         LoginEventType = "Confirmed"
	EventValidationSuccess LoginEventType = "ValidationSuccess"
	EventValidationFailed  LoginEventType = "ValidationFailed"
	EventQrExpired         LoginEventType = "QrExpired"
	EventRejected          LoginEventType = "Rejected"
	EventConnectionLost    LoginEventType = "ConnectionLost"
	EventConnectionRestored LoginEventType = "ConnectionRestored"
	EventLoginError        LoginEventType = "Error"
)

// LoginEvent is a stream element fanned out to Event Bus subscribers. It is
// never persisted.
type LoginEvent struct {
	EventType LoginEventType         `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	UID       string                 `json:"uid,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
