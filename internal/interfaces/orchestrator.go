package interfaces

import (
	"context"
	"time"
)

// OpenLoginResult is the reply to LoginOrchestrator.Open: the fresh QR
// session's identifier, its image, and its expiry (spec.md §4.4).
type OpenLoginResult struct {
	SessionID  string
	QrImagePNG []byte
	ExpiresInS int
}

// LoginOrchestrator is the Login Orchestrator (C4): drives one end-to-end
// login attempt through acquire-QR, relay scan/confirm, validate, persist,
// emit-events.
type LoginOrchestrator interface {
	Open(ctx context.Context) (*OpenLoginResult, error)
	Cancel(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (status string, cookies map[string]string, updatedAt time.Time, err error)
}
