package interfaces

import (
	"context"

	"github.com/weiqr/weiqr/internal/models"
)

// SidecarStatus mirrors the `status` field of a sidecar listen() frame
// (spec.md §4.1).
type SidecarStatus string

const (
	SidecarStatusPending   SidecarStatus = "Pending"
	SidecarStatusScanned   SidecarStatus = "Scanned"
	SidecarStatusConfirmed SidecarStatus = "Confirmed"
	SidecarStatusRejected  SidecarStatus = "Rejected"
	SidecarStatusExpired   SidecarStatus = "Expired"
)

// OpenSessionResult is the reply to `open_session()`.
type OpenSessionResult struct {
	SessionID   string
	QrImagePNG  []byte
	ExpiresInS  int
}

// SessionUpdate is one element of the `listen(session_id)` async stream.
type SessionUpdate struct {
	Status       SidecarStatus
	Cookies      map[string]string // set when Status == Confirmed
	AutoRefresh  bool
	QrImagePNG   []byte // set when AutoRefresh, a fresh QR image
	ExpiresInS   int
}

// ValidateResult is the reply to `validate(cookies)`.
type ValidateResult struct {
	Valid       bool
	UID         string
	DisplayName string
	Error       string
}

// SearchResult is the reply to `search(cookies, keyword, range, page)`.
type SearchResult struct {
	Posts           []models.CrawledPost
	HasNextPage     bool
	TotalPages      int
	CaptchaDetected bool
	RateLimited     bool
}

// SidecarBridge (C1) owns the browser-automation subprocess and its
// WebSocket control channel, offering the rest of the system a
// capability-style interface (spec.md §4.1).
type SidecarBridge interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) bool

	OpenSession(ctx context.Context) (*OpenSessionResult, error)
	Listen(ctx context.Context, sessionID string) (<-chan SessionUpdate, error)
	Validate(ctx context.Context, cookies map[string]string) (*ValidateResult, error)
	Search(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange, page int) (*SearchResult, error)
	Logs(ctx context.Context, limit int) ([]string, error)
}
