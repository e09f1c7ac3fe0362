package sidecarbridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/common"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
)

// pendingRequest tracks one outstanding request/reply pair keyed by
// RequestID.
type pendingRequest struct {
	replies chan Frame
}

// Bridge implements interfaces.SidecarBridge: owns the sidecar subprocess
// and its WebSocket control channel.
type Bridge struct {
	cfg    common.SidecarConfig
	events interfaces.EventService
	logger arbor.ILogger

	mu      sync.Mutex
	cmd     *exec.Cmd
	conn    *websocket.Conn
	started bool
	closed  bool

	// writeMu serialises every WriteMessage call on conn (pingLoop's
	// WriteControl does not take it).
	// gorilla/websocket permits at most one concurrent writer; spec.md §5
	// requires the control channel be "serialised by an internal write
	// queue" precisely because Search/Validate/OpenSession are reached
	// concurrently (parallel crawl tasks, the Sharder's page-1 probe, the
	// Validator). This mutex is that queue.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	listenersMu sync.Mutex
	listeners   map[string][]chan interfaces.SessionUpdate

	healthFailures int
	stopHealth     chan struct{}

	logMu    sync.Mutex
	logLines []string
}

// maxSidecarLogLines bounds the in-memory tail kept for get_playwright_logs
// (spec.md §6.1); older lines fall off as new ones arrive.
const maxSidecarLogLines = 500

// New builds a Bridge; Start() must be called before use. events may be
// nil, in which case ConnectionLost/ConnectionRestored are logged only.
func New(cfg common.SidecarConfig, events interfaces.EventService, logger arbor.ILogger) *Bridge {
	return &Bridge{
		cfg:       cfg,
		events:    events,
		logger:    logger,
		pending:   make(map[string]*pendingRequest),
		listeners: make(map[string][]chan interfaces.SessionUpdate),
	}
}

var _ interfaces.SidecarBridge = (*Bridge)(nil)

// Start launches the sidecar subprocess on first use, dials the control
// channel, and begins the health-poll and read loops (spec.md §4.1,
// "Subprocess lifecycle").
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	cmd := exec.CommandContext(context.Background(), b.cfg.LauncherPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperr.Wrap(apperr.CodeNetworkFailed, "opening sidecar stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return apperr.Wrap(apperr.CodeNetworkFailed, "opening sidecar stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return apperr.Wrap(apperr.CodeNetworkFailed, "starting sidecar subprocess", err)
	}

	pid := cmd.Process.Pid
	b.logger.Info().Int("pid", pid).Str("launcher", b.cfg.LauncherPath).Msg("sidecar subprocess started")

	go forwardLines(stdout, b.logger, pid, false, b.appendLogLine)
	go forwardLines(stderr, b.logger, pid, true, b.appendLogLine)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.ControlURL, nil)
	if err != nil {
		_ = cmd.Process.Kill()
		return apperr.Wrap(apperr.CodeNetworkFailed, "dialing sidecar control channel", err)
	}

	b.mu.Lock()
	b.cmd = cmd
	b.conn = conn
	b.started = true
	b.closed = false
	b.mu.Unlock()

	b.stopHealth = make(chan struct{})
	go b.readLoop()
	go b.pingLoop()
	go b.healthLoop()

	return nil
}

// Stop terminates the read/health loops, closes the control channel, and
// kills the subprocess.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started || b.closed {
		return nil
	}
	b.closed = true

	if b.stopHealth != nil {
		close(b.stopHealth)
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}

	b.logger.Info().Msg("sidecar bridge stopped")
	return nil
}

// Health reports the last-known health-poll outcome.
func (b *Bridge) Health(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && !b.closed && b.healthFailures < b.cfg.HealthMaxFailures
}

// appendLogLine records one stdout/stderr line from the subprocess in the
// bounded in-memory tail that Logs serves.
func (b *Bridge) appendLogLine(line string) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.logLines = append(b.logLines, line)
	if over := len(b.logLines) - maxSidecarLogLines; over > 0 {
		b.logLines = b.logLines[over:]
	}
}

// Logs returns the most recent sidecar subprocess log lines, up to limit
// (spec.md §6.1, `get_playwright_logs`). limit <= 0 returns everything kept.
func (b *Bridge) Logs(ctx context.Context, limit int) ([]string, error) {
	b.logMu.Lock()
	defer b.logMu.Unlock()

	if limit <= 0 || limit >= len(b.logLines) {
		out := make([]string, len(b.logLines))
		copy(out, b.logLines)
		return out, nil
	}
	return append([]string(nil), b.logLines[len(b.logLines)-limit:]...), nil
}

// OpenSession requests a new QR-login session from the sidecar
// (spec.md §4.1, "open_session()").
func (b *Bridge) OpenSession(ctx context.Context) (*interfaces.OpenSessionResult, error) {
	reply, err := b.request(ctx, FrameOpenSession, "", nil)
	if err != nil {
		return nil, err
	}

	var payload qrGeneratedPayload
	if err := json.Unmarshal(reply.Payload, &payload); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, "decoding open_session reply", err)
	}

	image, err := base64.StdEncoding.DecodeString(payload.QrImage)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, "decoding qr image", err)
	}

	return &interfaces.OpenSessionResult{
		SessionID:  reply.SessionID,
		QrImagePNG: image,
		ExpiresInS: payload.ExpiresIn,
	}, nil
}

// Listen returns an async stream of session status updates
// (spec.md §4.1, "listen(session_id)"). The channel is closed when ctx is
// cancelled; a terminal session status does not close it.
func (b *Bridge) Listen(ctx context.Context, sessionID string) (<-chan interfaces.SessionUpdate, error) {
	ch := make(chan interfaces.SessionUpdate, 8)

	b.listenersMu.Lock()
	b.listeners[sessionID] = append(b.listeners[sessionID], ch)
	b.listenersMu.Unlock()

	go func() {
		<-ctx.Done()
		b.listenersMu.Lock()
		defer b.listenersMu.Unlock()
		subs := b.listeners[sessionID]
		for i, c := range subs {
			if c == ch {
				b.listeners[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Validate probes a cookie set through the sidecar (spec.md §4.1,
// "validate(cookies)").
func (b *Bridge) Validate(ctx context.Context, cookies map[string]string) (*interfaces.ValidateResult, error) {
	payload, err := json.Marshal(validateRequestPayload{Cookies: cookies})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeSerializationError, "encoding validate request", err)
	}

	reply, err := b.request(ctx, FrameValidate, "", payload)
	if err != nil {
		return nil, err
	}

	var result validationResultPayload
	if err := json.Unmarshal(reply.Payload, &result); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, "decoding validation_result reply", err)
	}

	return &interfaces.ValidateResult{
		Valid:       result.Valid,
		UID:         result.UID,
		DisplayName: result.DisplayName,
		Error:       result.Error,
	}, nil
}

// Search runs one page of a keyword search through the sidecar
// (spec.md §4.1, "search(cookies, keyword, range, page)").
func (b *Bridge) Search(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange, page int) (*interfaces.SearchResult, error) {
	payload, err := json.Marshal(searchRequestPayload{
		Cookies: cookies,
		Keyword: keyword,
		Range: timeRangeWire{
			Start: r.Start.UTC().Format(time.RFC3339),
			End:   r.End.UTC().Format(time.RFC3339),
		},
		Page: page,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeSerializationError, "encoding search request", err)
	}

	reply, err := b.request(ctx, FrameSearch, "", payload)
	if err != nil {
		return nil, err
	}

	var result searchResultPayload
	if err := json.Unmarshal(reply.Payload, &result); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, "decoding search_result reply", err)
	}

	posts := make([]models.CrawledPost, 0, len(result.Posts))
	for _, wp := range result.Posts {
		publishedAt, err := time.Parse(time.RFC3339, wp.PublishedAt)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidResponse, "decoding post published_at", err)
		}
		posts = append(posts, models.CrawledPost{
			PostID:      wp.ID,
			PublishedAt: publishedAt,
			Content:     wp.Content,
			Author:      wp.Author,
			Metadata:    wp.Metadata,
		})
	}

	return &interfaces.SearchResult{
		Posts:           posts,
		HasNextPage:     result.HasNextPage,
		TotalPages:      result.TotalPages,
		CaptchaDetected: result.CaptchaDetected,
		RateLimited:     result.RateLimited,
	}, nil
}

// request sends a frame and blocks for its correlated reply, bounded by
// ctx (spec.md §4.1 does not name a per-request timeout; callers such as
// the Validator and Crawl Engine apply their own).
func (b *Bridge) request(ctx context.Context, frameType FrameType, sessionID string, payload json.RawMessage) (Frame, error) {
	requestID := uuid.NewString()

	pending := &pendingRequest{replies: make(chan Frame, 1)}
	b.pendingMu.Lock()
	b.pending[requestID] = pending
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, requestID)
		b.pendingMu.Unlock()
	}()

	frame := Frame{Type: frameType, RequestID: requestID, SessionID: sessionID, Payload: payload}
	if err := b.writeFrame(frame); err != nil {
		return Frame{}, err
	}

	select {
	case reply := <-pending.replies:
		if reply.Type == FrameError {
			var errPayload errorPayload
			_ = json.Unmarshal(reply.Payload, &errPayload)
			return Frame{}, apperr.New(apperr.CodeInvalidResponse, fmt.Sprintf("sidecar error %s: %s", errPayload.Code, errPayload.Message))
		}
		return reply, nil
	case <-ctx.Done():
		return Frame{}, apperr.Wrap(apperr.CodeTimeout, "waiting for sidecar reply", ctx.Err())
	}
}

func (b *Bridge) writeFrame(frame Frame) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return apperr.New(apperr.CodeConnectionLost, "sidecar control channel not connected")
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return apperr.Wrap(apperr.CodeSerializationError, "encoding sidecar frame", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperr.Wrap(apperr.CodeNetworkFailed, "writing sidecar frame", err)
	}
	return nil
}
