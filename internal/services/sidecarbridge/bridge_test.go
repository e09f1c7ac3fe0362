package sidecarbridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/common"
	"github.com/weiqr/weiqr/internal/models"
)

// fakeSidecarServer echoes a canned reply for each recognised request type,
// standing in for the real sidecar subprocess so the Bridge's wire handling
// can be exercised without chromedp.
func fakeSidecarServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}

			var reply Frame
			switch frame.Type {
			case FrameOpenSession:
				payload, _ := json.Marshal(qrGeneratedPayload{
					QrImage:   base64.StdEncoding.EncodeToString([]byte("png-bytes")),
					ExpiresIn: 180,
				})
				reply = Frame{Type: FrameQrGenerated, RequestID: frame.RequestID, SessionID: "sess-1", Payload: payload}
			case FrameValidate:
				payload, _ := json.Marshal(validationResultPayload{Valid: true, UID: "42", DisplayName: "Alice"})
				reply = Frame{Type: FrameValidationResult, RequestID: frame.RequestID, Payload: payload}
			case FrameSearch:
				payload, _ := json.Marshal(searchResultPayload{
					Posts: []wirePost{{ID: "p1", PublishedAt: time.Now().UTC().Format(time.RFC3339), Content: "hi", Author: "bob"}},
				})
				reply = Frame{Type: FrameSearchResult, RequestID: frame.RequestID, Payload: payload}
			default:
				continue
			}

			out, _ := json.Marshal(reply)
			_ = conn.WriteMessage(websocket.TextMessage, out)
		}
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	return srv, wsURL
}

func newConnectedBridge(t *testing.T, wsURL string) *Bridge {
	t.Helper()

	b := New(common.SidecarConfig{
		PingInterval:      time.Minute,
		PingMissThreshold: 2,
		HealthInterval:    time.Minute,
		HealthMaxFailures: 3,
		MaxReconnects:     0,
	}, nil, arbor.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	require.NoError(t, err)

	b.conn = conn
	b.started = true
	b.stopHealth = make(chan struct{})
	go b.readLoop()

	t.Cleanup(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.stopHealth)
		conn.Close()
	})

	return b
}

func TestBridge_OpenSession_DecodesQrImage(t *testing.T) {
	srv, wsURL := fakeSidecarServer(t)
	defer srv.Close()

	b := newConnectedBridge(t, wsURL)

	result, err := b.OpenSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sess-1", result.SessionID)
	require.Equal(t, []byte("png-bytes"), result.QrImagePNG)
	require.Equal(t, 180, result.ExpiresInS)
}

func TestBridge_Validate_ReturnsResult(t *testing.T) {
	srv, wsURL := fakeSidecarServer(t)
	defer srv.Close()

	b := newConnectedBridge(t, wsURL)

	result, err := b.Validate(context.Background(), map[string]string{"SUB": "t", "SUBP": "s"})
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, "42", result.UID)
}

func TestBridge_Search_DecodesPosts(t *testing.T) {
	srv, wsURL := fakeSidecarServer(t)
	defer srv.Close()

	b := newConnectedBridge(t, wsURL)

	searchRange := models.TimeRange{Start: time.Now().Add(-time.Hour), End: time.Now()}
	result, err := b.Search(context.Background(), map[string]string{"SUB": "t"}, "golang", searchRange, 1)
	require.NoError(t, err)
	require.Len(t, result.Posts, 1)
	require.Equal(t, "p1", result.Posts[0].PostID)
}

func TestBridge_Request_TimesOutWithoutReply(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never replies.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	b := newConnectedBridge(t, wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Validate(ctx, map[string]string{"SUB": "t"})
	require.Error(t, err)
}
