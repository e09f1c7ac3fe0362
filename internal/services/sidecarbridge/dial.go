package sidecarbridge

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

func dial(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.DialContext(ctx, url, nil)
}

func websocketPingMessage() int {
	return websocket.PingMessage
}

func deadline(d time.Duration) time.Time {
	return time.Now().Add(d)
}
