package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clashwatch/engine/internal/util"
)

const testDialTimeout = 5 * time.Second

// dialTestConnection opens a short-lived WebSocket connection against the
// candidate backend's /connections endpoint and tears it down immediately;
// it never registers a Session or touches the Store.
func dialTestConnection(ctx context.Context, backendURL, token string) (bool, error) {
	wsURL, err := toWebSocketURL(backendURL)
	if err != nil {
		return false, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, testDialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: testDialTimeout}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := dialer.DialContext(dialCtx, wsURL, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	return true, nil
}

func toWebSocketURL(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/connections") {
		u.Path = util.JoinURLPath(u.Path, "connections")
	}
	return u.String(), nil
}
