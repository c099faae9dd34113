package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/core/domain"
	"github.com/clashwatch/engine/internal/logger"
	"github.com/clashwatch/engine/internal/theme"
)

func testLogger(t *testing.T) *logger.StyledLogger {
	t.Helper()
	l, cleanup, err := logger.New(&logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(cleanup)
	return logger.NewStyledLogger(l, theme.Default())
}

// fakeUpstream serves one or more frames over a single /connections
// WebSocket connection, mirroring a Clash router's push stream.
func fakeUpstream(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		// keep the socket open briefly so the client has time to read
		time.Sleep(200 * time.Millisecond)
	}))
	return srv
}

func mustMarshalFrame(t *testing.T, f frame) []byte {
	t.Helper()
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

func TestSession_AppliesDeltaFromUpstreamFrame(t *testing.T) {
	f := frame{
		DownloadTotal: 1500,
		UploadTotal:   150,
		Connections: []frameConn{
			{
				ID:       "c1",
				Upload:   150,
				Download: 1500,
				Start:    time.Now().UTC().Format(time.RFC3339),
				Chains:   []string{"DIRECT"},
				Rule:     "Match",
				Metadata: frameMetadata{Host: "example.com", SourceIP: "10.0.0.5"},
			},
		},
	}
	srv := fakeUpstream(t, [][]byte{mustMarshalFrame(t, f)})
	defer srv.Close()

	backend := domain.Backend{ID: "backend-1", Name: "test", URL: srv.URL, Enabled: true}
	c := cache.New()
	sess := NewSession(backend, SessionConfig{
		HandshakeTimeout: 2 * time.Second,
		BaseBackoff:      50 * time.Millisecond,
		MaxBackoff:       200 * time.Millisecond,
		JitterPercent:    0.1,
		StaleConnection:  time.Minute,
	}, c, nil, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	sess.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		domains := c.MergeTopDomains("backend-1", nil, 10)
		if len(domains) == 1 && domains[0].UploadBytes == 150 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	domains := c.MergeTopDomains("backend-1", nil, 10)
	if len(domains) != 1 {
		t.Fatalf("expected 1 domain row, got %d", len(domains))
	}
	if domains[0].UploadBytes != 150 || domains[0].DownloadBytes != 1500 {
		t.Errorf("domain stat = %+v, want upload=150 download=1500", domains[0])
	}

	cancel()
	sess.Stop()
}

func TestBuildWebSocketURL_SchemeTranslation(t *testing.T) {
	cases := map[string]string{
		"http://host:9090":       "ws://host:9090/connections",
		"https://host:9090":      "wss://host:9090/connections",
		"http://host:9090/other": "ws://host:9090/other/connections",
	}
	for in, want := range cases {
		got, err := buildWebSocketURL(in)
		if err != nil {
			t.Fatalf("buildWebSocketURL(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("buildWebSocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}
