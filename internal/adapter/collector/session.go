// Package collector implements the Collector Session (one WebSocket client
// per backend) and the Collector Supervisor that reconciles live Sessions
// against the set of enabled, listening backends in the Store.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/adapter/delta"
	"github.com/clashwatch/engine/internal/adapter/store"
	"github.com/clashwatch/engine/internal/core/domain"
	"github.com/clashwatch/engine/internal/logger"
	"github.com/clashwatch/engine/internal/util"
	"github.com/clashwatch/engine/pkg/pool"
)

// snapshotBuffer is a reusable backing array for one frame's connection
// snapshots, pooled per Session since a connected backend decodes one of
// these on every tick.
type snapshotBuffer struct {
	items []domain.ConnectionSnapshot
}

func (b *snapshotBuffer) Reset() {
	b.items = b.items[:0]
}

// SessionConfig carries the tunables a Session needs from configuration.
type SessionConfig struct {
	HandshakeTimeout time.Duration
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	JitterPercent    float64
	StaleConnection  time.Duration
}

// frame mirrors the upstream Clash traffic frame.
type frame struct {
	DownloadTotal uint64           `json:"downloadTotal"`
	UploadTotal   uint64           `json:"uploadTotal"`
	Connections   []frameConn      `json:"connections"`
}

type frameConn struct {
	ID       string       `json:"id"`
	Upload   uint64       `json:"upload"`
	Download uint64       `json:"download"`
	Start    string       `json:"start"`
	Chains   []string     `json:"chains"`
	Rule     string       `json:"rule"`
	RulePayload string    `json:"rulePayload"`
	Metadata frameMetadata `json:"metadata"`
}

type frameMetadata struct {
	Host            string `json:"host"`
	DestinationIP   string `json:"destinationIP"`
	DestinationPort string `json:"destinationPort"`
	SourceIP        string `json:"sourceIP"`
	SourcePort      string `json:"sourcePort"`
	Network         string `json:"network"`
	Type            string `json:"type"`
	Process         string `json:"process"`
}

// Session owns one backend's upstream WebSocket connection, its Delta
// Computer state, and its health fields. All health reads/writes go through
// mu so HTTP status handlers never race the read loop.
type Session struct {
	backend domain.Backend
	cfg     SessionConfig

	cache   *cache.RealtimeCache
	store   *store.Store
	log     *logger.StyledLogger
	computer *delta.Computer
	buffers  *pool.Pool[*snapshotBuffer]

	mu     sync.Mutex
	health domain.SessionHealth

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession constructs a Session in SessionStateIdle. Call Start to begin
// connecting.
func NewSession(backend domain.Backend, cfg SessionConfig, c *cache.RealtimeCache, s *store.Store, log *logger.StyledLogger) *Session {
	return &Session{
		backend:  backend,
		cfg:      cfg,
		cache:    c,
		store:    s,
		log:      log,
		computer: delta.NewComputer(),
		buffers: pool.NewLitePool(func() *snapshotBuffer {
			return &snapshotBuffer{items: make([]domain.ConnectionSnapshot, 0, 64)}
		}),
		health: domain.SessionHealth{
			BackendID: backend.ID,
			State:     domain.SessionStateIdle,
			Status:    domain.SessionUnknown,
		},
	}
}

// Start launches the reconnect-and-read loop in a goroutine. Stop cancels it
// and blocks until the loop has exited.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(ctx, done)
}

func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (s *Session) Health() domain.SessionHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	s.health.State = state
	s.mu.Unlock()
}

// run is the reconnect loop: dial, read frames until error, back off,
// repeat, until ctx is cancelled. A panic inside one read never kills the
// process; it's captured, logged, and treated as a connection failure.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.computer.Reset()

	attempt := 0
	for {
		if ctx.Err() != nil {
			s.setState(domain.SessionStateStopped)
			return
		}

		s.setState(domain.SessionStateConnecting)
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			s.setState(domain.SessionStateStopped)
			return
		}

		attempt++
		s.mu.Lock()
		s.health.Status = domain.SessionUnhealthy
		if err != nil {
			s.health.LastError = err.Error()
		}
		s.health.Attempt = attempt
		s.mu.Unlock()
		s.log.WarnWithBackend("collector session disconnected", s.backend.Name, "error", err, "attempt", attempt)

		backoff := util.CalculateExponentialBackoff(attempt, s.cfg.BaseBackoff, s.cfg.MaxBackoff, s.cfg.JitterPercent)
		s.mu.Lock()
		s.health.NextRetryAt = time.Now().Add(backoff)
		s.mu.Unlock()
		s.setState(domain.SessionStateBackoff)

		select {
		case <-ctx.Done():
			s.setState(domain.SessionStateStopped)
			return
		case <-time.After(backoff):
		}
	}
}

func (s *Session) connectAndRead(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in collector session: %v", r)
			s.log.ErrorWithBackend("recovered panic in collector session", s.backend.Name, "panic", r)
		}
	}()

	u, parseErr := buildWebSocketURL(s.backend.URL)
	if parseErr != nil {
		return fmt.Errorf("invalid backend url: %w", parseErr)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	header := http.Header{}
	if s.backend.Secret != "" {
		header.Set("Authorization", "Bearer "+s.backend.Secret)
	}

	conn, _, dialErr := dialer.DialContext(ctx, u, header)
	if dialErr != nil {
		return fmt.Errorf("dial upstream: %w", dialErr)
	}
	defer conn.Close()

	s.mu.Lock()
	s.health.State = domain.SessionStateOpen
	s.health.Status = domain.SessionHealthy
	s.health.ConnectedAt = time.Now()
	s.health.Attempt = 0
	s.health.LastError = ""
	s.mu.Unlock()
	s.log.InfoSessionStatus("collector session connected to", s.backend.Name, domain.SessionHealthy)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			return fmt.Errorf("read frame: %w", readErr)
		}
		s.handleFrame(raw)
	}
}

func (s *Session) handleFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.log.WarnWithBackend("dropped undecodable frame", s.backend.Name, "error", err)
		return
	}

	now := time.Now().UTC()
	buf := s.buffers.Get()
	defer s.buffers.Put(buf)
	for _, c := range f.Connections {
		start, _ := time.Parse(time.RFC3339, c.Start)
		buf.items = append(buf.items, domain.ConnectionSnapshot{
			ID:          c.ID,
			Upload:      c.Upload,
			Download:    c.Download,
			Start:       start,
			Host:        c.Metadata.Host,
			DestIP:      c.Metadata.DestinationIP,
			SourceIP:    c.Metadata.SourceIP,
			Network:     c.Metadata.Network,
			ProxyChain:  c.Chains,
			Rule:        c.Rule,
			RulePayload: c.RulePayload,
			// Device identity has no dedicated field in the upstream frame;
			// the source IP is the closest stable per-device signal available.
			Device:  c.Metadata.SourceIP,
			Country: s.resolveCountry(c.Metadata.DestinationIP),
		})
	}

	deltas, closedIDs := s.computer.Compute(s.backend.ID, buf.items, now)

	for _, d := range deltas {
		chain := canonicalChain(d.Identity.ProxyChain)
		s.cache.ApplyConnectionDelta(s.backend.ID, d, chain, d.IsNew, now)
	}

	for _, id := range closedIDs {
		st, ok := s.computer.FinalState(id)
		if !ok {
			continue
		}
		s.persistClose(id, st, now)
	}

	s.mu.Lock()
	s.health.LastFrameAt = now
	s.mu.Unlock()
}

// resolveCountry resolves a destination IP to a country code through the
// Store's GeoIP collaborator. Returns "" (and skips the lookup entirely)
// when there's no Store attached or no IP to resolve.
func (s *Session) resolveCountry(destIP string) string {
	if s.store == nil || destIP == "" {
		return ""
	}
	return s.store.ResolveCountry(destIP)
}

// persistClose best-effort writes a closed connection's final byte counts
// and frozen identity. Store write failures are logged, never propagated —
// the Session keeps reading regardless.
func (s *Session) persistClose(connectionID string, st domain.ConnectionState, now time.Time) {
	if s.store == nil {
		return
	}
	err := s.store.UpsertConnectionClose(
		s.backend.ID, connectionID,
		st.Identity.Host, st.Identity.DestIP, st.Identity.SourceIP,
		canonicalChain(st.Identity.ProxyChain), st.Identity.Rule, st.Identity.Device, st.Identity.Country,
		st.BaselineUpload, st.BaselineDown,
		st.FirstSeen.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		s.log.WarnWithBackend("failed to persist closed connection", s.backend.Name, "error", err)
	}
}

// canonicalChain joins a proxy chain with " > " (e.g. "PROXY > DIRECT",
// landing proxy first), the stable key component every proxy-chain
// dimension uses.
func canonicalChain(chain []string) string {
	if len(chain) == 0 {
		return ""
	}
	return strings.Join(chain, " > ")
}

func buildWebSocketURL(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}
	if !strings.HasSuffix(u.Path, "/connections") {
		u.Path = util.JoinURLPath(u.Path, "connections")
	}
	return u.String(), nil
}
