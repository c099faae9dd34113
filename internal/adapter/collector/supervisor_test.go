package collector

import (
	"context"
	"testing"
	"time"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/adapter/geoip"
	"github.com/clashwatch/engine/internal/adapter/store"
	"github.com/clashwatch/engine/internal/core/domain"
	"github.com/clashwatch/engine/pkg/eventbus"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", geoip.Noop{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSupervisor_SyncStartsSessionForListeningBackend(t *testing.T) {
	st := newTestStore(t)
	b, err := st.CreateBackend(domain.Backend{ID: "b1", Name: "router-1", URL: "http://127.0.0.1:1", Enabled: true})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if err := st.SetListening(b.ID, true); err != nil {
		t.Fatalf("SetListening: %v", err)
	}

	bus := eventbus.New[BackendChanged]()
	sv := NewSupervisor(st, cache.New(), testLogger(t), SessionConfig{
		HandshakeTimeout: time.Second,
		BaseBackoff:      10 * time.Millisecond,
		MaxBackoff:       50 * time.Millisecond,
		JitterPercent:    0.1,
		StaleConnection:  time.Minute,
	}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sv.Start(ctx)
	defer sv.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sv.Health()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	health := sv.Health()
	if len(health) != 1 {
		t.Fatalf("expected 1 session, got %d", len(health))
	}
	if health[0].BackendID != "b1" {
		t.Errorf("session backend = %q, want b1", health[0].BackendID)
	}
}

func TestSupervisor_NotifyTriggersResync(t *testing.T) {
	st := newTestStore(t)
	bus := eventbus.New[BackendChanged]()
	sv := NewSupervisor(st, cache.New(), testLogger(t), SessionConfig{
		HandshakeTimeout: time.Second,
		BaseBackoff:      10 * time.Millisecond,
		MaxBackoff:       50 * time.Millisecond,
		JitterPercent:    0.1,
		StaleConnection:  time.Minute,
	}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sv.Start(ctx)
	defer sv.Stop()

	if len(sv.Health()) != 0 {
		t.Fatalf("expected no sessions before backend exists, got %d", len(sv.Health()))
	}

	b, err := st.CreateBackend(domain.Backend{ID: "b2", Name: "router-2", URL: "http://127.0.0.1:1", Enabled: true})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if err := st.SetListening(b.ID, true); err != nil {
		t.Fatalf("SetListening: %v", err)
	}
	sv.Notify(b.ID, "created")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sv.Health()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(sv.Health()) != 1 {
		t.Fatalf("expected 1 session after notify, got %d", len(sv.Health()))
	}
}
