package collector

import (
	"context"
	"sync"
	"time"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/adapter/store"
	"github.com/clashwatch/engine/internal/core/domain"
	"github.com/clashwatch/engine/internal/logger"
	"github.com/clashwatch/engine/pkg/eventbus"
)

// BackendChanged is published whenever a mutating backend API call commits,
// so the Supervisor can reconcile without polling.
type BackendChanged struct {
	BackendID string
	Reason    string
}

// Supervisor reconciles live Sessions against the set of enabled, listening
// backends recorded in the Store. Mutations to its session map are
// serialized by one mutex, matching the teacher's RouteRegistry convention.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store *store.Store
	cache *cache.RealtimeCache
	log   *logger.StyledLogger
	cfg   SessionConfig

	bus        *eventbus.EventBus[BackendChanged]
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSupervisor(st *store.Store, c *cache.RealtimeCache, log *logger.StyledLogger, cfg SessionConfig, bus *eventbus.EventBus[BackendChanged]) *Supervisor {
	return &Supervisor{
		sessions: make(map[string]*Session),
		store:    st,
		cache:    c,
		log:      log,
		cfg:      cfg,
		bus:      bus,
	}
}

// Start performs an initial sync and subscribes to BackendChanged events for
// subsequent reconciliations.
func (sv *Supervisor) Start(ctx context.Context) {
	sv.ctx, sv.cancel = context.WithCancel(ctx)
	sv.sync()

	ch, unsubscribe := sv.bus.Subscribe(sv.ctx)
	sv.unsubscribe = unsubscribe
	go func() {
		for range ch {
			sv.sync()
		}
	}()
}

// Stop stops every live Session and blocks until all have drained; it has
// no deadline of its own.
func (sv *Supervisor) Stop() {
	if sv.unsubscribe != nil {
		sv.unsubscribe()
	}
	if sv.cancel != nil {
		sv.cancel()
	}

	sv.mu.Lock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.sessions = make(map[string]*Session)
	sv.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// Notify publishes a BackendChanged event, used by the backends HTTP
// handler after a mutating call commits.
func (sv *Supervisor) Notify(backendID, reason string) {
	sv.bus.PublishAsync(BackendChanged{BackendID: backendID, Reason: reason})
}

// sync reconciles the live session map against ListListeningBackends: starts
// Sessions for newly-eligible backends, stops ones no longer eligible, and
// leaves unaffected Sessions running.
func (sv *Supervisor) sync() {
	wanted, err := sv.store.ListListeningBackends()
	if err != nil {
		sv.log.Error("failed to list listening backends during reconciliation", "error", err)
		return
	}
	wantedByID := make(map[string]domain.Backend, len(wanted))
	for _, b := range wanted {
		wantedByID[b.ID] = b
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()

	for id, sess := range sv.sessions {
		if _, ok := wantedByID[id]; !ok {
			sess.Stop()
			delete(sv.sessions, id)
			sv.log.InfoWithBackend("stopped collector session for backend no longer listening", id)
		}
	}

	for id, b := range wantedByID {
		if _, ok := sv.sessions[id]; ok {
			continue
		}
		sess := NewSession(b, sv.cfg, sv.cache, sv.store, sv.log)
		sess.Start(sv.ctx)
		sv.sessions[id] = sess
		sv.log.InfoWithBackend("started collector session for backend", b.Name)
	}
}

// Health returns the current health snapshot for every live Session.
func (sv *Supervisor) Health() []domain.SessionHealth {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	out := make([]domain.SessionHealth, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		out = append(out, s.Health())
	}
	return out
}

// SweepStale periodically evicts long-closed connection state from every
// live Session's Delta Computer, bounding memory on long-running backends.
func (sv *Supervisor) SweepStale(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sv.mu.Lock()
			for _, s := range sv.sessions {
				s.computer.Sweep(now, staleAfter)
			}
			sv.mu.Unlock()
		}
	}
}
