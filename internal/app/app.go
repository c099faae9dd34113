// Package app wires the Collector Supervisor, Flusher, and Query API HTTP
// server into a single process lifecycle, following the teacher's
// New/Start/Stop application shape.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/adapter/collector"
	"github.com/clashwatch/engine/internal/adapter/flusher"
	"github.com/clashwatch/engine/internal/adapter/geoip"
	"github.com/clashwatch/engine/internal/adapter/store"
	appmiddleware "github.com/clashwatch/engine/internal/app/middleware"
	"github.com/clashwatch/engine/internal/app/handlers"
	"github.com/clashwatch/engine/internal/config"
	"github.com/clashwatch/engine/internal/logger"
	"github.com/clashwatch/engine/internal/router"
	"github.com/clashwatch/engine/pkg/eventbus"
)

// Application owns every long-running component: the Store, the Realtime
// Cache, the Collector Supervisor, the Flusher, and the Query API's HTTP
// server.
type Application struct {
	config     *config.Config
	logger     *logger.StyledLogger
	registry   *router.RouteRegistry
	store      *store.Store
	cache      *cache.RealtimeCache
	supervisor *collector.Supervisor
	flusher    *flusher.Flusher
	handlers   *handlers.Application
	server     *http.Server
	errCh      chan error
}

// New wires every component but starts nothing; call Start to run them.
func New(cfg *config.Config, log *logger.StyledLogger) (*Application, error) {
	st, err := store.Open(cfg.Store.DBPath, geoip.Noop{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rc := cache.New()
	bus := eventbus.New[collector.BackendChanged]()

	sessionCfg := collector.SessionConfig{
		HandshakeTimeout: cfg.Collector.HandshakeTimeout,
		BaseBackoff:      cfg.Collector.BaseBackoff,
		MaxBackoff:       cfg.Collector.MaxBackoff,
		JitterPercent:    cfg.Collector.JitterPercent,
		StaleConnection:  cfg.Collector.StaleConnection,
	}
	supervisor := collector.NewSupervisor(st, rc, log, sessionCfg, bus)

	fl := flusher.New(rc, st, log, cfg.Flusher.Interval(), func() []string {
		backends, err := st.ListBackends()
		if err != nil {
			log.Error("list backends for flush", "error", err)
			return nil
		}
		ids := make([]string, 0, len(backends))
		for _, b := range backends {
			ids = append(ids, b.ID)
		}
		return ids
	})

	registry := router.NewRouteRegistry(log)
	h := handlers.NewApplication(cfg, st, rc, supervisor, log, registry)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.APIPort),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     log,
		registry:   registry,
		store:      st,
		cache:      rc,
		supervisor: supervisor,
		flusher:    fl,
		handlers:   h,
		server:     server,
		errCh:      make(chan error, 1),
	}, nil
}

// Start registers routes, starts the web server, the Collector Supervisor,
// the Flusher, and the stale-connection sweeper.
func (a *Application) Start(ctx context.Context) error {
	go func() {
		select {
		case err := <-a.errCh:
			a.logger.Error("server startup error", "error", err)
		case <-ctx.Done():
			return
		}
	}()

	a.startWebServer()
	a.supervisor.Start(ctx)
	a.flusher.Start(ctx)
	go a.supervisor.SweepStale(ctx, 5*time.Minute, a.config.Collector.StaleConnection)

	a.logger.Info("clashwatch started", "bind", a.server.Addr)
	return nil
}

// Stop drains in-flight Sessions, performs a final flush, and closes the
// Store, bounded by the configured shutdown timeout. The HTTP server is
// shut down first so no new queries race the teardown. If the drain and
// final flush do not finish in time, Stop returns an error and leaves the
// Store open.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}

	drained := make(chan struct{})
	go func() {
		a.supervisor.Stop()
		a.flusher.Stop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		return fmt.Errorf("drain sessions and final flush: %w", shutdownCtx.Err())
	}

	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func (a *Application) startWebServer() {
	a.handlers.RegisterRoutes()

	mux := http.NewServeMux()
	chain := appmiddleware.Chain(
		appmiddleware.RecoverMiddleware(a.logger),
		appmiddleware.LoggingMiddleware(a.logger),
	)
	a.registry.WireUpWithMiddleware(mux, chain)
	a.server.Handler = mux

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
			a.errCh <- err
		}
	}()
}
