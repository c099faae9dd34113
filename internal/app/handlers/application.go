// Package handlers implements the Query API: one file per concern, matching
// the teacher's handler_<concern>.go layout.
package handlers

import (
	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/adapter/collector"
	"github.com/clashwatch/engine/internal/adapter/store"
	"github.com/clashwatch/engine/internal/config"
	"github.com/clashwatch/engine/internal/logger"
	"github.com/clashwatch/engine/internal/router"
)

// Application holds every dependency the HTTP handlers need. It carries no
// behaviour of its own beyond registering routes; the Store, Realtime Cache,
// and Supervisor do the actual work.
type Application struct {
	Config     *config.Config
	Store      *store.Store
	Cache      *cache.RealtimeCache
	Supervisor *collector.Supervisor
	Logger     *logger.StyledLogger
	Registry   *router.RouteRegistry
}

func NewApplication(cfg *config.Config, st *store.Store, c *cache.RealtimeCache, sv *collector.Supervisor, log *logger.StyledLogger, registry *router.RouteRegistry) *Application {
	return &Application{
		Config:     cfg,
		Store:      st,
		Cache:      c,
		Supervisor: sv,
		Logger:     log,
		Registry:   registry,
	}
}

// RegisterRoutes wires every Query API route onto the Application's
// RouteRegistry.
func (a *Application) RegisterRoutes() {
	a.Registry.Register("/health", a.handleHealth, "Liveness and Session health")

	a.Registry.Register("/api/stats/summary", a.handleStatsSummary, "Per-backend totals, top domains/IPs, proxy/rule/hourly stats")
	a.Registry.Register("/api/stats/global", a.handleStatsGlobal, "Aggregate totals across all backends")
	a.Registry.Register("/api/stats/domains", a.handleStatsDomains, "Paginated domain breakdown")
	a.Registry.Register("/api/stats/ips", a.handleStatsIPs, "Paginated source-IP breakdown")
	a.Registry.Register("/api/stats/domains/proxy-stats", a.handleDomainProxyStats, "Source-IP drill-down for one domain")
	a.Registry.Register("/api/stats/ips/domain-details", a.handleIPDomainDetails, "Domain drill-down for one source IP")
	a.Registry.Register("/api/stats/proxies", a.handleStatsProxies, "Proxy-chain breakdown")
	a.Registry.Register("/api/stats/proxies/domains", a.handleProxyDomains, "Domain drill-down for one proxy chain")
	a.Registry.Register("/api/stats/proxies/ips", a.handleProxyIPs, "Source-IP drill-down for one proxy chain")
	a.Registry.Register("/api/stats/rules", a.handleStatsRules, "Rule breakdown")
	a.Registry.Register("/api/stats/rules/domains", a.handleRuleDomains, "Domain drill-down for one rule")
	a.Registry.Register("/api/stats/devices", a.handleStatsDevices, "Device breakdown")
	a.Registry.Register("/api/stats/countries", a.handleStatsCountries, "Country breakdown")
	a.Registry.Register("/api/stats/hourly", a.handleStatsHourly, "Hourly trend line")
	a.Registry.Register("/api/stats/trend", a.handleStatsHourly, "Alias of hourly trend line")
	a.Registry.Register("/api/stats/trend/aggregated", a.handleStatsTrendAggregated, "Daily trend line")
	a.Registry.Register("/api/stats/connections", a.handleStatsConnections, "Paginated connection log")

	a.Registry.Register("/api/backends", a.handleBackendsCollection, "List or create backends")
	a.Registry.Register("/api/backends/active", a.handleBackendsActive, "Get the active backend")
	a.Registry.Register("/api/backends/listening", a.handleBackendsListening, "List backends currently listening")
	a.Registry.RegisterWithMethod("/api/backends/test", a.handleBackendsTest, "Dial-test a candidate backend URL", "POST")
	a.Registry.RegisterWithMethod("/api/backends/", a.handleBackendsItem, "Backend by ID and sub-actions", "GET")

	a.Registry.RegisterWithMethod("/api/db/stats", a.handleDBStats, "Database row counts and size", "GET")
	a.Registry.RegisterWithMethod("/api/db/cleanup", a.handleDBCleanup, "Retention cleanup", "POST")
	a.Registry.RegisterWithMethod("/api/db/vacuum", a.handleDBVacuum, "Reclaim disk space", "POST")
	a.Registry.Register("/api/db/retention", a.handleDBRetention, "Get or set retention configuration")
}
