// Package flusher periodically drains the Realtime Cache's pending deltas
// for every known backend and persists them to the Store in batches.
package flusher

import (
	"context"
	"strings"
	"time"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/core/domain"
	"github.com/clashwatch/engine/internal/logger"
)

const maxRetries = 5

// Writer is the subset of the Store the Flusher needs to persist a batch,
// narrowed so tests can supply a fake instead of an embedded database.
type Writer interface {
	WriteHourly([]domain.HourlyStat) error
	WriteDomains([]domain.DomainStat) error
	WriteIPs([]domain.IPStat) error
	WriteProxies([]domain.ProxyStat) error
	WriteRules([]domain.RuleStat) error
	WriteDevices([]domain.DeviceStat) error
	WriteCountries([]domain.CountryStat) error
	WriteDomainIPs([]domain.DomainIPStat) error
	WriteProxyDomains([]domain.ProxyDomainStat) error
	WriteProxyIPs([]domain.ProxyIPStat) error
	WriteRuleDomains([]domain.RuleDomainStat) error
}

// Flusher owns the drain-and-persist loop. Config.Interval governs the
// ticker; dimensions flush in the fixed order hourly, domain, ip, proxy,
// rule, device, country, then the cross-dimension join tables. Each
// dimension is its own committed transaction (Store.WriteX), so a failure
// on one never re-applies an already-committed one: only the dimensions
// that actually failed are retried or requeued.
type Flusher struct {
	cache    *cache.RealtimeCache
	store    Writer
	log      *logger.StyledLogger
	interval time.Duration

	listBackendIDs func() []string

	stopped chan struct{}
	done    chan struct{}
}

func New(c *cache.RealtimeCache, st Writer, log *logger.StyledLogger, interval time.Duration, listBackendIDs func() []string) *Flusher {
	return &Flusher{
		cache:          c,
		store:          st,
		log:            log,
		interval:       interval,
		listBackendIDs: listBackendIDs,
		stopped:        make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the ticker loop in a goroutine.
func (f *Flusher) Start(ctx context.Context) {
	go f.run(ctx)
}

// Stop signals the loop to exit, performs one final synchronous flush, and
// blocks until it completes.
func (f *Flusher) Stop() {
	close(f.stopped)
	<-f.done
}

func (f *Flusher) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flushAll()
			return
		case <-f.stopped:
			f.flushAll()
			return
		case <-ticker.C:
			f.flushAll()
		}
	}
}

func (f *Flusher) flushAll() {
	for _, id := range f.listBackendIDs() {
		f.flushBackend(id)
	}
}

func (f *Flusher) flushBackend(backendID string) {
	batch := f.cache.Drain(backendID)
	if batch.Empty() {
		return
	}

	remaining, discarded := f.persistBatch(batch)
	if discarded > 0 {
		f.log.Error("discarding rows after fatal store error", "backend_id", backendID, "rows", discarded)
	}
	if !remaining.Empty() {
		f.log.Error("flush failed after retries, re-queuing unpersisted dimensions", "backend_id", backendID)
		f.cache.Requeue(remaining)
	}
}

// persistBatch writes every dimension in fixed order, each independently
// retried on a transient error. It returns a batch holding only the rows
// that never made it to the Store (to requeue) and a count of rows dropped
// after a fatal, non-retryable error.
func (f *Flusher) persistBatch(batch *cache.FlushBatch) (*cache.FlushBatch, int) {
	remaining := &cache.FlushBatch{BackendID: batch.BackendID}
	discarded := 0
	var dropped int

	remaining.Hourly, dropped = persistDimension(f, batch.Hourly, f.store.WriteHourly, "hourly")
	discarded += dropped
	remaining.Domains, dropped = persistDimension(f, batch.Domains, f.store.WriteDomains, "domain")
	discarded += dropped
	remaining.IPs, dropped = persistDimension(f, batch.IPs, f.store.WriteIPs, "ip")
	discarded += dropped
	remaining.Proxies, dropped = persistDimension(f, batch.Proxies, f.store.WriteProxies, "proxy")
	discarded += dropped
	remaining.Rules, dropped = persistDimension(f, batch.Rules, f.store.WriteRules, "rule")
	discarded += dropped
	remaining.Devices, dropped = persistDimension(f, batch.Devices, f.store.WriteDevices, "device")
	discarded += dropped
	remaining.Countries, dropped = persistDimension(f, batch.Countries, f.store.WriteCountries, "country")
	discarded += dropped
	remaining.DomainIPs, dropped = persistDimension(f, batch.DomainIPs, f.store.WriteDomainIPs, "domain_ip")
	discarded += dropped
	remaining.ProxyDomains, dropped = persistDimension(f, batch.ProxyDomains, f.store.WriteProxyDomains, "proxy_domain")
	discarded += dropped
	remaining.ProxyIPs, dropped = persistDimension(f, batch.ProxyIPs, f.store.WriteProxyIPs, "proxy_ip")
	discarded += dropped
	remaining.RuleDomains, dropped = persistDimension(f, batch.RuleDomains, f.store.WriteRuleDomains, "rule_domain")
	discarded += dropped

	return remaining, discarded
}

// persistDimension retries one dimension's write up to maxRetries times on a
// retryable (busy/locked) error. A fatal error (e.g. a constraint violation)
// discards the rows immediately rather than retrying or requeuing them,
// since retrying would only repeat the same failure against the additive
// UPSERT. Retries exhausted on a retryable error return the rows unwritten
// so the caller can requeue just this dimension.
func persistDimension[T any](f *Flusher, rows []T, write func([]T) error, label string) ([]T, int) {
	if len(rows) == 0 {
		return nil, 0
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := write(rows)
		if err == nil {
			return nil, 0
		}
		lastErr = err
		if !isRetryableStoreError(err) {
			f.log.Error("fatal store error, discarding dimension batch", "dimension", label, "error", err, "rows", len(rows))
			return nil, len(rows)
		}
		time.Sleep(backoffDelay(attempt))
	}
	f.log.Error("dimension write exhausted retries", "dimension", label, "error", lastErr, "rows", len(rows))
	return rows, 0
}

// isRetryableStoreError reports whether err looks like transient SQLite lock
// contention (busy/locked) rather than a constraint violation or other
// permanent failure.
func isRetryableStoreError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

func backoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 100 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
