// Package cache implements the Realtime Cache: the per-backend in-memory
// mirror of traffic deltas not yet flushed to the Store. It exists to (a)
// buffer writes for the Flusher to drain in batches and (b) answer the
// "live" increment that query-time overlay adds to Store results.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/clashwatch/engine/internal/core/domain"
)

// FlushBatch is an atomic snapshot of one backend's pending deltas, handed
// to the Flusher by Drain. Dimensions are plain slices in the fixed flush
// order the Flusher iterates (hourly, domain, ip, proxy, rule, device,
// country, then joins).
type FlushBatch struct {
	BackendID    string
	Hourly       []domain.HourlyStat
	Domains      []domain.DomainStat
	IPs          []domain.IPStat
	Proxies      []domain.ProxyStat
	Rules        []domain.RuleStat
	Devices      []domain.DeviceStat
	Countries    []domain.CountryStat
	DomainIPs    []domain.DomainIPStat
	ProxyDomains []domain.ProxyDomainStat
	ProxyIPs     []domain.ProxyIPStat
	RuleDomains  []domain.RuleDomainStat
}

func (b *FlushBatch) Empty() bool {
	return b == nil || (len(b.Hourly) == 0 && len(b.Domains) == 0 && len(b.IPs) == 0 &&
		len(b.Proxies) == 0 && len(b.Rules) == 0 && len(b.Devices) == 0 &&
		len(b.Countries) == 0 && len(b.DomainIPs) == 0 && len(b.ProxyDomains) == 0 &&
		len(b.ProxyIPs) == 0 && len(b.RuleDomains) == 0)
}

type backendCache struct {
	mu     sync.Mutex
	bucket *domain.RealtimeBucket
}

// RealtimeCache holds one backendCache per backend, each independently
// locked so operations on distinct backends never contend.
type RealtimeCache struct {
	mu       sync.RWMutex
	backends map[string]*backendCache
}

func New() *RealtimeCache {
	return &RealtimeCache{backends: make(map[string]*backendCache)}
}

func (c *RealtimeCache) backendFor(backendID string) *backendCache {
	c.mu.RLock()
	bc, ok := c.backends[backendID]
	c.mu.RUnlock()
	if ok {
		return bc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if bc, ok = c.backends[backendID]; ok {
		return bc
	}
	bc = &backendCache{bucket: domain.NewRealtimeBucket(backendID, domain.Today(time.Now()))}
	c.backends[backendID] = bc
	return bc
}

// ApplyConnectionDelta fans one connection Delta out across every dimension
// its identity touches, additively merging into the current bucket.
// Dimension rows key on the UTC hour floor (timeBucket); the bucket's own
// Day field is a separate, coarser "is this still today's bucket" rollover
// check used only by the Realtime Cache itself. chain is the canonical
// " > "-joined proxy chain derived by the caller.
func (c *RealtimeCache) ApplyConnectionDelta(backendID string, d domain.Delta, chain string, isNewConnection bool, now time.Time) {
	day := domain.Today(now)
	hour := domain.HourBucket(now)

	var connDelta int64
	if isNewConnection {
		connDelta = 1
	}

	bc := c.backendFor(backendID)
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.bucket.Day != day {
		bc.bucket = domain.NewRealtimeBucket(backendID, day)
	}

	applyDomain(bc.bucket, domain.DomainKey{BackendID: backendID, TimeBucket: hour, Host: d.Identity.Host}, d, connDelta)
	applyIP(bc.bucket, domain.IPKey{BackendID: backendID, TimeBucket: hour, SourceIP: d.Identity.SourceIP}, d, connDelta)
	applyProxy(bc.bucket, domain.ProxyKey{BackendID: backendID, TimeBucket: hour, ProxyChain: chain}, d, connDelta)
	applyRule(bc.bucket, domain.RuleKey{BackendID: backendID, TimeBucket: hour, Rule: d.Identity.Rule}, d, connDelta)
	applyDevice(bc.bucket, domain.DeviceKey{BackendID: backendID, TimeBucket: hour, Device: d.Identity.Device}, d, connDelta)
	applyCountry(bc.bucket, domain.CountryKey{BackendID: backendID, TimeBucket: hour, Country: d.Identity.Country}, d, connDelta)
	applyHourly(bc.bucket, domain.HourlyKey{BackendID: backendID, HourStart: hour}, d, connDelta)
	applyDomainIP(bc.bucket, domain.DomainIPKey{BackendID: backendID, TimeBucket: hour, Host: d.Identity.Host, SourceIP: d.Identity.SourceIP}, d, connDelta)
	applyProxyDomain(bc.bucket, domain.ProxyDomainKey{BackendID: backendID, TimeBucket: hour, ProxyChain: chain, Host: d.Identity.Host}, d, connDelta)
	applyProxyIP(bc.bucket, domain.ProxyIPKey{BackendID: backendID, TimeBucket: hour, ProxyChain: chain, SourceIP: d.Identity.SourceIP}, d, connDelta)
	applyRuleDomain(bc.bucket, domain.RuleDomainKey{BackendID: backendID, TimeBucket: hour, Rule: d.Identity.Rule, Host: d.Identity.Host}, d, connDelta)

	bc.bucket.RangeEnd = now
	bc.bucket.LastUpdatedAt = now
	if bc.bucket.RangeStart.IsZero() {
		bc.bucket.RangeStart = now
	}
}

func applyDomain(b *domain.RealtimeBucket, k domain.DomainKey, d domain.Delta, connDelta int64) {
	s, ok := b.Domains[k]
	if !ok {
		s = &domain.DomainStat{Key: k}
		b.Domains[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyIP(b *domain.RealtimeBucket, k domain.IPKey, d domain.Delta, connDelta int64) {
	s, ok := b.IPs[k]
	if !ok {
		s = &domain.IPStat{Key: k}
		b.IPs[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyProxy(b *domain.RealtimeBucket, k domain.ProxyKey, d domain.Delta, connDelta int64) {
	s, ok := b.Proxies[k]
	if !ok {
		s = &domain.ProxyStat{Key: k}
		b.Proxies[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyRule(b *domain.RealtimeBucket, k domain.RuleKey, d domain.Delta, connDelta int64) {
	s, ok := b.Rules[k]
	if !ok {
		s = &domain.RuleStat{Key: k}
		b.Rules[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyDevice(b *domain.RealtimeBucket, k domain.DeviceKey, d domain.Delta, connDelta int64) {
	s, ok := b.Devices[k]
	if !ok {
		s = &domain.DeviceStat{Key: k}
		b.Devices[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyCountry(b *domain.RealtimeBucket, k domain.CountryKey, d domain.Delta, connDelta int64) {
	s, ok := b.Countries[k]
	if !ok {
		s = &domain.CountryStat{Key: k}
		b.Countries[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyHourly(b *domain.RealtimeBucket, k domain.HourlyKey, d domain.Delta, connDelta int64) {
	s, ok := b.Hourly[k]
	if !ok {
		s = &domain.HourlyStat{Key: k}
		b.Hourly[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyDomainIP(b *domain.RealtimeBucket, k domain.DomainIPKey, d domain.Delta, connDelta int64) {
	s, ok := b.DomainIPs[k]
	if !ok {
		s = &domain.DomainIPStat{Key: k}
		b.DomainIPs[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyProxyDomain(b *domain.RealtimeBucket, k domain.ProxyDomainKey, d domain.Delta, connDelta int64) {
	s, ok := b.ProxyDomains[k]
	if !ok {
		s = &domain.ProxyDomainStat{Key: k}
		b.ProxyDomains[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyProxyIP(b *domain.RealtimeBucket, k domain.ProxyIPKey, d domain.Delta, connDelta int64) {
	s, ok := b.ProxyIPs[k]
	if !ok {
		s = &domain.ProxyIPStat{Key: k}
		b.ProxyIPs[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

func applyRuleDomain(b *domain.RealtimeBucket, k domain.RuleDomainKey, d domain.Delta, connDelta int64) {
	s, ok := b.RuleDomains[k]
	if !ok {
		s = &domain.RuleDomainStat{Key: k}
		b.RuleDomains[k] = s
	}
	s.UploadBytes += d.UploadDelta
	s.DownloadBytes += d.DownloadDelta
	s.ConnectionCount += connDelta
}

// ApplySummaryDelta returns (uploadTotal, downloadTotal) incremented by this
// backend's pending cache totals, for the summary endpoint's overlay.
func (c *RealtimeCache) ApplySummaryDelta(backendID string, dbUpload, dbDownload uint64) (uint64, uint64) {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	defer bc.mu.Unlock()

	var upload, download uint64
	for _, s := range bc.bucket.Domains {
		upload += s.UploadBytes
		download += s.DownloadBytes
	}
	return dbUpload + upload, dbDownload + download
}

// GetTodayDelta returns the sum of pending deltas since UTC midnight.
func (c *RealtimeCache) GetTodayDelta(backendID string, now time.Time) (uint64, uint64) {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.bucket.Day != domain.Today(now) {
		return 0, 0
	}
	var upload, download uint64
	for _, s := range bc.bucket.Domains {
		upload += s.UploadBytes
		download += s.DownloadBytes
	}
	return upload, download
}

// MergeTopDomains additively merges cached domain deltas onto a DB-sorted
// list, re-sorts by total bytes descending, and truncates to topN. Rows match
// on every key field except TimeBucket (Store list rows carry none), so each
// host's cached hourly rows fold into its Store row; merged rows carry an
// empty TimeBucket.
func (c *RealtimeCache) MergeTopDomains(backendID string, dbRows []domain.DomainStat, topN int) []domain.DomainStat {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	cached := make(map[domain.DomainKey]*domain.DomainStat, len(bc.bucket.Domains))
	for k, v := range bc.bucket.Domains {
		cp := *v
		cached[k] = &cp
	}
	bc.mu.Unlock()

	merged := make(map[domain.DomainKey]domain.DomainStat, len(dbRows))
	for _, row := range dbRows {
		row.Key.TimeBucket = ""
		merged[row.Key] = row
	}
	for k, v := range cached {
		k.TimeBucket = ""
		row := merged[k]
		row.Key = k
		row.UploadBytes += v.UploadBytes
		row.DownloadBytes += v.DownloadBytes
		row.ConnectionCount += v.ConnectionCount
		merged[k] = row
	}

	out := make([]domain.DomainStat, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadBytes+out[i].DownloadBytes > out[j].UploadBytes+out[j].DownloadBytes
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// MergeTopIPs mirrors MergeTopDomains for the IP dimension.
func (c *RealtimeCache) MergeTopIPs(backendID string, dbRows []domain.IPStat, topN int) []domain.IPStat {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	cached := make(map[domain.IPKey]*domain.IPStat, len(bc.bucket.IPs))
	for k, v := range bc.bucket.IPs {
		cp := *v
		cached[k] = &cp
	}
	bc.mu.Unlock()

	merged := make(map[domain.IPKey]domain.IPStat, len(dbRows))
	for _, row := range dbRows {
		row.Key.TimeBucket = ""
		merged[row.Key] = row
	}
	for k, v := range cached {
		k.TimeBucket = ""
		row := merged[k]
		row.Key = k
		row.UploadBytes += v.UploadBytes
		row.DownloadBytes += v.DownloadBytes
		row.ConnectionCount += v.ConnectionCount
		merged[k] = row
	}

	out := make([]domain.IPStat, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadBytes+out[i].DownloadBytes > out[j].UploadBytes+out[j].DownloadBytes
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// MergeProxyStats mirrors MergeTopDomains for the proxy-chain dimension.
func (c *RealtimeCache) MergeProxyStats(backendID string, dbRows []domain.ProxyStat) []domain.ProxyStat {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	cached := make(map[domain.ProxyKey]*domain.ProxyStat, len(bc.bucket.Proxies))
	for k, v := range bc.bucket.Proxies {
		cp := *v
		cached[k] = &cp
	}
	bc.mu.Unlock()

	merged := make(map[domain.ProxyKey]domain.ProxyStat, len(dbRows))
	for _, row := range dbRows {
		row.Key.TimeBucket = ""
		merged[row.Key] = row
	}
	for k, v := range cached {
		k.TimeBucket = ""
		row := merged[k]
		row.Key = k
		row.UploadBytes += v.UploadBytes
		row.DownloadBytes += v.DownloadBytes
		row.ConnectionCount += v.ConnectionCount
		merged[k] = row
	}

	out := make([]domain.ProxyStat, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadBytes+out[i].DownloadBytes > out[j].UploadBytes+out[j].DownloadBytes
	})
	return out
}

// MergeCountryStats mirrors MergeTopDomains for the country dimension.
func (c *RealtimeCache) MergeCountryStats(backendID string, dbRows []domain.CountryStat) []domain.CountryStat {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	cached := make(map[domain.CountryKey]*domain.CountryStat, len(bc.bucket.Countries))
	for k, v := range bc.bucket.Countries {
		cp := *v
		cached[k] = &cp
	}
	bc.mu.Unlock()

	merged := make(map[domain.CountryKey]domain.CountryStat, len(dbRows))
	for _, row := range dbRows {
		row.Key.TimeBucket = ""
		merged[row.Key] = row
	}
	for k, v := range cached {
		k.TimeBucket = ""
		row := merged[k]
		row.Key = k
		row.UploadBytes += v.UploadBytes
		row.DownloadBytes += v.DownloadBytes
		row.ConnectionCount += v.ConnectionCount
		merged[k] = row
	}

	out := make([]domain.CountryStat, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadBytes+out[i].DownloadBytes > out[j].UploadBytes+out[j].DownloadBytes
	})
	return out
}

// MergeTrend overlays the cached hourly series onto DB buckets whose
// HourStart falls within windowMinutes of now.
func (c *RealtimeCache) MergeTrend(backendID string, dbRows []domain.HourlyStat, now time.Time, windowMinutes int) []domain.HourlyStat {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	cached := make(map[domain.HourlyKey]*domain.HourlyStat, len(bc.bucket.Hourly))
	for k, v := range bc.bucket.Hourly {
		cp := *v
		cached[k] = &cp
	}
	bc.mu.Unlock()

	cutoff := now.Add(-time.Duration(windowMinutes) * time.Minute)

	merged := make(map[domain.HourlyKey]domain.HourlyStat, len(dbRows))
	for _, row := range dbRows {
		merged[row.Key] = row
	}
	for k, v := range cached {
		t, err := time.Parse(time.RFC3339, k.HourStart)
		if err == nil && t.Before(cutoff) {
			continue
		}
		row := merged[k]
		row.Key = k
		row.UploadBytes += v.UploadBytes
		row.DownloadBytes += v.DownloadBytes
		row.ConnectionCount += v.ConnectionCount
		merged[k] = row
	}

	out := make([]domain.HourlyStat, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.HourStart < out[j].Key.HourStart })
	return out
}

// Drain atomically snapshots and clears a backend's pending deltas, for the
// Flusher to persist. Returns nil if nothing is pending.
func (c *RealtimeCache) Drain(backendID string) *FlushBatch {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	defer bc.mu.Unlock()

	b := bc.bucket
	if len(b.Domains) == 0 && len(b.IPs) == 0 && len(b.Proxies) == 0 && len(b.Rules) == 0 &&
		len(b.Devices) == 0 && len(b.Countries) == 0 && len(b.Hourly) == 0 && len(b.DomainIPs) == 0 &&
		len(b.ProxyDomains) == 0 && len(b.ProxyIPs) == 0 && len(b.RuleDomains) == 0 {
		return nil
	}

	batch := &FlushBatch{BackendID: backendID}
	for _, v := range b.Hourly {
		batch.Hourly = append(batch.Hourly, *v)
	}
	for _, v := range b.Domains {
		batch.Domains = append(batch.Domains, *v)
	}
	for _, v := range b.IPs {
		batch.IPs = append(batch.IPs, *v)
	}
	for _, v := range b.Proxies {
		batch.Proxies = append(batch.Proxies, *v)
	}
	for _, v := range b.Rules {
		batch.Rules = append(batch.Rules, *v)
	}
	for _, v := range b.Devices {
		batch.Devices = append(batch.Devices, *v)
	}
	for _, v := range b.Countries {
		batch.Countries = append(batch.Countries, *v)
	}
	for _, v := range b.DomainIPs {
		batch.DomainIPs = append(batch.DomainIPs, *v)
	}
	for _, v := range b.ProxyDomains {
		batch.ProxyDomains = append(batch.ProxyDomains, *v)
	}
	for _, v := range b.ProxyIPs {
		batch.ProxyIPs = append(batch.ProxyIPs, *v)
	}
	for _, v := range b.RuleDomains {
		batch.RuleDomains = append(batch.RuleDomains, *v)
	}

	bc.bucket = domain.NewRealtimeBucket(backendID, b.Day)
	return batch
}

// Requeue re-applies a batch that failed to persist back into the cache, so
// the next flush tick re-attempts it. Batches may be partial — the Flusher
// only requeues the dimensions that actually failed to persist. It does not
// re-increment connection identity bookkeeping — only the raw dimension
// totals.
func (c *RealtimeCache) Requeue(batch *FlushBatch) {
	if batch.Empty() {
		return
	}
	bc := c.backendFor(batch.BackendID)
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for _, row := range batch.Hourly {
		s := bc.bucket.Hourly[row.Key]
		if s == nil {
			cp := row
			bc.bucket.Hourly[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.Domains {
		s := bc.bucket.Domains[row.Key]
		if s == nil {
			cp := row
			bc.bucket.Domains[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.IPs {
		s := bc.bucket.IPs[row.Key]
		if s == nil {
			cp := row
			bc.bucket.IPs[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.Proxies {
		s := bc.bucket.Proxies[row.Key]
		if s == nil {
			cp := row
			bc.bucket.Proxies[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.Rules {
		s := bc.bucket.Rules[row.Key]
		if s == nil {
			cp := row
			bc.bucket.Rules[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.Devices {
		s := bc.bucket.Devices[row.Key]
		if s == nil {
			cp := row
			bc.bucket.Devices[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.Countries {
		s := bc.bucket.Countries[row.Key]
		if s == nil {
			cp := row
			bc.bucket.Countries[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.DomainIPs {
		s := bc.bucket.DomainIPs[row.Key]
		if s == nil {
			cp := row
			bc.bucket.DomainIPs[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.ProxyDomains {
		s := bc.bucket.ProxyDomains[row.Key]
		if s == nil {
			cp := row
			bc.bucket.ProxyDomains[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.ProxyIPs {
		s := bc.bucket.ProxyIPs[row.Key]
		if s == nil {
			cp := row
			bc.bucket.ProxyIPs[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
	for _, row := range batch.RuleDomains {
		s := bc.bucket.RuleDomains[row.Key]
		if s == nil {
			cp := row
			bc.bucket.RuleDomains[row.Key] = &cp
			continue
		}
		s.UploadBytes += row.UploadBytes
		s.DownloadBytes += row.DownloadBytes
		s.ConnectionCount += row.ConnectionCount
	}
}

// ClearBackend wipes a backend's pending deltas without flushing, used when
// the operator clears all data for a backend.
func (c *RealtimeCache) ClearBackend(backendID string) {
	bc := c.backendFor(backendID)
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.bucket = domain.NewRealtimeBucket(backendID, domain.Today(time.Now()))
}

// WithinOverlayTolerance reports whether a query window's end is recent
// enough for the Realtime Cache to be overlaid on top of Store results.
func WithinOverlayTolerance(end time.Time, now time.Time, tolerance time.Duration) bool {
	return !end.Before(now.Add(-tolerance))
}
