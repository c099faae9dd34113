package domain

import "time"

// RealtimeBucket is the Realtime Cache's in-memory, per-backend view of the
// current day: a rolling overlay on top of whatever the Store already has
// persisted, merged at query time rather than written through immediately.
type RealtimeBucket struct {
	BackendID     string
	Day           string
	Domains       map[DomainKey]*DomainStat
	IPs           map[IPKey]*IPStat
	Proxies       map[ProxyKey]*ProxyStat
	Rules         map[RuleKey]*RuleStat
	Devices       map[DeviceKey]*DeviceStat
	Countries     map[CountryKey]*CountryStat
	Hourly        map[HourlyKey]*HourlyStat
	DomainIPs     map[DomainIPKey]*DomainIPStat
	ProxyDomains  map[ProxyDomainKey]*ProxyDomainStat
	ProxyIPs      map[ProxyIPKey]*ProxyIPStat
	RuleDomains   map[RuleDomainKey]*RuleDomainStat
	RangeStart    time.Time
	RangeEnd      time.Time
	LastUpdatedAt time.Time
}

// NewRealtimeBucket returns an empty bucket ready to accumulate deltas.
func NewRealtimeBucket(backendID, day string) *RealtimeBucket {
	return &RealtimeBucket{
		BackendID:    backendID,
		Day:          day,
		Domains:      make(map[DomainKey]*DomainStat),
		IPs:          make(map[IPKey]*IPStat),
		Proxies:      make(map[ProxyKey]*ProxyStat),
		Rules:        make(map[RuleKey]*RuleStat),
		Devices:      make(map[DeviceKey]*DeviceStat),
		Countries:    make(map[CountryKey]*CountryStat),
		Hourly:       make(map[HourlyKey]*HourlyStat),
		DomainIPs:    make(map[DomainIPKey]*DomainIPStat),
		ProxyDomains: make(map[ProxyDomainKey]*ProxyDomainStat),
		ProxyIPs:     make(map[ProxyIPKey]*ProxyIPStat),
		RuleDomains:  make(map[RuleDomainKey]*RuleDomainStat),
	}
}
