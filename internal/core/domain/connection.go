package domain

import "time"

// ConnectionSnapshot is one connection entry as reported by a Clash router's
// /connections WebSocket frame at a single point in time. Upload/Download are
// cumulative byte counters for the lifetime of the connection, not deltas.
type ConnectionSnapshot struct {
	ID          string
	Upload      uint64
	Download    uint64
	Start       time.Time
	Host        string
	DestIP      string
	SourceIP    string
	Network     string
	ProxyChain  []string
	Rule        string
	RulePayload string
	Device      string
	Country     string
}

// ConnectionIdentity is the frozen-at-first-sight identity of a tracked
// connection: the dimension values used to attribute deltas are fixed at
// first observation and never updated, even if a later snapshot's metadata
// would point the connection somewhere else.
type ConnectionIdentity struct {
	Host       string
	DestIP     string
	SourceIP   string
	ProxyChain []string
	Rule       string
	Device     string
	Country    string
}

// ConnectionState is the Delta Computer's per-connection baseline: the last
// cumulative counters seen for a connection ID, used to compute the next
// snapshot's delta.
type ConnectionState struct {
	Identity       ConnectionIdentity
	BaselineUpload uint64
	BaselineDown   uint64
	FirstSeen      time.Time
	LastSeen       time.Time
	Closed         bool
}

// ConnectionRecord is one row of the persisted connections table: the
// final state of a connection, written once it has closed.
type ConnectionRecord struct {
	BackendID    string
	ConnectionID string
	Host         string
	DestIP       string
	SourceIP     string
	ProxyChain   string
	Rule         string
	Device       string
	Country      string
	UploadBytes  uint64
	DownloadBytes uint64
	StartedAt    string
	ClosedAt     string
}

// Delta is the incremental traffic attributable to one connection between
// two consecutive snapshots (or since first sight, for a new connection).
type Delta struct {
	ConnectionID  string
	Identity      ConnectionIdentity
	UploadDelta   uint64
	DownloadDelta uint64
	ObservedAt    time.Time
	BackendID     string
	// IsNew marks a connection ID observed for the first time (or resurfaced
	// after being marked closed), so callers can attribute a +1 connection
	// count only once per logical connection rather than on every tick.
	IsNew bool
}
