// Package store implements the Store: the sole owner of persistent state,
// backed by an embedded pure-Go SQLite database. It exposes batched UPSERT
// writes per dimension and typed read queries with windowing, pagination,
// and retention cleanup.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clashwatch/engine/internal/adapter/geoip"
)

// Store owns the embedded relational database. Writers are serialized by
// the database itself; readers run concurrently.
type Store struct {
	db     *sql.DB
	geoip  geoip.Lookup
	dbPath string
}

// Open opens (creating if absent) the SQLite file at path in WAL mode with a
// busy timeout, and runs idempotent schema migrations.
func Open(path string, lookup geoip.Lookup) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}

	if lookup == nil {
		lookup = geoip.Noop{}
	}

	s := &Store{db: db, geoip: lookup, dbPath: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ResolveCountry resolves an IP address (the Collector Session passes each
// connection's destination IP) to a country code through the Store's GeoIP
// collaborator, for dimension rows that need a country at ingest
// time rather than at backfill time. Returns "" if lookup fails or ip is
// empty.
func (s *Store) ResolveCountry(ip string) string {
	if ip == "" {
		return ""
	}
	code, err := s.geoip.CountryCode(ip)
	if err != nil {
		return ""
	}
	return code
}

// Vacuum reclaims space freed by retention cleanup.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backends (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		token TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		listening INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS connections (
		backend_id TEXT NOT NULL,
		connection_id TEXT NOT NULL,
		host TEXT,
		dest_ip TEXT,
		source_ip TEXT,
		proxy_chain TEXT,
		rule TEXT,
		device TEXT,
		country TEXT,
		upload INTEGER NOT NULL DEFAULT 0,
		download INTEGER NOT NULL DEFAULT 0,
		started_at TEXT,
		closed_at TEXT,
		PRIMARY KEY (backend_id, connection_id)
	);
	CREATE INDEX IF NOT EXISTS idx_connections_closed_at ON connections(closed_at);

	CREATE TABLE IF NOT EXISTS domain_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, host TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, host)
	);
	CREATE TABLE IF NOT EXISTS ip_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, source_ip TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT, country TEXT,
		UNIQUE(backend_id, time_bucket, source_ip)
	);
	CREATE TABLE IF NOT EXISTS proxy_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, proxy_chain TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, proxy_chain)
	);
	CREATE TABLE IF NOT EXISTS rule_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, rule TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, rule)
	);
	CREATE TABLE IF NOT EXISTS device_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, device TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, device)
	);
	CREATE TABLE IF NOT EXISTS country_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, country TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, country)
	);
	CREATE TABLE IF NOT EXISTS hourly_stats (
		backend_id TEXT NOT NULL, hour_start TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0,
		UNIQUE(backend_id, hour_start)
	);
	CREATE INDEX IF NOT EXISTS idx_hourly_stats_bucket ON hourly_stats(backend_id, hour_start);
	CREATE TABLE IF NOT EXISTS domain_ip_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, host TEXT NOT NULL, source_ip TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, host, source_ip)
	);
	CREATE TABLE IF NOT EXISTS proxy_domain_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, proxy_chain TEXT NOT NULL, host TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, proxy_chain, host)
	);
	CREATE TABLE IF NOT EXISTS proxy_ip_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, proxy_chain TEXT NOT NULL, source_ip TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, proxy_chain, source_ip)
	);
	CREATE TABLE IF NOT EXISTS rule_domain_stats (
		backend_id TEXT NOT NULL, time_bucket TEXT NOT NULL, rule TEXT NOT NULL, host TEXT NOT NULL,
		upload INTEGER NOT NULL DEFAULT 0, download INTEGER NOT NULL DEFAULT 0,
		connections INTEGER NOT NULL DEFAULT 0, last_seen TEXT,
		UNIQUE(backend_id, time_bucket, rule, host)
	);

	CREATE TABLE IF NOT EXISTS retention_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		connection_logs_days INTEGER NOT NULL DEFAULT 7,
		hourly_stats_days INTEGER NOT NULL DEFAULT 30,
		auto_cleanup INTEGER NOT NULL DEFAULT 1
	);
	INSERT OR IGNORE INTO retention_config (id, connection_logs_days, hourly_stats_days, auto_cleanup)
	VALUES (1, 7, 30, 1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Pagination covers the list-query contract shared by every dimension's
// read endpoint: offset/limit, sort column and order, and a free-text
// search filter.
type Pagination struct {
	Offset    int
	Limit     int
	SortBy    string
	SortOrder string
	Search    string
}

const MaxPageLimit = 500

func (p Pagination) normalised(knownSortCols map[string]bool) Pagination {
	out := p
	if out.Limit <= 0 || out.Limit > MaxPageLimit {
		out.Limit = MaxPageLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	if out.SortOrder != "asc" && out.SortOrder != "desc" {
		out.SortOrder = "desc"
	}
	if !knownSortCols[out.SortBy] {
		out.SortBy = "download"
		out.SortOrder = "desc"
	}
	return out
}

// Window is an optional query range. Reads of the per-dimension tables match
// rows whose time_bucket lies between HourBucket(Start) and HourBucket(End),
// both ends inclusive, so two adjacent windows both count the hour holding
// their shared boundary. GetHourlyStats and GetDailyTrend match hour_start
// in [Start, End); ListConnections matches closed_at in [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
	Set   bool
}
