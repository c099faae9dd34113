package store

import (
	"testing"
	"time"

	"github.com/clashwatch/engine/internal/adapter/geoip"
	"github.com/clashwatch/engine/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:", geoip.Noop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestWriteDomains_UpsertsAccumulateAcrossBatches(t *testing.T) {
	st := newTestStore(t)
	hour := domain.HourBucket(time.Now().UTC())

	row := domain.DomainStat{
		Key:             domain.DomainKey{BackendID: "b1", TimeBucket: hour, Host: "example.com"},
		UploadBytes:     100,
		DownloadBytes:   200,
		ConnectionCount: 1,
	}
	if err := st.WriteDomains([]domain.DomainStat{row}); err != nil {
		t.Fatalf("WriteDomains: %v", err)
	}
	if err := st.WriteDomains([]domain.DomainStat{row}); err != nil {
		t.Fatalf("WriteDomains (second batch): %v", err)
	}

	rows, total, err := st.ListDomains(ptr("b1"), Window{}, Pagination{})
	if err != nil {
		t.Fatalf("ListDomains: %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if len(rows) != 1 || rows[0].UploadBytes != 200 || rows[0].DownloadBytes != 400 {
		t.Fatalf("rows = %+v, want upload=200 download=400", rows)
	}
	if rows[0].ConnectionCount != 2 {
		t.Errorf("connection count = %d, want 2", rows[0].ConnectionCount)
	}
}

func TestListDomains_SearchFiltersByHost(t *testing.T) {
	st := newTestStore(t)
	hour := domain.HourBucket(time.Now().UTC())

	rows := []domain.DomainStat{
		{Key: domain.DomainKey{BackendID: "b1", TimeBucket: hour, Host: "example.com"}, UploadBytes: 10, DownloadBytes: 20, ConnectionCount: 1},
		{Key: domain.DomainKey{BackendID: "b1", TimeBucket: hour, Host: "other.net"}, UploadBytes: 30, DownloadBytes: 40, ConnectionCount: 1},
	}
	if err := st.WriteDomains(rows); err != nil {
		t.Fatalf("WriteDomains: %v", err)
	}

	got, total, err := st.ListDomains(ptr("b1"), Window{}, Pagination{Search: "example"})
	if err != nil {
		t.Fatalf("ListDomains: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].Key.Host != "example.com" {
		t.Fatalf("search results = %+v (total=%d), want only example.com", got, total)
	}
}

func TestWriteIPs_NoopLookupLeavesCountryEmpty(t *testing.T) {
	st := newTestStore(t)
	hour := domain.HourBucket(time.Now().UTC())

	row := domain.IPStat{
		Key:             domain.IPKey{BackendID: "b1", TimeBucket: hour, SourceIP: "10.0.0.5"},
		UploadBytes:     5,
		DownloadBytes:   6,
		ConnectionCount: 1,
	}
	if err := st.WriteIPs([]domain.IPStat{row}); err != nil {
		t.Fatalf("WriteIPs: %v", err)
	}

	rows, _, err := st.ListIPs(ptr("b1"), Window{}, Pagination{})
	if err != nil {
		t.Fatalf("ListIPs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 ip row, got %d", len(rows))
	}
	// geoip.Noop always returns "", so country stays empty rather than erroring.
	if rows[0].Country != "" {
		t.Errorf("country = %q, want empty with a no-op lookup", rows[0].Country)
	}
}

func TestCleanupOldData_ZeroDaysWipesBackendScope(t *testing.T) {
	st := newTestStore(t)
	hour := domain.HourBucket(time.Now().UTC())

	if err := st.WriteDomains([]domain.DomainStat{
		{Key: domain.DomainKey{BackendID: "b1", TimeBucket: hour, Host: "example.com"}, UploadBytes: 1, ConnectionCount: 1},
	}); err != nil {
		t.Fatalf("WriteDomains: %v", err)
	}

	removed, err := st.CleanupOldData(ptr("b1"), 0)
	if err != nil {
		t.Fatalf("CleanupOldData: %v", err)
	}
	if removed["domain_stats"] != 1 {
		t.Errorf("removed[domain_stats] = %d, want 1", removed["domain_stats"])
	}

	_, total, err := st.ListDomains(ptr("b1"), Window{}, Pagination{})
	if err != nil {
		t.Fatalf("ListDomains after cleanup: %v", err)
	}
	if total != 0 {
		t.Errorf("total after cleanup = %d, want 0", total)
	}
}

func TestSetRetentionConfig_RejectsOutOfBoundsValues(t *testing.T) {
	st := newTestStore(t)

	if err := st.SetRetentionConfig(RetentionSettings{ConnectionLogsDays: 0, HourlyStatsDays: 30, AutoCleanup: true}); err != domain.ErrInvalidRetention {
		t.Errorf("connection logs days=0: err = %v, want ErrInvalidRetention", err)
	}
	if err := st.SetRetentionConfig(RetentionSettings{ConnectionLogsDays: 7, HourlyStatsDays: 1, AutoCleanup: true}); err != domain.ErrInvalidRetention {
		t.Errorf("hourly stats days=1: err = %v, want ErrInvalidRetention", err)
	}

	if err := st.SetRetentionConfig(RetentionSettings{ConnectionLogsDays: 14, HourlyStatsDays: 60, AutoCleanup: false}); err != nil {
		t.Fatalf("valid SetRetentionConfig: %v", err)
	}
	rs, err := st.GetRetentionConfig()
	if err != nil {
		t.Fatalf("GetRetentionConfig: %v", err)
	}
	if rs.ConnectionLogsDays != 14 || rs.HourlyStatsDays != 60 || rs.AutoCleanup {
		t.Errorf("retention config = %+v, want {14 60 false}", rs)
	}
}

func TestGetSummary_AggregatesAcrossDimensions(t *testing.T) {
	st := newTestStore(t)
	hour := domain.HourBucket(time.Now().UTC())

	if err := st.WriteDomains([]domain.DomainStat{
		{Key: domain.DomainKey{BackendID: "b1", TimeBucket: hour, Host: "example.com"}, UploadBytes: 10, DownloadBytes: 20, ConnectionCount: 1},
	}); err != nil {
		t.Fatalf("WriteDomains: %v", err)
	}

	sum, err := st.GetSummary("b1", Window{})
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if sum.UploadBytes != 10 || sum.DownloadBytes != 20 {
		t.Errorf("summary totals = %+v, want upload=10 download=20", sum)
	}
	if len(sum.TopDomains) != 1 {
		t.Errorf("top domains = %+v, want 1 row", sum.TopDomains)
	}
}

func TestUpsertConnectionClose_PersistsFinalByteCounts(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	started := now.Add(-time.Minute).Format(time.RFC3339)
	closed := now.Format(time.RFC3339)

	if err := st.UpsertConnectionClose("backend-1", "c1", "example.com", "93.184.216.34", "10.0.0.5",
		"DIRECT", "Match", "10.0.0.5", "", 150, 1500, started, closed); err != nil {
		t.Fatalf("UpsertConnectionClose: %v", err)
	}

	var upload, download uint64
	var closedAt string
	row := st.db.QueryRow(`SELECT upload, download, closed_at FROM connections WHERE backend_id = ? AND connection_id = ?`, "backend-1", "c1")
	if err := row.Scan(&upload, &download, &closedAt); err != nil {
		t.Fatalf("scan connection row: %v", err)
	}
	if upload != 150 || download != 1500 {
		t.Errorf("persisted bytes = upload=%d download=%d, want upload=150 download=1500", upload, download)
	}
	if closedAt != closed {
		t.Errorf("closed_at = %q, want %q", closedAt, closed)
	}
}

func ptr(s string) *string { return &s }
