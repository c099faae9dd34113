package cache

import (
	"testing"
	"time"

	"github.com/clashwatch/engine/internal/core/domain"
)

func TestApplyConnectionDelta_AccumulatesAcrossDimensions(t *testing.T) {
	c := New()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	d := domain.Delta{
		ConnectionID: "c1",
		Identity: domain.ConnectionIdentity{
			Host:     "example.com",
			SourceIP: "10.0.0.1",
			Rule:     "DIRECT",
			Device:   "laptop",
			Country:  "GB",
		},
		UploadDelta:   100,
		DownloadDelta: 1000,
	}

	c.ApplyConnectionDelta("backend-1", d, "PROXY > DIRECT", true, now)

	domains := c.MergeTopDomains("backend-1", nil, 10)
	if len(domains) != 1 || domains[0].UploadBytes != 100 || domains[0].DownloadBytes != 1000 {
		t.Fatalf("domain stat = %+v, want upload=100 download=1000", domains)
	}
	if domains[0].ConnectionCount != 1 {
		t.Errorf("connection count = %d, want 1", domains[0].ConnectionCount)
	}

	upload, download := c.GetTodayDelta("backend-1", now)
	if upload != 100 || download != 1000 {
		t.Errorf("today delta = (%d,%d), want (100,1000)", upload, download)
	}
}

func TestMergeTopDomains_AdditivelyMergesOntoStoreRows(t *testing.T) {
	c := New()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	key := domain.DomainKey{BackendID: "backend-1", TimeBucket: domain.HourBucket(now), Host: "example.com"}

	c.ApplyConnectionDelta("backend-1", domain.Delta{
		Identity:      domain.ConnectionIdentity{Host: "example.com"},
		UploadDelta:   50,
		DownloadDelta: 500,
	}, "DIRECT", false, now)

	dbRows := []domain.DomainStat{{Key: key, UploadBytes: 200, DownloadBytes: 2000, ConnectionCount: 3}}
	merged := c.MergeTopDomains("backend-1", dbRows, 10)

	if len(merged) != 1 {
		t.Fatalf("expected 1 merged row, got %d", len(merged))
	}
	if merged[0].UploadBytes != 250 || merged[0].DownloadBytes != 2500 {
		t.Errorf("merged = %+v, want upload=250 download=2500 (200+50, 2000+500)", merged[0])
	}
}

func TestDrain_AtomicallyClearsPendingDeltas(t *testing.T) {
	c := New()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	c.ApplyConnectionDelta("backend-1", domain.Delta{
		Identity:      domain.ConnectionIdentity{Host: "example.com"},
		UploadDelta:   10,
		DownloadDelta: 20,
	}, "DIRECT", true, now)

	batch := c.Drain("backend-1")
	if batch == nil || batch.Empty() {
		t.Fatal("expected non-empty batch on first drain")
	}

	second := c.Drain("backend-1")
	if second != nil {
		t.Fatalf("expected nil on second drain (cache cleared), got %+v", second)
	}

	upload, _ := c.GetTodayDelta("backend-1", now)
	if upload != 0 {
		t.Errorf("expected cache cleared after drain, got upload=%d", upload)
	}
}

func TestRequeue_RestoresFailedBatch(t *testing.T) {
	c := New()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	c.ApplyConnectionDelta("backend-1", domain.Delta{
		Identity:      domain.ConnectionIdentity{Host: "example.com"},
		UploadDelta:   10,
		DownloadDelta: 20,
	}, "DIRECT", true, now)

	batch := c.Drain("backend-1")
	c.Requeue(batch)

	upload, download := c.GetTodayDelta("backend-1", now)
	if upload != 10 || download != 20 {
		t.Errorf("after requeue, today delta = (%d,%d), want (10,20)", upload, download)
	}
}

func TestClearBackend_WipesWithoutFlush(t *testing.T) {
	c := New()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	c.ApplyConnectionDelta("backend-1", domain.Delta{
		Identity:    domain.ConnectionIdentity{Host: "example.com"},
		UploadDelta: 10,
	}, "DIRECT", true, now)

	c.ClearBackend("backend-1")

	upload, _ := c.GetTodayDelta("backend-1", now)
	if upload != 0 {
		t.Errorf("expected 0 after ClearBackend, got %d", upload)
	}
}

func TestWithinOverlayTolerance(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	tolerance := 120 * time.Second

	if !WithinOverlayTolerance(now, now, tolerance) {
		t.Error("expected window ending now to be within tolerance")
	}
	if !WithinOverlayTolerance(now.Add(-90*time.Second), now, tolerance) {
		t.Error("expected window ending 90s ago to be within a 120s tolerance")
	}
	if WithinOverlayTolerance(now.Add(-10*time.Minute), now, tolerance) {
		t.Error("expected a strictly historical window to be outside tolerance")
	}
}
