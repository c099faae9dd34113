package delta

import (
	"testing"
	"time"

	"github.com/clashwatch/engine/internal/core/domain"
)

func snap(id string, upload, download uint64) domain.ConnectionSnapshot {
	return domain.ConnectionSnapshot{
		ID:       id,
		Upload:   upload,
		Download: download,
		Host:     "example.com",
		SourceIP: "192.168.1.10",
	}
}

func TestCompute_NewConnectionEmitsFullCounters(t *testing.T) {
	c := NewComputer()
	now := time.Unix(1700000000, 0).UTC()

	deltas, closed := c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 1000, 2000)}, now)

	if len(closed) != 0 {
		t.Fatalf("expected no closed connections, got %v", closed)
	}
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}
	if deltas[0].UploadDelta != 1000 || deltas[0].DownloadDelta != 2000 {
		t.Errorf("first-sight delta = %+v, want full cumulative counters", deltas[0])
	}
}

func TestCompute_SecondTickEmitsIncrementalDelta(t *testing.T) {
	c := NewComputer()
	t0 := time.Unix(1700000000, 0).UTC()
	t1 := t0.Add(5 * time.Second)

	c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 1000, 2000)}, t0)
	deltas, _ := c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 1500, 2400)}, t1)

	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}
	if deltas[0].UploadDelta != 500 || deltas[0].DownloadDelta != 400 {
		t.Errorf("incremental delta = %+v, want upload=500 download=400", deltas[0])
	}
}

func TestCompute_CounterResetEmitsZeroAndRebasesBaseline(t *testing.T) {
	c := NewComputer()
	t0 := time.Unix(1700000000, 0).UTC()
	t1 := t0.Add(5 * time.Second)
	t2 := t1.Add(5 * time.Second)

	c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 5000, 6000)}, t0)
	deltas, _ := c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 100, 200)}, t1)

	if deltas[0].UploadDelta != 0 || deltas[0].DownloadDelta != 0 {
		t.Errorf("reset tick delta = %+v, want zero", deltas[0])
	}

	deltas, _ = c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 300, 500)}, t2)
	if deltas[0].UploadDelta != 200 || deltas[0].DownloadDelta != 300 {
		t.Errorf("post-reset delta = %+v, want upload=200 download=300 (rebased off 100/200)", deltas[0])
	}
}

func TestCompute_AbsentConnectionReportedClosed(t *testing.T) {
	c := NewComputer()
	t0 := time.Unix(1700000000, 0).UTC()
	t1 := t0.Add(5 * time.Second)

	c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 1000, 2000)}, t0)
	_, closed := c.Compute("backend-1", []domain.ConnectionSnapshot{}, t1)

	if len(closed) != 1 || closed[0] != "conn-1" {
		t.Fatalf("expected conn-1 to be reported closed, got %v", closed)
	}

	// closed connections aren't re-reported on every subsequent tick.
	_, closed = c.Compute("backend-1", []domain.ConnectionSnapshot{}, t1.Add(5*time.Second))
	if len(closed) != 0 {
		t.Errorf("expected no repeated closed notification, got %v", closed)
	}
}

func TestCompute_IdentityFrozenAtFirstSight(t *testing.T) {
	c := NewComputer()
	t0 := time.Unix(1700000000, 0).UTC()
	t1 := t0.Add(5 * time.Second)

	first := snap("conn-1", 1000, 2000)
	first.Host = "first.example.com"
	c.Compute("backend-1", []domain.ConnectionSnapshot{first}, t0)

	changed := snap("conn-1", 1500, 2400)
	changed.Host = "changed.example.com"
	deltas, _ := c.Compute("backend-1", []domain.ConnectionSnapshot{changed}, t1)

	if deltas[0].Identity.Host != "first.example.com" {
		t.Errorf("identity.Host = %q, want frozen value %q", deltas[0].Identity.Host, "first.example.com")
	}
}

func TestSweep_EvictsStaleClosedConnections(t *testing.T) {
	c := NewComputer()
	t0 := time.Unix(1700000000, 0).UTC()
	t1 := t0.Add(time.Second)

	c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 1000, 2000)}, t0)
	c.Compute("backend-1", []domain.ConnectionSnapshot{}, t1)

	if c.ActiveCount() != 1 {
		t.Fatalf("expected closed connection to remain tracked until swept, got %d", c.ActiveCount())
	}

	removed := c.Sweep(t1.Add(10*time.Minute), 5*time.Minute)
	if len(removed) != 1 || removed[0] != "conn-1" {
		t.Fatalf("expected conn-1 to be swept, got %v", removed)
	}
	if c.ActiveCount() != 0 {
		t.Errorf("expected 0 tracked connections after sweep, got %d", c.ActiveCount())
	}
}

func TestReset_DiscardsAllState(t *testing.T) {
	c := NewComputer()
	now := time.Unix(1700000000, 0).UTC()
	c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 1000, 2000)}, now)

	c.Reset()

	if c.ActiveCount() != 0 {
		t.Fatalf("expected 0 tracked connections after reset, got %d", c.ActiveCount())
	}

	deltas, _ := c.Compute("backend-1", []domain.ConnectionSnapshot{snap("conn-1", 1000, 2000)}, now)
	if deltas[0].UploadDelta != 1000 {
		t.Errorf("expected post-reset connection to be treated as new, got delta %+v", deltas[0])
	}
}
