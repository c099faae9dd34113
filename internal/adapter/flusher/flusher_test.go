package flusher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/core/domain"
	"github.com/clashwatch/engine/internal/logger"
	"github.com/clashwatch/engine/internal/theme"
)

type fakeWriter struct {
	mu        sync.Mutex
	domains   []domain.DomainStat
	failUntil int
	calls     int
}

func (w *fakeWriter) WriteHourly([]domain.HourlyStat) error { return nil }
func (w *fakeWriter) WriteDomains(rows []domain.DomainStat) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.failUntil {
		return errors.New("database is locked")
	}
	w.domains = append(w.domains, rows...)
	return nil
}
func (w *fakeWriter) WriteIPs([]domain.IPStat) error             { return nil }
func (w *fakeWriter) WriteProxies([]domain.ProxyStat) error      { return nil }
func (w *fakeWriter) WriteRules([]domain.RuleStat) error         { return nil }
func (w *fakeWriter) WriteDevices([]domain.DeviceStat) error     { return nil }
func (w *fakeWriter) WriteCountries([]domain.CountryStat) error  { return nil }
func (w *fakeWriter) WriteDomainIPs([]domain.DomainIPStat) error     { return nil }
func (w *fakeWriter) WriteProxyDomains([]domain.ProxyDomainStat) error { return nil }
func (w *fakeWriter) WriteProxyIPs([]domain.ProxyIPStat) error         { return nil }
func (w *fakeWriter) WriteRuleDomains([]domain.RuleDomainStat) error   { return nil }

func testLogger(t *testing.T) *logger.StyledLogger {
	t.Helper()
	l, cleanup, err := logger.New(&logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(cleanup)
	return logger.NewStyledLogger(l, theme.Default())
}

func TestFlushBackend_PersistsDrainedBatch(t *testing.T) {
	c := cache.New()
	now := time.Now().UTC()
	c.ApplyConnectionDelta("backend-1", domain.Delta{
		Identity:      domain.ConnectionIdentity{Host: "example.com"},
		UploadDelta:   10,
		DownloadDelta: 20,
	}, "DIRECT", true, now)

	w := &fakeWriter{}
	f := New(c, w, testLogger(t), time.Hour, func() []string { return []string{"backend-1"} })

	f.flushBackend("backend-1")

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.domains) != 1 {
		t.Fatalf("expected 1 persisted domain row, got %d", len(w.domains))
	}
}

func TestFlushBackend_RequeuesOnPersistentFailure(t *testing.T) {
	c := cache.New()
	now := time.Now().UTC()
	c.ApplyConnectionDelta("backend-1", domain.Delta{
		Identity:    domain.ConnectionIdentity{Host: "example.com"},
		UploadDelta: 5,
	}, "DIRECT", true, now)

	w := &fakeWriter{failUntil: maxRetries}
	f := New(c, w, testLogger(t), time.Hour, func() []string { return []string{"backend-1"} })

	f.flushBackend("backend-1")

	upload, _ := c.GetTodayDelta("backend-1", now)
	if upload != 5 {
		t.Errorf("expected requeued delta still pending in cache, got upload=%d", upload)
	}
}

func TestFlushBackend_RecoversAfterTransientFailure(t *testing.T) {
	c := cache.New()
	now := time.Now().UTC()
	c.ApplyConnectionDelta("backend-1", domain.Delta{
		Identity:    domain.ConnectionIdentity{Host: "example.com"},
		UploadDelta: 7,
	}, "DIRECT", true, now)

	w := &fakeWriter{failUntil: 2}
	f := New(c, w, testLogger(t), time.Hour, func() []string { return []string{"backend-1"} })

	f.flushBackend("backend-1")

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.domains) != 1 {
		t.Fatalf("expected eventual persist after transient failures, got %d rows", len(w.domains))
	}
}

func TestStart_StopPerformsFinalFlush(t *testing.T) {
	c := cache.New()
	now := time.Now().UTC()
	c.ApplyConnectionDelta("backend-1", domain.Delta{
		Identity:    domain.ConnectionIdentity{Host: "example.com"},
		UploadDelta: 1,
	}, "DIRECT", true, now)

	w := &fakeWriter{}
	f := New(c, w, testLogger(t), time.Hour, func() []string { return []string{"backend-1"} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	f.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.domains) != 1 {
		t.Fatalf("expected final flush on Stop to persist pending deltas, got %d", len(w.domains))
	}
}
