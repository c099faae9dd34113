package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.APIPort != DefaultAPIPort {
		t.Errorf("Expected API port %d, got %d", DefaultAPIPort, cfg.Server.APIPort)
	}
	if cfg.Collector.WSPort != DefaultCollectorWSPort {
		t.Errorf("Expected collector WS port %d, got %d", DefaultCollectorWSPort, cfg.Collector.WSPort)
	}
	if cfg.Store.DBPath != DefaultDBPath {
		t.Errorf("Expected db path %s, got %s", DefaultDBPath, cfg.Store.DBPath)
	}
	if cfg.Realtime.RangeEndToleranceMS != DefaultRealtimeToleranceMS {
		t.Errorf("Expected realtime tolerance %d, got %d", DefaultRealtimeToleranceMS, cfg.Realtime.RangeEndToleranceMS)
	}
	if cfg.Flusher.FlushIntervalMS != DefaultFlushIntervalMS {
		t.Errorf("Expected flush interval %d, got %d", DefaultFlushIntervalMS, cfg.Flusher.FlushIntervalMS)
	}
}

func TestApplyBounds_ClampsRealtimeTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Realtime.RangeEndToleranceMS = 1000

	cfg.applyBounds()

	if cfg.Realtime.RangeEndToleranceMS != MinRealtimeToleranceMS {
		t.Errorf("expected tolerance clamped to %d, got %d", MinRealtimeToleranceMS, cfg.Realtime.RangeEndToleranceMS)
	}
}

func TestApplyBounds_ClampsRetentionDays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention.ConnectionLogsDays = 0
	cfg.Retention.HourlyStatsDays = 1000

	cfg.applyBounds()

	if cfg.Retention.ConnectionLogsDays != 1 {
		t.Errorf("expected connection logs days clamped to 1, got %d", cfg.Retention.ConnectionLogsDays)
	}
	if cfg.Retention.HourlyStatsDays != 365 {
		t.Errorf("expected hourly stats days clamped to 365, got %d", cfg.Retention.HourlyStatsDays)
	}
}

func TestApplyBounds_ZeroFlushIntervalFallsBackToDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flusher.FlushIntervalMS = 0

	cfg.applyBounds()

	if cfg.Flusher.FlushIntervalMS != DefaultFlushIntervalMS {
		t.Errorf("expected flush interval default %d, got %d", DefaultFlushIntervalMS, cfg.Flusher.FlushIntervalMS)
	}
}
