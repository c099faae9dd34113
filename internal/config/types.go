package config

import "time"

// Config holds all runtime configuration for clashwatch.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Collector CollectorConfig `yaml:"collector"`
	Store     StoreConfig     `yaml:"store"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Flusher   FlusherConfig   `yaml:"flusher"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP query API server configuration.
type ServerConfig struct {
	APIPort         int           `yaml:"api_port" mapstructure:"api_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CollectorConfig holds Collector Session connection tuning.
type CollectorConfig struct {
	WSPort           int           `yaml:"collector_ws_port" mapstructure:"collector_ws_port"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	BaseBackoff      time.Duration `yaml:"base_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	JitterPercent    float64       `yaml:"jitter_percent"`
	HealthyWindow    time.Duration `yaml:"healthy_window"`
	StaleConnection  time.Duration `yaml:"stale_connection"`
}

// StoreConfig holds the embedded relational store configuration.
type StoreConfig struct {
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// RealtimeConfig holds the Realtime Cache's overlay policy.
type RealtimeConfig struct {
	RangeEndToleranceMS int64 `yaml:"realtime_range_end_tolerance_ms" mapstructure:"realtime_range_end_tolerance_ms"`
}

// Tolerance returns the configured overlay tolerance as a time.Duration.
func (r RealtimeConfig) Tolerance() time.Duration {
	return time.Duration(r.RangeEndToleranceMS) * time.Millisecond
}

// FlusherConfig holds the Flusher's drain interval.
type FlusherConfig struct {
	FlushIntervalMS int64 `yaml:"flush_interval_ms" mapstructure:"flush_interval_ms"`
}

// Interval returns the configured flush interval as a time.Duration.
func (f FlusherConfig) Interval() time.Duration {
	return time.Duration(f.FlushIntervalMS) * time.Millisecond
}

// RetentionConfig holds retention settings read from configuration and
// clamped by applyBounds. The Store does not read it: it seeds its own
// retention row (7 and 30 days, auto-cleanup on) and serves that instead.
type RetentionConfig struct {
	ConnectionLogsDays int  `yaml:"connection_logs_days"`
	HourlyStatsDays    int  `yaml:"hourly_stats_days"`
	AutoCleanup        bool `yaml:"auto_cleanup"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}
