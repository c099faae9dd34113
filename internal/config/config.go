package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultAPIPort         = 3001
	DefaultCollectorWSPort = 3002
	DefaultDBPath          = "./stats.db"

	DefaultRealtimeToleranceMS = 120_000
	MinRealtimeToleranceMS     = 10_000

	DefaultFlushIntervalMS = 5_000

	DefaultConnectionLogsDays = 7
	DefaultHourlyStatsDays    = 30

	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with the spec's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIPort:         DefaultAPIPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Collector: CollectorConfig{
			WSPort:           DefaultCollectorWSPort,
			HandshakeTimeout: 5 * time.Second,
			BaseBackoff:      1 * time.Second,
			MaxBackoff:       30 * time.Second,
			JitterPercent:    0.2,
			HealthyWindow:    60 * time.Second,
			StaleConnection:  30 * time.Minute,
		},
		Store: StoreConfig{
			DBPath: DefaultDBPath,
		},
		Realtime: RealtimeConfig{
			RangeEndToleranceMS: DefaultRealtimeToleranceMS,
		},
		Flusher: FlusherConfig{
			FlushIntervalMS: DefaultFlushIntervalMS,
		},
		Retention: RetentionConfig{
			ConnectionLogsDays: DefaultConnectionLogsDays,
			HourlyStatsDays:    DefaultHourlyStatsDays,
			AutoCleanup:        true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			FileOutput: false,
			PrettyLogs: true,
		},
	}
}

// Load loads configuration from an optional config file and the spec's
// explicit environment variables, applying defaults and bounds validation.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("clashwatch")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("server.api_port", cfg.Server.APIPort)
	viper.SetDefault("collector.collector_ws_port", cfg.Collector.WSPort)
	viper.SetDefault("store.db_path", cfg.Store.DBPath)
	viper.SetDefault("realtime.realtime_range_end_tolerance_ms", cfg.Realtime.RangeEndToleranceMS)
	viper.SetDefault("flusher.flush_interval_ms", cfg.Flusher.FlushIntervalMS)

	// the spec's five environment variables are flat and unprefixed, unlike
	// the nested OLLA_ style this is adapted from, so each is bound to its
	// config key explicitly rather than relying on SetEnvKeyReplacer alone.
	bindings := map[string]string{
		"API_PORT":                         "server.api_port",
		"COLLECTOR_WS_PORT":                "collector.collector_ws_port",
		"DB_PATH":                          "store.db_path",
		"REALTIME_RANGE_END_TOLERANCE_MS":  "realtime.realtime_range_end_tolerance_ms",
		"FLUSH_INTERVAL_MS":                "flusher.flush_interval_ms",
	}
	for env, key := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.applyBounds()

	viper.WatchConfig()
	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// applyBounds clamps the subset of config that the spec constrains to a
// documented range, rather than rejecting startup over a too-aggressive
// operator setting.
func (c *Config) applyBounds() {
	if c.Realtime.RangeEndToleranceMS < MinRealtimeToleranceMS {
		c.Realtime.RangeEndToleranceMS = MinRealtimeToleranceMS
	}
	if c.Flusher.FlushIntervalMS <= 0 {
		c.Flusher.FlushIntervalMS = DefaultFlushIntervalMS
	}
	if c.Retention.ConnectionLogsDays < 1 {
		c.Retention.ConnectionLogsDays = 1
	} else if c.Retention.ConnectionLogsDays > 90 {
		c.Retention.ConnectionLogsDays = 90
	}
	if c.Retention.HourlyStatsDays < 7 {
		c.Retention.HourlyStatsDays = 7
	} else if c.Retention.HourlyStatsDays > 365 {
		c.Retention.HourlyStatsDays = 365
	}
}
