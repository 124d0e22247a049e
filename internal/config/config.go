package config

import (
	"time"

	"signalforge/internal/core"
)

// Config represents the complete application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Exchanges  []ExchangeConfig `yaml:"exchanges"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Cache      CacheConfig      `yaml:"cache"`
	PriceData  PriceDataConfig  `yaml:"price_data"`
	FactCheck  FactCheckConfig  `yaml:"fact_check"`
	Miner      MinerConfig      `yaml:"miner"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Schedules  SchedulesConfig  `yaml:"schedules"`
}

// ============================================================================
// CORE CONFIGURATION
// ============================================================================

// DatabaseConfig represents the MySQL connection configuration
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	AutoMigrate     bool   `yaml:"auto_migrate"`
}

// RedisConfig represents Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ExchangeConfig represents venue-specific configuration
type ExchangeConfig struct {
	Name              string `yaml:"name"`
	Enabled           bool   `yaml:"enabled"`
	BaseURL           string `yaml:"base_url"`
	Timeout           string `yaml:"timeout"`             // default 10s
	RequestsPerMinute int    `yaml:"requests_per_minute"` // sliding 60s budget
}

// AggregatorConfig represents the fallback fetcher configuration
type AggregatorConfig struct {
	Priority              []string `yaml:"priority"`
	RaceSize              int      `yaml:"race_size"`    // venues launched by FetchRace
	RaceTimeout           string   `yaml:"race_timeout"` // overall race deadline
	AvailabilityTTL       string   `yaml:"availability_ttl"`
	AvailabilitySnapshot  string   `yaml:"availability_snapshot"` // JSON file path
	SnapshotInterval      string   `yaml:"snapshot_interval"`
	RateWindowPruneEvery  string   `yaml:"rate_window_prune_every"`
	InflightWatchdogEvery string   `yaml:"inflight_watchdog_every"`
	InflightMaxAge        string   `yaml:"inflight_max_age"`
}

// CacheConfig represents the candle cache configuration
type CacheConfig struct {
	TTL              string `yaml:"ttl"`             // default 10m
	MaxFetchLimit    int    `yaml:"max_fetch_limit"` // default 1000
	EvictEvery       string `yaml:"evict_every"`
	DeriveTimeframes bool   `yaml:"derive_timeframes"` // optional path, off by default
}

// PriceDataConfig represents the journey facade configuration
type PriceDataConfig struct {
	BufferCandles   int    `yaml:"buffer_candles"`    // default 5
	MaxAgeDays      int    `yaml:"max_age_days"`      // default 365
	WarnAgeDays     int    `yaml:"warn_age_days"`     // default 90
	BatchChunkSize  int    `yaml:"batch_chunk_size"`  // default 10
	BatchChunkDelay string `yaml:"batch_chunk_delay"` // default 1s
}

// FactCheckConfig represents evaluator/orchestrator configuration
type FactCheckConfig struct {
	MaxWorkers          int     `yaml:"max_workers"`           // default 10
	StopLossPct         float64 `yaml:"stop_loss_pct"`         // default 5.0
	MinProfitPct        float64 `yaml:"min_profit_pct"`        // default 0.1
	UseFiltering        bool    `yaml:"use_filtering"`
	MinSamples          int     `yaml:"min_samples"`           // default 20
	RandomSampleRate    float64 `yaml:"random_sample_rate"`    // default 0.30
	DisableRandomSample bool    `yaml:"disable_random_sample"` // deterministic runs
	DefaultConfidence   float64 `yaml:"default_confidence"`    // fallback 70
	ProgressLogEvery    int     `yaml:"progress_log_every"`    // default 50
}

// MinerConfig represents combination miner configuration
type MinerConfig struct {
	MinComboSize      int     `yaml:"min_combo_size"`     // default 2
	MaxComboSize      int     `yaml:"max_combo_size"`     // hard cap 3
	MinSamples        int     `yaml:"min_samples"`        // default 20
	MinAccuracy       float64 `yaml:"min_accuracy"`       // default 60
	BatchSize         int     `yaml:"batch_size"`         // default 500
	MaxCombinations   int     `yaml:"max_combinations"`   // 0 = unlimited
	MinTimeframes     int     `yaml:"min_timeframes"`     // cross-TF, default 2
	MaxTimeframes     int     `yaml:"max_timeframes"`     // cross-TF, default 3
	CorrelationWindow string  `yaml:"correlation_window"` // default 1h
	BaseScanLimit     int     `yaml:"base_scan_limit"`    // default 500
	SummaryCacheTTL   string  `yaml:"summary_cache_ttl"`  // default 1h
}

// MonitoringConfig represents the metrics and broadcast surface
type MonitoringConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
	BroadcastPort  int  `yaml:"broadcast_port"`
}

// SupervisorConfig represents the worker restart policy
type SupervisorConfig struct {
	MaxRetries     int     `yaml:"max_retries"`      // default 10 (0 is replaced); negative = retry forever
	InitialBackoff string  `yaml:"initial_backoff"`  // default 5s
	MaxBackoff     string  `yaml:"max_backoff"`      // default 60s
	BackoffFactor  float64 `yaml:"backoff_factor"`   // default 2.0
	StuckAfter     string  `yaml:"stuck_after"`      // default 5m
	HealthInterval string  `yaml:"health_interval"`  // default 30s
}

// SchedulesConfig represents the supervised pipeline pass intervals
type SchedulesConfig struct {
	ValidationEnabled  bool   `yaml:"validation_enabled"`
	ValidationInterval string `yaml:"validation_interval"`
	MiningEnabled      bool   `yaml:"mining_enabled"`
	MiningInterval     string `yaml:"mining_interval"`
}

// ============================================================================
// HELPER METHODS
// ============================================================================

// GetExchangeConfig returns configuration for a specific venue
func (c *Config) GetExchangeConfig(name string) (ExchangeConfig, bool) {
	for _, exchange := range c.Exchanges {
		if exchange.Name == name {
			return exchange, true
		}
	}
	return ExchangeConfig{}, false
}

// EnabledExchanges returns the enabled venue configurations in file order
func (c *Config) EnabledExchanges() []ExchangeConfig {
	var enabled []ExchangeConfig
	for _, exchange := range c.Exchanges {
		if exchange.Enabled {
			enabled = append(enabled, exchange)
		}
	}
	return enabled
}

// GetTimeframeDuration converts a timeframe string to time.Duration,
// defaulting to one minute for anything outside the supported set.
func (c *Config) GetTimeframeDuration(timeframe string) time.Duration {
	tf, err := core.ParseTimeframe(timeframe)
	if err != nil {
		return time.Minute
	}
	return tf.Duration()
}

// ParseDuration parses a duration knob with a fallback for empty or bad values.
func ParseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
