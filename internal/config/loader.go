package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (cl *ConfigLoader) LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	for i := range c.Exchanges {
		if c.Exchanges[i].Timeout == "" {
			c.Exchanges[i].Timeout = "10s"
		}
		if c.Exchanges[i].RequestsPerMinute == 0 {
			c.Exchanges[i].RequestsPerMinute = 60
		}
	}

	if c.Aggregator.RaceSize == 0 {
		c.Aggregator.RaceSize = 5
	}
	if c.Aggregator.RaceTimeout == "" {
		c.Aggregator.RaceTimeout = "5s"
	}
	if c.Aggregator.AvailabilityTTL == "" {
		c.Aggregator.AvailabilityTTL = "24h"
	}
	if c.Aggregator.RateWindowPruneEvery == "" {
		c.Aggregator.RateWindowPruneEvery = "10s"
	}
	if c.Aggregator.InflightWatchdogEvery == "" {
		c.Aggregator.InflightWatchdogEvery = "30s"
	}
	if c.Aggregator.InflightMaxAge == "" {
		c.Aggregator.InflightMaxAge = "30s"
	}
	if c.Aggregator.SnapshotInterval == "" {
		c.Aggregator.SnapshotInterval = "10m"
	}

	if c.Cache.TTL == "" {
		c.Cache.TTL = "10m"
	}
	if c.Cache.MaxFetchLimit == 0 {
		c.Cache.MaxFetchLimit = 1000
	}
	if c.Cache.EvictEvery == "" {
		c.Cache.EvictEvery = "1m"
	}

	if c.PriceData.BufferCandles == 0 {
		c.PriceData.BufferCandles = 5
	}
	if c.PriceData.MaxAgeDays == 0 {
		c.PriceData.MaxAgeDays = 365
	}
	if c.PriceData.WarnAgeDays == 0 {
		c.PriceData.WarnAgeDays = 90
	}
	if c.PriceData.BatchChunkSize == 0 {
		c.PriceData.BatchChunkSize = 10
	}
	if c.PriceData.BatchChunkDelay == "" {
		c.PriceData.BatchChunkDelay = "1s"
	}

	if c.FactCheck.MaxWorkers == 0 {
		c.FactCheck.MaxWorkers = 10
	}
	if c.FactCheck.StopLossPct == 0 {
		c.FactCheck.StopLossPct = 5.0
	}
	if c.FactCheck.MinProfitPct == 0 {
		c.FactCheck.MinProfitPct = 0.1
	}
	if c.FactCheck.MinSamples == 0 {
		c.FactCheck.MinSamples = 20
	}
	if c.FactCheck.RandomSampleRate == 0 {
		c.FactCheck.RandomSampleRate = 0.30
	}
	if c.FactCheck.DefaultConfidence == 0 {
		c.FactCheck.DefaultConfidence = 70
	}
	if c.FactCheck.ProgressLogEvery == 0 {
		c.FactCheck.ProgressLogEvery = 50
	}

	if c.Supervisor.MaxRetries == 0 {
		c.Supervisor.MaxRetries = 10
	}
	if c.Supervisor.InitialBackoff == "" {
		c.Supervisor.InitialBackoff = "5s"
	}
	if c.Supervisor.MaxBackoff == "" {
		c.Supervisor.MaxBackoff = "60s"
	}
	if c.Supervisor.BackoffFactor == 0 {
		c.Supervisor.BackoffFactor = 2.0
	}
	if c.Supervisor.StuckAfter == "" {
		c.Supervisor.StuckAfter = "5m"
	}
	if c.Supervisor.HealthInterval == "" {
		c.Supervisor.HealthInterval = "30s"
	}

	if c.Miner.MinComboSize == 0 {
		c.Miner.MinComboSize = 2
	}
	if c.Miner.MaxComboSize == 0 || c.Miner.MaxComboSize > 3 {
		c.Miner.MaxComboSize = 3
	}
	if c.Miner.MinSamples == 0 {
		c.Miner.MinSamples = 20
	}
	if c.Miner.MinAccuracy == 0 {
		c.Miner.MinAccuracy = 60
	}
	if c.Miner.BatchSize == 0 {
		c.Miner.BatchSize = 500
	}
	if c.Miner.MinTimeframes == 0 {
		c.Miner.MinTimeframes = 2
	}
	if c.Miner.MaxTimeframes == 0 {
		c.Miner.MaxTimeframes = 3
	}
	if c.Miner.CorrelationWindow == "" {
		c.Miner.CorrelationWindow = "1h"
	}
	if c.Miner.BaseScanLimit == 0 {
		c.Miner.BaseScanLimit = 500
	}
	if c.Miner.SummaryCacheTTL == "" {
		c.Miner.SummaryCacheTTL = "1h"
	}
}

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
