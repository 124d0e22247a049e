package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
database:
  dsn: "user:pass@tcp(localhost:3306)/forge?parseTime=True"
  auto_migrate: true

exchanges:
  - name: binance
    enabled: true
    base_url: "https://api.binance.com"
    requests_per_minute: 1100
  - name: tabdeal
    enabled: false
    base_url: "https://api.tabdeal.org"

aggregator:
  priority: [binance, bybit]

fact_check:
  max_workers: 4
  stop_loss_pct: 3.0
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	loader := NewConfigLoader()
	cfg, err := loader.LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "user:pass@tcp(localhost:3306)/forge?parseTime=True", cfg.Database.DSN)
	assert.Len(t, cfg.Exchanges, 2)
	assert.Equal(t, []string{"binance", "bybit"}, cfg.Aggregator.Priority)
	assert.Equal(t, 4, cfg.FactCheck.MaxWorkers)
	assert.Equal(t, 3.0, cfg.FactCheck.StopLossPct)
}

func TestLoadConfigDefaults(t *testing.T) {
	loader := NewConfigLoader()
	cfg, err := loader.LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	// Loader fills in everything the file leaves out.
	assert.Equal(t, "10s", cfg.Exchanges[0].Timeout)
	assert.Equal(t, 60, cfg.Exchanges[1].RequestsPerMinute)
	assert.Equal(t, 5, cfg.Aggregator.RaceSize)
	assert.Equal(t, "5s", cfg.Aggregator.RaceTimeout)
	assert.Equal(t, "24h", cfg.Aggregator.AvailabilityTTL)
	assert.Equal(t, "10m", cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxFetchLimit)
	assert.False(t, cfg.Cache.DeriveTimeframes)
	assert.Equal(t, 5, cfg.PriceData.BufferCandles)
	assert.Equal(t, 365, cfg.PriceData.MaxAgeDays)
	assert.Equal(t, 0.1, cfg.FactCheck.MinProfitPct)
	assert.Equal(t, 20, cfg.FactCheck.MinSamples)
	assert.Equal(t, 0.30, cfg.FactCheck.RandomSampleRate)
	assert.Equal(t, 3, cfg.Miner.MaxComboSize)
	assert.Equal(t, 60.0, cfg.Miner.MinAccuracy)
	assert.Equal(t, 500, cfg.Miner.BatchSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	loader := NewConfigLoader()
	_, err := loader.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMaxComboSizeCapped(t *testing.T) {
	raw := testConfig + `
miner:
  max_combo_size: 7
`
	loader := NewConfigLoader()
	cfg, err := loader.LoadConfig(writeConfig(t, raw))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Miner.MaxComboSize, "combo size is hard-capped at 3")
}

func TestEnabledExchanges(t *testing.T) {
	loader := NewConfigLoader()
	cfg, err := loader.LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	enabled := cfg.EnabledExchanges()
	require.Len(t, enabled, 1)
	assert.Equal(t, "binance", enabled[0].Name)
}

func TestGetTimeframeDuration(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, time.Hour, cfg.GetTimeframeDuration("1h"))
	assert.Equal(t, time.Minute, cfg.GetTimeframeDuration("bogus"))
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 10*time.Second, ParseDuration("10s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("junk", time.Minute))
}
