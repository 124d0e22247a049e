package market

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
)

// cacheEntry is one cached candle series with its insertion time.
type cacheEntry struct {
	candles    []core.Candle
	insertedAt time.Time
}

// FetchFunc fills the cache on a miss. It receives the timeframe and the
// maximum fetch limit and returns the full ascending series.
type FetchFunc func(timeframe core.Timeframe, limit int) ([]core.Candle, error)

// CandleCache stores candle series keyed by (symbol, timeframe) with a
// 10-minute TTL. Misses are filled through a single-flight fetch at
// maxFetchLimit so concurrent callers share one upstream request.
//
// Derivation is an optional path, off by default: DeriveTimeframe rolls
// consecutive finer base candles up into a coarser timeframe (open of first,
// close of last, max high, min low, summed volume), and the derive flag is
// stored and reported by DeriveEnabled. Get itself never derives: a miss is
// always filled by fetching the requested timeframe, whatever the flag says.
type CandleCache struct {
	mu            sync.RWMutex
	entries       map[string]cacheEntry
	ttl           time.Duration
	maxFetchLimit int
	deriveEnabled bool
	flight        *FlightGroup
	logger        *zap.Logger
	now           func() time.Time
}

// NewCandleCache creates a cache. ttl defaults to 10 minutes, maxFetchLimit
// to 1000.
func NewCandleCache(ttl time.Duration, maxFetchLimit int, deriveEnabled bool, logger *zap.Logger) *CandleCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxFetchLimit <= 0 {
		maxFetchLimit = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandleCache{
		entries:       make(map[string]cacheEntry),
		ttl:           ttl,
		maxFetchLimit: maxFetchLimit,
		deriveEnabled: deriveEnabled,
		flight:        NewFlightGroup(30*time.Second, logger),
		logger:        logger.Named("candlecache"),
		now:           time.Now,
	}
}

func cacheKey(symbol string, timeframe core.Timeframe) string {
	return symbol + "|" + string(timeframe)
}

// Get returns the trailing limit candles for (symbol, timeframe), filling the
// cache through fetch on a miss. Concurrent callers for the same key share a
// single fetch.
func (c *CandleCache) Get(symbol string, timeframe core.Timeframe, limit int, fetch FetchFunc) ([]core.Candle, error) {
	key := cacheKey(symbol, timeframe)

	if candles, ok := c.lookup(key, limit); ok {
		return candles, nil
	}

	result, err, shared := c.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have just filled it.
		if candles, ok := c.lookup(key, 0); ok {
			return candles, nil
		}

		candles, err := fetch(timeframe, c.maxFetchLimit)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = cacheEntry{candles: candles, insertedAt: c.now()}
		c.mu.Unlock()

		return candles, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache fill failed for %s: %w", key, err)
	}
	if shared {
		c.logger.Debug("Joined in-flight cache fill", zap.String("key", key))
	}

	candles := result.([]core.Candle)
	return tail(candles, limit), nil
}

func (c *CandleCache) lookup(key string, limit int) ([]core.Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.insertedAt) > c.ttl {
		return nil, false
	}
	return tail(entry.candles, limit), true
}

func tail(candles []core.Candle, limit int) []core.Candle {
	if limit > 0 && len(candles) > limit {
		return candles[len(candles)-limit:]
	}
	return candles
}

// Evict removes expired entries and returns how many were dropped. Runs
// every minute under the supervisor.
func (c *CandleCache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	evicted := 0
	for key, entry := range c.entries {
		if entry.insertedAt.Before(cutoff) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

// RunEvictor runs the periodic eviction loop until the stop channel closes.
func (c *CandleCache) RunEvictor(stop <-chan struct{}, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := c.Evict(); n > 0 {
				c.logger.Debug("Evicted expired candle entries", zap.Int("count", n))
			}
		}
	}
}

// DeriveEnabled reports whether the optional derivation path is active.
func (c *CandleCache) DeriveEnabled() bool {
	return c.deriveEnabled
}

// DeriveTimeframe rolls consecutive base candles up into a coarser timeframe:
// each group of multiplier base candles becomes one candle taking the open of
// the first, close of the last, max high, min low, and summed volume. Partial
// trailing groups are dropped. The target's minute count must be an exact
// multiple of the base's.
func DeriveTimeframe(base []core.Candle, from, to core.Timeframe) ([]core.Candle, error) {
	fromMin, toMin := from.Minutes(), to.Minutes()
	if fromMin <= 0 || toMin <= 0 {
		return nil, fmt.Errorf("unknown timeframe %s or %s", from, to)
	}
	if toMin%fromMin != 0 {
		return nil, fmt.Errorf("%s is not derivable from %s", to, from)
	}
	multiplier := toMin / fromMin
	if multiplier < 1 {
		return nil, fmt.Errorf("%s is finer than %s", to, from)
	}

	derived := make([]core.Candle, 0, len(base)/multiplier)
	for i := 0; i+multiplier <= len(base); i += multiplier {
		group := base[i : i+multiplier]
		candle := core.Candle{
			Timestamp: group[0].Timestamp,
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
		}
		for _, b := range group {
			if b.High > candle.High {
				candle.High = b.High
			}
			if b.Low < candle.Low {
				candle.Low = b.Low
			}
			candle.Volume += b.Volume
		}
		derived = append(derived, candle)
	}
	return derived, nil
}
