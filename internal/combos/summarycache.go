package combos

import (
	"sync"
	"time"

	"signalforge/internal/core"
)

// SignalSummary is the cached per-signal digest used to short-circuit
// repeated mining runs.
type SignalSummary struct {
	Accuracy     float64   `json:"accuracy"`
	SampleSize   int       `json:"sample_size"`
	ProfitFactor float64   `json:"profit_factor"`
	Timestamp    time.Time `json:"timestamp"`
}

// SummaryCache holds signal summaries keyed by "signalName|timeframe" with a
// one-hour TTL.
type SummaryCache struct {
	mu      sync.RWMutex
	entries map[string]SignalSummary
	ttl     time.Duration
	now     func() time.Time
}

// NewSummaryCache creates a cache; ttl defaults to one hour.
func NewSummaryCache(ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SummaryCache{
		entries: make(map[string]SignalSummary),
		ttl:     ttl,
		now:     time.Now,
	}
}

func summaryKey(signalName string, timeframe core.Timeframe) string {
	return signalName + "|" + string(timeframe)
}

// Get returns a fresh summary if present.
func (c *SummaryCache) Get(signalName string, timeframe core.Timeframe) (SignalSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[summaryKey(signalName, timeframe)]
	if !ok || c.now().Sub(entry.Timestamp) > c.ttl {
		return SignalSummary{}, false
	}
	return entry, true
}

// Put stores a summary stamped with the current time.
func (c *SummaryCache) Put(signalName string, timeframe core.Timeframe, summary SignalSummary) {
	summary.Timestamp = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[summaryKey(signalName, timeframe)] = summary
}

// Len returns the number of cached summaries, fresh or not.
func (c *SummaryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
