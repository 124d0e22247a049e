package market

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/exchanges"
)

// Error substrings that classify a venue failure as symbol-not-supported.
// Matching is case-insensitive.
var notFoundMarkers = []string{
	"404",
	"not found",
	"invalid symbol",
	"unknown symbol",
	"does not exist",
	"invalid response",
	"symbol not supported",
}

// IsSymbolNotFound reports whether a fetch error marks the symbol as
// unsupported on the venue, as opposed to a transient failure.
func IsSymbolNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range notFoundMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// availabilityEntry records which venues are known to carry or reject a symbol.
type availabilityEntry struct {
	Available   map[exchanges.Venue]bool `json:"available"`
	Unavailable map[exchanges.Venue]bool `json:"unavailable"`
	LastChecked time.Time                `json:"last_checked"`
}

// AvailabilityCache remembers per-symbol venue support with a 24-hour TTL.
// Readers may observe stale values; the aggregator overwrites entries as it
// learns. The cache persists to a JSON snapshot across restarts.
type AvailabilityCache struct {
	mu      sync.RWMutex
	entries map[string]*availabilityEntry
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewAvailabilityCache creates an empty cache with the given TTL (24h default).
func NewAvailabilityCache(ttl time.Duration, logger *zap.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityCache{
		entries: make(map[string]*availabilityEntry),
		ttl:     ttl,
		logger:  logger.Named("availability"),
		now:     time.Now,
	}
}

func (c *AvailabilityCache) entry(symbol string) *availabilityEntry {
	e, ok := c.entries[symbol]
	if ok && c.now().Sub(e.LastChecked) <= c.ttl {
		return e
	}
	e = &availabilityEntry{
		Available:   make(map[exchanges.Venue]bool),
		Unavailable: make(map[exchanges.Venue]bool),
	}
	c.entries[symbol] = e
	return e
}

// MarkAvailable records that the venue served the symbol, clearing any
// previous unavailable marker.
func (c *AvailabilityCache) MarkAvailable(symbol string, venue exchanges.Venue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(symbol)
	e.Available[venue] = true
	delete(e.Unavailable, venue)
	e.LastChecked = c.now()
}

// MarkUnavailable records a symbol-not-supported classification for the venue.
func (c *AvailabilityCache) MarkUnavailable(symbol string, venue exchanges.Venue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(symbol)
	e.Unavailable[venue] = true
	delete(e.Available, venue)
	e.LastChecked = c.now()
}

// KnownAvailable returns the set of venues known to carry the symbol, or nil
// when nothing fresh is known.
func (c *AvailabilityCache) KnownAvailable(symbol string) map[exchanges.Venue]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok || c.now().Sub(e.LastChecked) > c.ttl || len(e.Available) == 0 {
		return nil
	}
	out := make(map[exchanges.Venue]bool, len(e.Available))
	for v := range e.Available {
		out[v] = true
	}
	return out
}

// IsUnavailable reports whether the venue is known to reject the symbol.
func (c *AvailabilityCache) IsUnavailable(symbol string, venue exchanges.Venue) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok || c.now().Sub(e.LastChecked) > c.ttl {
		return false
	}
	return e.Unavailable[venue]
}

// snapshotFile is the on-disk JSON form of the cache.
type snapshotFile struct {
	SavedAt time.Time                     `json:"saved_at"`
	Entries map[string]*availabilityEntry `json:"entries"`
}

// SaveSnapshot writes the cache to the JSON snapshot path.
func (c *AvailabilityCache) SaveSnapshot(path string) error {
	if path == "" {
		return nil
	}

	c.mu.RLock()
	snap := snapshotFile{
		SavedAt: c.now(),
		Entries: make(map[string]*availabilityEntry, len(c.entries)),
	}
	for symbol, e := range c.entries {
		snap.Entries[symbol] = e
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}

	c.logger.Debug("Availability snapshot saved",
		zap.String("path", path),
		zap.Int("symbols", len(snap.Entries)))
	return nil
}

// LoadSnapshot rehydrates the cache from the JSON snapshot. Entries past the
// TTL are dropped. A missing file is not an error.
func (c *AvailabilityCache) LoadSnapshot(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	cutoff := c.now().Add(-c.ttl)
	for symbol, e := range snap.Entries {
		if e == nil || e.LastChecked.Before(cutoff) {
			continue
		}
		if e.Available == nil {
			e.Available = make(map[exchanges.Venue]bool)
		}
		if e.Unavailable == nil {
			e.Unavailable = make(map[exchanges.Venue]bool)
		}
		c.entries[symbol] = e
		loaded++
	}

	c.logger.Info("Availability snapshot loaded",
		zap.String("path", path),
		zap.Int("symbols", loaded))
	return nil
}
