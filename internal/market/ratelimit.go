package market

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/exchanges"
)

const (
	rateWindow = 60 * time.Second
	// A venue is considered saturated once its window reaches 90% of the
	// configured budget; the aggregator skips it until the window drains.
	saturationRatio = 0.9
)

// RateLimiter tracks per-venue request timestamps over a sliding 60-second
// window. Dispatching tasks record requests under one lock shared by all
// venues; a background task prunes stale timestamps.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[exchanges.Venue]int
	windows map[exchanges.Venue][]time.Time
	logger  *zap.Logger
	now     func() time.Time
}

// NewRateLimiter creates a limiter with per-venue requests-per-minute budgets.
func NewRateLimiter(limits map[exchanges.Venue]int, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		limits:  limits,
		windows: make(map[exchanges.Venue][]time.Time),
		logger:  logger.Named("ratelimit"),
		now:     time.Now,
	}
}

// Record appends a request timestamp to the venue's window. Called for every
// outbound request, success or failure.
func (rl *RateLimiter) Record(venue exchanges.Venue) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.windows[venue] = append(rl.windows[venue], rl.now())
}

// Saturated reports whether the venue's window has reached 90% of its budget.
func (rl *RateLimiter) Saturated(venue exchanges.Venue) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[venue]
	if !ok || limit <= 0 {
		return false
	}
	count := rl.countLocked(venue)
	return float64(count) >= saturationRatio*float64(limit)
}

// WindowCount returns the number of requests in the venue's current window.
func (rl *RateLimiter) WindowCount(venue exchanges.Venue) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.countLocked(venue)
}

func (rl *RateLimiter) countLocked(venue exchanges.Venue) int {
	cutoff := rl.now().Add(-rateWindow)
	count := 0
	for _, ts := range rl.windows[venue] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// Prune drops timestamps older than the window from every venue. Runs
// periodically (every ~10s) under the supervisor.
func (rl *RateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rateWindow)
	for venue, window := range rl.windows {
		kept := window[:0]
		for _, ts := range window {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		rl.windows[venue] = kept
	}
}

// RunPruner runs the periodic prune loop until the stop channel closes.
func (rl *RateLimiter) RunPruner(stop <-chan struct{}, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.Prune()
		}
	}
}
