package market

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// inflightCall is one shared computation. Waiters block on done.
type inflightCall struct {
	done    chan struct{}
	started time.Time

	val interface{}
	err error
}

// FlightGroup collapses concurrent duplicate work on the same key into one
// computation: the first caller runs fn, later callers wait on the same
// result. Entries are removed on completion; a watchdog evicts entries stuck
// in flight longer than maxAge so a hung fetch cannot wedge its key forever.
type FlightGroup struct {
	mu     sync.Mutex
	calls  map[string]*inflightCall
	maxAge time.Duration
	logger *zap.Logger
}

// NewFlightGroup creates a group with the given stuck-entry age (30s default).
func NewFlightGroup(maxAge time.Duration, logger *zap.Logger) *FlightGroup {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlightGroup{
		calls:  make(map[string]*inflightCall),
		maxAge: maxAge,
		logger: logger.Named("singleflight"),
	}
}

// Do runs fn under the key, sharing the result with every concurrent caller
// of the same key. The shared bool reports whether this caller joined an
// existing flight rather than starting one.
func (g *FlightGroup) Do(key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	g.mu.Lock()
	if call, ok := g.calls[key]; ok {
		g.mu.Unlock()
		<-call.done
		return call.val, call.err, true
	}

	call := &inflightCall{
		done:    make(chan struct{}),
		started: time.Now(),
	}
	g.calls[key] = call
	g.mu.Unlock()

	call.val, call.err = fn()

	g.mu.Lock()
	// Only remove our own entry; the watchdog may have replaced it.
	if current, ok := g.calls[key]; ok && current == call {
		delete(g.calls, key)
	}
	g.mu.Unlock()

	close(call.done)
	return call.val, call.err, false
}

// EvictStuck drops in-flight entries older than maxAge. Waiters of an evicted
// entry still unblock when the original fn returns; new callers start fresh.
func (g *FlightGroup) EvictStuck() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := time.Now().Add(-g.maxAge)
	evicted := 0
	for key, call := range g.calls {
		if call.started.Before(cutoff) {
			delete(g.calls, key)
			evicted++
			g.logger.Warn("Evicted stuck in-flight request",
				zap.String("key", key),
				zap.Duration("age", time.Since(call.started)))
		}
	}
	return evicted
}

// RunWatchdog runs the periodic eviction loop until the stop channel closes.
func (g *FlightGroup) RunWatchdog(stop <-chan struct{}, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.EvictStuck()
		}
	}
}

// InflightCount returns the number of keys currently in flight.
func (g *FlightGroup) InflightCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
