package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
	"signalforge/internal/exchanges"
)

// VenueStats are the per-venue fetch counters.
type VenueStats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	NotFound  int64 `json:"not_found"`
	RateSkips int64 `json:"rate_skips"`
}

// AggregatorStats is the monitoring snapshot of the aggregator.
type AggregatorStats struct {
	TotalAttempts  int64                           `json:"total_attempts"`
	TotalSuccesses int64                           `json:"total_successes"`
	TotalFailures  int64                           `json:"total_failures"`
	TotalNotFound  int64                           `json:"total_not_found"`
	Venues         map[exchanges.Venue]VenueStats  `json:"venues"`
}

// AggregatorOptions configures the aggregator.
type AggregatorOptions struct {
	Priority    []exchanges.Venue
	RaceSize    int           // venues launched by FetchRace, default 5
	RaceTimeout time.Duration // overall race deadline, default 5s
}

// Aggregator produces candle sequences by trying eligible venues in priority
// order, honoring rate limits and symbol-availability knowledge. All venue
// failures are local: the aggregator reports absence through an error only
// when every candidate has been exhausted.
type Aggregator struct {
	clients      map[exchanges.Venue]exchanges.Client
	priority     []exchanges.Venue
	limiter      *RateLimiter
	availability *AvailabilityCache
	flight       *FlightGroup
	logger       *zap.Logger

	raceSize    int
	raceTimeout time.Duration

	statsMu sync.Mutex
	stats   AggregatorStats
}

// NewAggregator wires the aggregator over the given clients.
func NewAggregator(
	clients map[exchanges.Venue]exchanges.Client,
	limiter *RateLimiter,
	availability *AvailabilityCache,
	flight *FlightGroup,
	opts AggregatorOptions,
	logger *zap.Logger,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	priority := opts.Priority
	if len(priority) == 0 {
		priority = exchanges.AllVenues
	}
	raceSize := opts.RaceSize
	if raceSize <= 0 {
		raceSize = 5
	}
	raceTimeout := opts.RaceTimeout
	if raceTimeout <= 0 {
		raceTimeout = 5 * time.Second
	}

	return &Aggregator{
		clients:      clients,
		priority:     priority,
		limiter:      limiter,
		availability: availability,
		flight:       flight,
		logger:       logger.Named("aggregator"),
		raceSize:     raceSize,
		raceTimeout:  raceTimeout,
		stats:        AggregatorStats{Venues: make(map[exchanges.Venue]VenueStats)},
	}
}

// candidates returns the priority list narrowed to venues known to carry the
// symbol; with no fresh availability knowledge the full list is used.
func (a *Aggregator) candidates(symbol string) []exchanges.Venue {
	known := a.availability.KnownAvailable(symbol)
	if len(known) == 0 {
		return a.priority
	}

	var out []exchanges.Venue
	for _, venue := range a.priority {
		if known[venue] {
			out = append(out, venue)
		}
	}
	if len(out) == 0 {
		return a.priority
	}
	return out
}

// FetchWithFallback tries candidate venues in priority order and returns the
// first sequence satisfying the requested limit, together with the venue that
// served it. Identical concurrent requests are collapsed through the
// single-flight group.
func (a *Aggregator) FetchWithFallback(ctx context.Context, opts exchanges.FetchOptions) ([]core.Candle, exchanges.Venue, error) {
	type fetchResult struct {
		candles []core.Candle
		venue   exchanges.Venue
	}

	key := opts.Symbol + "|" + string(opts.Timeframe)
	result, err, _ := a.flight.Do(key, func() (interface{}, error) {
		candles, venue, err := a.fetchFallback(ctx, opts)
		if err != nil {
			return nil, err
		}
		return fetchResult{candles: candles, venue: venue}, nil
	})
	if err != nil {
		return nil, "", err
	}

	r := result.(fetchResult)
	return r.candles, r.venue, nil
}

func (a *Aggregator) fetchFallback(ctx context.Context, opts exchanges.FetchOptions) ([]core.Candle, exchanges.Venue, error) {
	var lastErr error

	for _, venue := range a.candidates(opts.Symbol) {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		if a.limiter.Saturated(venue) {
			a.recordRateSkip(venue)
			continue
		}
		if a.availability.IsUnavailable(opts.Symbol, venue) {
			continue
		}

		candles, err := a.fetchFrom(ctx, venue, opts)
		if err != nil {
			lastErr = err
			continue
		}
		return candles, venue, nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("all venues failed for %s %s: %w", opts.Symbol, opts.Timeframe, lastErr)
	}
	return nil, "", fmt.Errorf("no eligible venue for %s %s", opts.Symbol, opts.Timeframe)
}

// FetchFrom fetches from one specific venue, bypassing the priority traversal
// but still recording statistics and availability knowledge.
func (a *Aggregator) FetchFrom(ctx context.Context, venue exchanges.Venue, opts exchanges.FetchOptions) ([]core.Candle, error) {
	return a.fetchFrom(ctx, venue, opts)
}

func (a *Aggregator) fetchFrom(ctx context.Context, venue exchanges.Venue, opts exchanges.FetchOptions) ([]core.Candle, error) {
	client, ok := a.clients[venue]
	if !ok {
		return nil, fmt.Errorf("no client for venue %s", venue)
	}

	a.recordAttempt(venue)
	a.limiter.Record(venue)

	candles, err := client.FetchCandles(ctx, opts)
	if err != nil {
		if IsSymbolNotFound(err) {
			a.availability.MarkUnavailable(opts.Symbol, venue)
			a.recordNotFound(venue)
			a.logger.Debug("Symbol marked unavailable",
				zap.String("venue", string(venue)),
				zap.String("symbol", opts.Symbol),
				zap.Error(err))
		} else {
			a.recordFailure(venue)
			a.logger.Debug("Venue fetch failed",
				zap.String("venue", string(venue)),
				zap.String("symbol", opts.Symbol),
				zap.Error(err))
		}
		return nil, err
	}

	if opts.Limit > 0 && len(candles) < opts.Limit {
		a.recordFailure(venue)
		return nil, fmt.Errorf("%s returned %d candles, wanted %d", venue, len(candles), opts.Limit)
	}

	a.availability.MarkAvailable(opts.Symbol, venue)
	a.recordSuccess(venue)
	return candles, nil
}

// FetchRace launches up to raceSize priority-ordered venue requests
// concurrently and returns the first result satisfying the limit. Losing
// requests are left to finish in the background; the race gives up after the
// configured deadline.
func (a *Aggregator) FetchRace(ctx context.Context, opts exchanges.FetchOptions) ([]core.Candle, exchanges.Venue, error) {
	type raceResult struct {
		candles []core.Candle
		venue   exchanges.Venue
	}

	candidates := a.candidates(opts.Symbol)
	if len(candidates) > a.raceSize {
		candidates = candidates[:a.raceSize]
	}

	results := make(chan raceResult, len(candidates))
	launched := 0
	for _, venue := range candidates {
		if a.limiter.Saturated(venue) {
			a.recordRateSkip(venue)
			continue
		}
		if a.availability.IsUnavailable(opts.Symbol, venue) {
			continue
		}

		launched++
		go func(venue exchanges.Venue) {
			candles, err := a.fetchFrom(ctx, venue, opts)
			if err != nil {
				results <- raceResult{}
				return
			}
			results <- raceResult{candles: candles, venue: venue}
		}(venue)
	}

	if launched == 0 {
		return nil, "", fmt.Errorf("no eligible venue for %s %s", opts.Symbol, opts.Timeframe)
	}

	deadline := time.NewTimer(a.raceTimeout)
	defer deadline.Stop()

	for remaining := launched; remaining > 0; remaining-- {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-deadline.C:
			return nil, "", fmt.Errorf("race timed out for %s %s", opts.Symbol, opts.Timeframe)
		case r := <-results:
			if r.candles != nil {
				return r.candles, r.venue, nil
			}
		}
	}

	return nil, "", fmt.Errorf("all raced venues failed for %s %s", opts.Symbol, opts.Timeframe)
}

// FetchParallel queries every eligible candidate concurrently and returns all
// successful results keyed by venue.
func (a *Aggregator) FetchParallel(ctx context.Context, opts exchanges.FetchOptions) map[exchanges.Venue][]core.Candle {
	type parallelResult struct {
		venue   exchanges.Venue
		candles []core.Candle
	}

	candidates := a.candidates(opts.Symbol)
	results := make(chan parallelResult, len(candidates))
	launched := 0

	for _, venue := range candidates {
		if a.limiter.Saturated(venue) {
			a.recordRateSkip(venue)
			continue
		}
		if a.availability.IsUnavailable(opts.Symbol, venue) {
			continue
		}

		launched++
		go func(venue exchanges.Venue) {
			candles, err := a.fetchFrom(ctx, venue, opts)
			if err != nil {
				results <- parallelResult{venue: venue}
				return
			}
			results <- parallelResult{venue: venue, candles: candles}
		}(venue)
	}

	out := make(map[exchanges.Venue][]core.Candle)
	for i := 0; i < launched; i++ {
		select {
		case <-ctx.Done():
			return out
		case r := <-results:
			if r.candles != nil {
				out[r.venue] = r.candles
			}
		}
	}
	return out
}

// CurrentPrice returns the first venue price available along the priority
// traversal.
func (a *Aggregator) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, exchanges.Venue, error) {
	var lastErr error

	for _, venue := range a.candidates(symbol) {
		if err := ctx.Err(); err != nil {
			return core.PricePoint{}, "", err
		}
		if a.limiter.Saturated(venue) {
			a.recordRateSkip(venue)
			continue
		}
		if a.availability.IsUnavailable(symbol, venue) {
			continue
		}

		client, ok := a.clients[venue]
		if !ok {
			continue
		}

		a.recordAttempt(venue)
		a.limiter.Record(venue)

		price, err := client.CurrentPrice(ctx, symbol)
		if err != nil {
			lastErr = err
			if IsSymbolNotFound(err) {
				a.availability.MarkUnavailable(symbol, venue)
				a.recordNotFound(venue)
			} else {
				a.recordFailure(venue)
			}
			continue
		}

		a.recordSuccess(venue)
		return price, venue, nil
	}

	if lastErr != nil {
		return core.PricePoint{}, "", fmt.Errorf("all venues failed for %s price: %w", symbol, lastErr)
	}
	return core.PricePoint{}, "", fmt.Errorf("no eligible venue for %s price", symbol)
}

// Stats returns a copy of the aggregator counters.
func (a *Aggregator) Stats() AggregatorStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	out := AggregatorStats{
		TotalAttempts:  a.stats.TotalAttempts,
		TotalSuccesses: a.stats.TotalSuccesses,
		TotalFailures:  a.stats.TotalFailures,
		TotalNotFound:  a.stats.TotalNotFound,
		Venues:         make(map[exchanges.Venue]VenueStats, len(a.stats.Venues)),
	}
	for venue, vs := range a.stats.Venues {
		out.Venues[venue] = vs
	}
	return out
}

func (a *Aggregator) recordAttempt(venue exchanges.Venue) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.stats.TotalAttempts++
	vs := a.stats.Venues[venue]
	vs.Attempts++
	a.stats.Venues[venue] = vs
}

func (a *Aggregator) recordSuccess(venue exchanges.Venue) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.stats.TotalSuccesses++
	vs := a.stats.Venues[venue]
	vs.Successes++
	a.stats.Venues[venue] = vs
}

func (a *Aggregator) recordFailure(venue exchanges.Venue) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.stats.TotalFailures++
	vs := a.stats.Venues[venue]
	vs.Failures++
	a.stats.Venues[venue] = vs
}

func (a *Aggregator) recordNotFound(venue exchanges.Venue) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.stats.TotalFailures++
	a.stats.TotalNotFound++
	vs := a.stats.Venues[venue]
	vs.Failures++
	vs.NotFound++
	a.stats.Venues[venue] = vs
}

func (a *Aggregator) recordRateSkip(venue exchanges.Venue) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	vs := a.stats.Venues[venue]
	vs.RateSkips++
	a.stats.Venues[venue] = vs
}
