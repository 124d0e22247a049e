package pricedata

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
	"signalforge/internal/exchanges"
)

// Fetcher is the slice of the aggregator the facade needs.
type Fetcher interface {
	FetchWithFallback(ctx context.Context, opts exchanges.FetchOptions) ([]core.Candle, exchanges.Venue, error)
}

// Options tune the journey facade.
type Options struct {
	BufferCandles   int           // extra candles past the horizon, default 5
	MaxAge          time.Duration // hard rejection age, default 365 days
	WarnAge         time.Duration // logged warning age, default 90 days
	BatchChunkSize  int           // default 10
	BatchChunkDelay time.Duration // default 1s
}

// Facade returns forward candle journeys for fact-checking. It delegates
// straight to the aggregator with a start/end window; caching happens below
// it in the candle layer.
type Facade struct {
	fetcher Fetcher
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewFacade creates a facade over the aggregator.
func NewFacade(fetcher Fetcher, opts Options, logger *zap.Logger) *Facade {
	if opts.BufferCandles <= 0 {
		opts.BufferCandles = 5
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 365 * 24 * time.Hour
	}
	if opts.WarnAge <= 0 {
		opts.WarnAge = 90 * 24 * time.Hour
	}
	if opts.BatchChunkSize <= 0 {
		opts.BatchChunkSize = 10
	}
	if opts.BatchChunkDelay <= 0 {
		opts.BatchChunkDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.Named("pricedata"),
		now:     time.Now,
	}
}

// JourneyRequest addresses one forward candle slice.
type JourneyRequest struct {
	Symbol    string
	Anchor    time.Time
	Timeframe core.Timeframe
	Horizon   int // candles past the anchor
}

// Journey returns the candles covering [anchor, anchor+(horizon+buffer)×tf],
// ascending, or an error when the anchor is too old or fewer than two candles
// come back.
func (f *Facade) Journey(ctx context.Context, req JourneyRequest) ([]core.Candle, error) {
	age := f.now().Sub(req.Anchor)
	if age > f.opts.MaxAge {
		return nil, fmt.Errorf("anchor %s is older than %s", req.Anchor.Format(time.RFC3339), f.opts.MaxAge)
	}
	if age > f.opts.WarnAge {
		f.logger.Warn("Fetching journey for old anchor",
			zap.String("symbol", req.Symbol),
			zap.Time("anchor", req.Anchor),
			zap.Duration("age", age))
	}
	if !req.Timeframe.Valid() {
		return nil, fmt.Errorf("unknown timeframe %q", req.Timeframe)
	}

	span := req.Horizon + f.opts.BufferCandles
	end := req.Anchor.Add(time.Duration(span) * req.Timeframe.Duration())

	candles, venue, err := f.fetcher.FetchWithFallback(ctx, exchanges.FetchOptions{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Limit:     2, // journeys only need the floor; venues may return more
		StartTime: req.Anchor.Unix(),
		EndTime:   end.Unix(),
	})
	if err != nil {
		return nil, err
	}
	if len(candles) < 2 {
		return nil, fmt.Errorf("journey for %s %s at %s returned %d candles",
			req.Symbol, req.Timeframe, req.Anchor.Format(time.RFC3339), len(candles))
	}

	f.logger.Debug("Journey fetched",
		zap.String("symbol", req.Symbol),
		zap.String("timeframe", string(req.Timeframe)),
		zap.String("venue", string(venue)),
		zap.Int("candles", len(candles)))
	return candles, nil
}

// JourneyResult pairs a batch request with its outcome.
type JourneyResult struct {
	Request JourneyRequest
	Candles []core.Candle
	Err     error
}

// JourneyBatch processes requests in chunks, pausing between chunks to stay
// friendly to venue rate limits. Within a chunk the requests run sequentially;
// the aggregator's own fan-out handles venue-level concurrency.
func (f *Facade) JourneyBatch(ctx context.Context, reqs []JourneyRequest) []JourneyResult {
	results := make([]JourneyResult, 0, len(reqs))

	for start := 0; start < len(reqs); start += f.opts.BatchChunkSize {
		end := start + f.opts.BatchChunkSize
		if end > len(reqs) {
			end = len(reqs)
		}

		for _, req := range reqs[start:end] {
			if err := ctx.Err(); err != nil {
				return results
			}
			candles, err := f.Journey(ctx, req)
			results = append(results, JourneyResult{Request: req, Candles: candles, Err: err})
		}

		if end < len(reqs) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(f.opts.BatchChunkDelay):
			}
		}
	}

	return results
}
