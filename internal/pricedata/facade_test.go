package pricedata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalforge/internal/core"
	"signalforge/internal/exchanges"
)

type fakeFetcher struct {
	candles []core.Candle
	err     error
	calls   int
	lastOpt exchanges.FetchOptions
}

func (f *fakeFetcher) FetchWithFallback(ctx context.Context, opts exchanges.FetchOptions) ([]core.Candle, exchanges.Venue, error) {
	f.calls++
	f.lastOpt = opts
	if f.err != nil {
		return nil, "", f.err
	}
	return f.candles, exchanges.VenueBinance, nil
}

func journeyCandles(n int) []core.Candle {
	base := time.Now().Add(-24 * time.Hour)
	out := make([]core.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 101, Low: 99, Close: 100, Volume: 1,
		})
	}
	return out
}

func TestJourneyWindow(t *testing.T) {
	fetcher := &fakeFetcher{candles: journeyCandles(16)}
	f := NewFacade(fetcher, Options{}, nil)

	anchor := time.Now().Add(-48 * time.Hour).Truncate(time.Hour)
	candles, err := f.Journey(context.Background(), JourneyRequest{
		Symbol: "BTC", Anchor: anchor, Timeframe: core.TF1h, Horizon: 10,
	})

	require.NoError(t, err)
	assert.Len(t, candles, 16)
	assert.Equal(t, anchor.Unix(), fetcher.lastOpt.StartTime)
	// End covers horizon + the 5-candle buffer.
	assert.Equal(t, anchor.Add(15*time.Hour).Unix(), fetcher.lastOpt.EndTime)
}

func TestJourneyRejectsAncientAnchor(t *testing.T) {
	fetcher := &fakeFetcher{candles: journeyCandles(16)}
	f := NewFacade(fetcher, Options{}, nil)

	_, err := f.Journey(context.Background(), JourneyRequest{
		Symbol: "BTC", Anchor: time.Now().Add(-366 * 24 * time.Hour), Timeframe: core.TF1h, Horizon: 10,
	})

	assert.Error(t, err)
	assert.Zero(t, fetcher.calls, "no fetch is attempted for too-old anchors")
}

func TestJourneyRequiresTwoCandles(t *testing.T) {
	fetcher := &fakeFetcher{candles: journeyCandles(1)}
	f := NewFacade(fetcher, Options{}, nil)

	_, err := f.Journey(context.Background(), JourneyRequest{
		Symbol: "BTC", Anchor: time.Now().Add(-24 * time.Hour), Timeframe: core.TF1h, Horizon: 10,
	})
	assert.Error(t, err)
}

func TestJourneyRejectsUnknownTimeframe(t *testing.T) {
	f := NewFacade(&fakeFetcher{}, Options{}, nil)

	_, err := f.Journey(context.Background(), JourneyRequest{
		Symbol: "BTC", Anchor: time.Now(), Timeframe: core.Timeframe("45m"), Horizon: 10,
	})
	assert.Error(t, err)
}

func TestJourneyBatchChunks(t *testing.T) {
	fetcher := &fakeFetcher{candles: journeyCandles(16)}
	f := NewFacade(fetcher, Options{BatchChunkSize: 2, BatchChunkDelay: 10 * time.Millisecond}, nil)

	reqs := make([]JourneyRequest, 5)
	for i := range reqs {
		reqs[i] = JourneyRequest{
			Symbol: "BTC", Anchor: time.Now().Add(-24 * time.Hour), Timeframe: core.TF1h, Horizon: 10,
		}
	}

	results := f.JourneyBatch(context.Background(), reqs)

	require.Len(t, results, 5)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Len(t, r.Candles, 16)
	}
	assert.Equal(t, 5, fetcher.calls)
}

func TestJourneyBatchStopsOnCancel(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("venue down")}
	f := NewFacade(fetcher, Options{BatchChunkSize: 2, BatchChunkDelay: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	reqs := make([]JourneyRequest, 6)
	for i := range reqs {
		reqs[i] = JourneyRequest{
			Symbol: "BTC", Anchor: time.Now().Add(-24 * time.Hour), Timeframe: core.TF1h, Horizon: 10,
		}
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	results := f.JourneyBatch(ctx, reqs)

	assert.Less(t, len(results), 6, "cancellation stops between chunks")
}
