package market

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

// stubClient is a scriptable venue adapter for aggregator tests.
type stubClient struct {
	venue   exchanges.Venue
	candles []core.Candle
	err     error
	calls   int
}

func (s *stubClient) Venue() exchanges.Venue { return s.venue }

func (s *stubClient) FetchCandles(ctx context.Context, opts exchanges.FetchOptions) ([]core.Candle, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.candles, nil
}

func (s *stubClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	if s.err != nil {
		return core.PricePoint{}, s.err
	}
	return core.PricePoint{Price: 100, Timestamp: time.Now()}, nil
}

func (s *stubClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	return core.DayStats{}, errors.New("not implemented")
}

func (s *stubClient) ListSymbols(ctx context.Context) ([]string, error) {
	return nil, errors.New("not implemented")
}

func newTestAggregator(clients map[exchanges.Venue]exchanges.Client, priority []exchanges.Venue) (*Aggregator, *AvailabilityCache, *RateLimiter) {
	limits := map[exchanges.Venue]int{}
	for venue := range clients {
		limits[venue] = 1000
	}
	limiter := NewRateLimiter(limits, nil)
	availability := NewAvailabilityCache(24*time.Hour, nil)
	flight := NewFlightGroup(30*time.Second, nil)

	agg := NewAggregator(clients, limiter, availability, flight, AggregatorOptions{
		Priority:    priority,
		RaceSize:    5,
		RaceTimeout: 5 * time.Second,
	}, nil)
	return agg, availability, limiter
}

func TestFetchWithFallback(t *testing.T) {
	// S5: Binance 500s, Bybit serves 200 candles.
	binance := &stubClient{venue: exchanges.VenueBinance, err: errors.New("HTTP 500: internal error")}
	bybit := &stubClient{venue: exchanges.VenueBybit, candles: seriesOf(200)}
	kucoin := &stubClient{venue: exchanges.VenueKuCoin, candles: seriesOf(200)}

	agg, availability, _ := newTestAggregator(map[exchanges.Venue]exchanges.Client{
		exchanges.VenueBinance: binance,
		exchanges.VenueBybit:   bybit,
		exchanges.VenueKuCoin:  kucoin,
	}, []exchanges.Venue{exchanges.VenueBinance, exchanges.VenueBybit, exchanges.VenueKuCoin})

	candles, venue, err := agg.FetchWithFallback(context.Background(), exchanges.FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 200,
	})

	require.NoError(t, err)
	assert.Equal(t, exchanges.VenueBybit, venue)
	assert.Len(t, candles, 200)
	assert.Equal(t, 1, binance.calls)
	assert.Equal(t, 1, bybit.calls)
	assert.Zero(t, kucoin.calls, "traversal stops at the first success")

	// Bybit is now known-available; Binance's transient failure is not a
	// symbol classification.
	known := availability.KnownAvailable("BTC")
	require.NotNil(t, known)
	assert.True(t, known[exchanges.VenueBybit])
	assert.False(t, availability.IsUnavailable("BTC", exchanges.VenueBinance))

	stats := agg.Stats()
	assert.Equal(t, int64(2), stats.TotalAttempts)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.Venues[exchanges.VenueBinance].Failures)
}

func TestFetchMarksSymbolUnavailable(t *testing.T) {
	binance := &stubClient{venue: exchanges.VenueBinance, err: errors.New("HTTP 404: invalid symbol")}
	bybit := &stubClient{venue: exchanges.VenueBybit, candles: seriesOf(100)}

	agg, availability, _ := newTestAggregator(map[exchanges.Venue]exchanges.Client{
		exchanges.VenueBinance: binance,
		exchanges.VenueBybit:   bybit,
	}, []exchanges.Venue{exchanges.VenueBinance, exchanges.VenueBybit})

	_, venue, err := agg.FetchWithFallback(context.Background(), exchanges.FetchOptions{
		Symbol: "OBSCURE", Timeframe: core.TF1h, Limit: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, exchanges.VenueBybit, venue)
	assert.True(t, availability.IsUnavailable("OBSCURE", exchanges.VenueBinance))
	assert.Equal(t, int64(1), agg.Stats().TotalNotFound)

	// The next fetch skips Binance without another request.
	_, _, err = agg.FetchWithFallback(context.Background(), exchanges.FetchOptions{
		Symbol: "OBSCURE", Timeframe: core.TF1h, Limit: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, binance.calls)
}

func TestFetchSkipsSaturatedVenue(t *testing.T) {
	binance := &stubClient{venue: exchanges.VenueBinance, candles: seriesOf(100)}
	bybit := &stubClient{venue: exchanges.VenueBybit, candles: seriesOf(100)}

	limiter := NewRateLimiter(map[exchanges.Venue]int{
		exchanges.VenueBinance: 10,
		exchanges.VenueBybit:   1000,
	}, nil)
	availability := NewAvailabilityCache(24*time.Hour, nil)
	flight := NewFlightGroup(30*time.Second, nil)
	agg := NewAggregator(map[exchanges.Venue]exchanges.Client{
		exchanges.VenueBinance: binance,
		exchanges.VenueBybit:   bybit,
	}, limiter, availability, flight, AggregatorOptions{
		Priority: []exchanges.Venue{exchanges.VenueBinance, exchanges.VenueBybit},
	}, nil)

	for i := 0; i < 9; i++ {
		limiter.Record(exchanges.VenueBinance)
	}

	_, venue, err := agg.FetchWithFallback(context.Background(), exchanges.FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, exchanges.VenueBybit, venue)
	assert.Zero(t, binance.calls)
	assert.Equal(t, int64(1), agg.Stats().Venues[exchanges.VenueBinance].RateSkips)
}

func TestFetchShortResultIsFailure(t *testing.T) {
	binance := &stubClient{venue: exchanges.VenueBinance, candles: seriesOf(50)}

	agg, _, _ := newTestAggregator(map[exchanges.Venue]exchanges.Client{
		exchanges.VenueBinance: binance,
	}, []exchanges.Venue{exchanges.VenueBinance})

	_, _, err := agg.FetchWithFallback(context.Background(), exchanges.FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 100,
	})
	assert.Error(t, err, "fewer candles than requested does not satisfy the fetch")
}

func TestFetchRaceReturnsFirstSuccess(t *testing.T) {
	binance := &stubClient{venue: exchanges.VenueBinance, err: errors.New("HTTP 500")}
	bybit := &stubClient{venue: exchanges.VenueBybit, candles: seriesOf(100)}

	agg, _, _ := newTestAggregator(map[exchanges.Venue]exchanges.Client{
		exchanges.VenueBinance: binance,
		exchanges.VenueBybit:   bybit,
	}, []exchanges.Venue{exchanges.VenueBinance, exchanges.VenueBybit})

	candles, venue, err := agg.FetchRace(context.Background(), exchanges.FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, exchanges.VenueBybit, venue)
	assert.Len(t, candles, 100)
}

func TestFetchParallelCollectsAll(t *testing.T) {
	binance := &stubClient{venue: exchanges.VenueBinance, candles: seriesOf(100)}
	bybit := &stubClient{venue: exchanges.VenueBybit, candles: seriesOf(100)}
	kucoin := &stubClient{venue: exchanges.VenueKuCoin, err: errors.New("HTTP 500")}

	agg, _, _ := newTestAggregator(map[exchanges.Venue]exchanges.Client{
		exchanges.VenueBinance: binance,
		exchanges.VenueBybit:   bybit,
		exchanges.VenueKuCoin:  kucoin,
	}, []exchanges.Venue{exchanges.VenueBinance, exchanges.VenueBybit, exchanges.VenueKuCoin})

	results := agg.FetchParallel(context.Background(), exchanges.FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 100,
	})

	assert.Len(t, results, 2)
	assert.Contains(t, results, exchanges.VenueBinance)
	assert.Contains(t, results, exchanges.VenueBybit)
	assert.NotContains(t, results, exchanges.VenueKuCoin)
}

func TestCurrentPriceFallback(t *testing.T) {
	binance := &stubClient{venue: exchanges.VenueBinance, err: errors.New("HTTP 500")}
	bybit := &stubClient{venue: exchanges.VenueBybit}

	agg, _, _ := newTestAggregator(map[exchanges.Venue]exchanges.Client{
		exchanges.VenueBinance: binance,
		exchanges.VenueBybit:   bybit,
	}, []exchanges.Venue{exchanges.VenueBinance, exchanges.VenueBybit})

	price, venue, err := agg.CurrentPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, exchanges.VenueBybit, venue)
	assert.Equal(t, 100.0, price.Price)
}
