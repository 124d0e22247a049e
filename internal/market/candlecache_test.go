package market

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalforge/internal/core"
)

func seriesOf(n int) []core.Candle {
	base := time.Unix(1700000000, 0)
	out := make([]core.Candle, 0, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		out = append(out, core.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1,
		})
	}
	return out
}

func TestCandleCacheSingleFlightFill(t *testing.T) {
	// S4: two concurrent callers, one underlying fetch, identical tails.
	cache := NewCandleCache(10*time.Minute, 1000, false, nil)
	var fetches int64

	fetch := func(tf core.Timeframe, limit int) ([]core.Candle, error) {
		atomic.AddInt64(&fetches, 1)
		assert.Equal(t, 1000, limit, "cache fills at the max fetch limit")
		time.Sleep(200 * time.Millisecond)
		return seriesOf(1000), nil
	}

	var wg sync.WaitGroup
	results := make([][]core.Candle, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			candles, err := cache.Get("BTC", core.TF1h, 100, fetch)
			require.NoError(t, err)
			results[i] = candles
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&fetches))
	require.Len(t, results[0], 100)
	assert.Equal(t, results[0], results[1])
	// The tail is the most recent 100 of the 1000 stored.
	assert.Equal(t, seriesOf(1000)[900].Timestamp, results[0][0].Timestamp)
}

func TestCandleCacheHitSkipsFetch(t *testing.T) {
	cache := NewCandleCache(10*time.Minute, 1000, false, nil)
	var fetches int64

	fetch := func(tf core.Timeframe, limit int) ([]core.Candle, error) {
		atomic.AddInt64(&fetches, 1)
		return seriesOf(500), nil
	}

	_, err := cache.Get("BTC", core.TF1h, 50, fetch)
	require.NoError(t, err)
	candles, err := cache.Get("BTC", core.TF1h, 200, fetch)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&fetches), "second call serves from cache")
	assert.Len(t, candles, 200)
}

func TestCandleCacheTTLEviction(t *testing.T) {
	cache := NewCandleCache(10*time.Minute, 1000, false, nil)

	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Get("BTC", core.TF1h, 10, func(core.Timeframe, int) ([]core.Candle, error) {
		return seriesOf(20), nil
	})
	require.NoError(t, err)

	cache.now = func() time.Time { return now.Add(11 * time.Minute) }
	assert.Equal(t, 1, cache.Evict())

	var fetches int64
	_, err = cache.Get("BTC", core.TF1h, 10, func(core.Timeframe, int) ([]core.Candle, error) {
		atomic.AddInt64(&fetches, 1)
		return seriesOf(20), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetches, "expired entry triggers a refetch")
}

func TestDeriveTimeframe(t *testing.T) {
	base := time.Unix(1700000000, 0)
	fine := []core.Candle{
		{Timestamp: base, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1},
		{Timestamp: base.Add(5 * time.Minute), Open: 11, High: 15, Low: 10, Close: 14, Volume: 2},
		{Timestamp: base.Add(10 * time.Minute), Open: 14, High: 14, Low: 8, Close: 9, Volume: 3},
		{Timestamp: base.Add(15 * time.Minute), Open: 9, High: 13, Low: 9, Close: 12, Volume: 4},
		// Partial trailing group is dropped.
		{Timestamp: base.Add(20 * time.Minute), Open: 12, High: 12, Low: 12, Close: 12, Volume: 5},
	}

	derived, err := DeriveTimeframe(fine, core.TF5m, core.TF15m)
	require.NoError(t, err)
	require.Len(t, derived, 1)

	candle := derived[0]
	assert.Equal(t, base, candle.Timestamp)
	assert.Equal(t, 10.0, candle.Open)
	assert.Equal(t, 9.0, candle.Close)
	assert.Equal(t, 15.0, candle.High)
	assert.Equal(t, 8.0, candle.Low)
	assert.Equal(t, 6.0, candle.Volume)
}

func TestDeriveTimeframeRejectsNonMultiple(t *testing.T) {
	_, err := DeriveTimeframe(seriesOf(10), core.TF5m, core.TF3m)
	assert.Error(t, err)
}
