package exchanges

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalforge/internal/core"
)

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestBinanceFetchCandles(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		w.Write([]byte(`[
			[1700000000000,"100.0","105.0","99.0","103.0","12.5",1700003599999,"1287.5",10,"6.0","618.0","0"],
			[1700003600000,"103.0","106.0","102.0","104.0","8.0",1700007199999,"832.0",7,"4.0","416.0","0"]
		]`))
	})

	client := NewBinanceClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	first := candles[0]
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), first.Timestamp)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 105.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 103.0, first.Close)
	assert.Equal(t, 12.5, first.Volume)
	assert.True(t, candles[0].Timestamp.Before(candles[1].Timestamp))
	for _, c := range candles {
		assert.True(t, c.Valid())
	}
}

func TestBinanceUnsupportedTimeframeRejectedLocally(t *testing.T) {
	client := NewBinanceClient(ClientOptions{BaseURL: "http://localhost:0"})
	_, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.Timeframe("45m"), Limit: 10,
	})
	assert.Error(t, err)
}

func TestBinanceHTTPErrorSurfacesStatus(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	})

	client := NewBinanceClient(ClientOptions{BaseURL: server.URL})
	_, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "NOPE", Timeframe: core.TF1h, Limit: 10,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestKuCoinFetchCandlesOCHLOrder(t *testing.T) {
	// KuCoin tuples are [ts, open, close, high, low, volume], newest-first.
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1hour", r.URL.Query().Get("type"))
		w.Write([]byte(`{"code":"200000","data":[
			["1700003600","103.0","104.0","106.0","102.0","8.0","832.0"],
			["1700000000","100.0","103.0","105.0","99.0","12.5","1287.5"]
		]}`))
	})

	client := NewKuCoinClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	first := candles[0]
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), first.Timestamp, "response is re-sorted ascending")
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 103.0, first.Close)
	assert.Equal(t, 105.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 12.5, first.Volume)
}

func TestKuCoinErrorCode(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"400100","msg":"Unsupported trading pair"}`))
	})

	client := NewKuCoinClient(ClientOptions{BaseURL: server.URL})
	_, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "NOPE", Timeframe: core.TF1h, Limit: 10,
	})
	assert.Error(t, err)
}

func TestBybitFetchCandles(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "60", r.URL.Query().Get("interval"))
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			["1700003600000","103.0","106.0","102.0","104.0","8.0","832.0"],
			["1700000000000","100.0","105.0","99.0","103.0","12.5","1287.5"]
		]}}`))
	})

	client := NewBybitClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), candles[0].Timestamp)
	assert.Equal(t, 105.0, candles[0].High)
}

func TestOKXFetchCandles(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		assert.Equal(t, "1H", r.URL.Query().Get("bar"))
		w.Write([]byte(`{"code":"0","msg":"","data":[
			["1700003600000","103.0","106.0","102.0","104.0","8.0","832.0","832.0","1"],
			["1700000000000","100.0","105.0","99.0","103.0","12.5","1287.5","1287.5","1"]
		]}`))
	})

	client := NewOKXClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 103.0, candles[0].Close)
}

func TestCoinbaseFetchCandlesLHOCOrder(t *testing.T) {
	// Coinbase tuples are [ts, low, high, open, close, volume].
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/candles", r.URL.Path)
		assert.Equal(t, "3600", r.URL.Query().Get("granularity"))
		w.Write([]byte(`[
			[1700003600,102.0,106.0,103.0,104.0,8.0],
			[1700000000,99.0,105.0,100.0,103.0,12.5]
		]`))
	})

	client := NewCoinbaseClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	first := candles[0]
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 105.0, first.High)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 103.0, first.Close)
	assert.Equal(t, 12.5, first.Volume)
}

func TestGateioFetchCandlesReversedOrder(t *testing.T) {
	// Gate.io tuples are [ts, quote volume, close, high, low, open, base volume].
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC_USDT", r.URL.Query().Get("currency_pair"))
		w.Write([]byte(`[
			["1700000000","1287.5","103.0","105.0","99.0","100.0","12.5"],
			["1700003600","832.0","104.0","106.0","102.0","103.0","8.0"]
		]`))
	})

	client := NewGateioClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	first := candles[0]
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 103.0, first.Close)
	assert.Equal(t, 105.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 12.5, first.Volume, "base volume preferred over quote volume")
}

func TestKrakenFetchCandles(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/OHLC", r.URL.Path)
		assert.Equal(t, "XBTUSD", r.URL.Query().Get("pair"))
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":[
			[1700000000,"100.0","105.0","99.0","103.0","101.0","12.5",10],
			[1700003600,"103.0","106.0","102.0","104.0","103.5","8.0",7]
		],"last":1700003600}}`))
	})

	client := NewKrakenClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	// Volume is index 6, past the vwap column.
	assert.Equal(t, 12.5, candles[0].Volume)
}

func TestTabdealFetchCandlesObjectForm(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCIRT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"status":"ok","candles":[
			{"time":1700000000,"open":"100.0","high":"105.0","low":"99.0","close":"103.0","volume":"12.5"},
			{"time":1700003600,"open":"103.0","high":"106.0","low":"102.0","close":"104.0","volume":"8.0"}
		]}`))
	})

	client := NewTabdealClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 103.0, candles[0].Close)
}

func TestNobitexFetchCandlesParallelArrays(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCRLS", r.URL.Query().Get("symbol"))
		assert.Equal(t, "60", r.URL.Query().Get("resolution"))
		w.Write([]byte(`{"s":"ok",
			"t":[1700000000,1700003600],
			"o":[100.0,103.0],
			"h":[105.0,106.0],
			"l":[99.0,102.0],
			"c":[103.0,104.0],
			"v":[12.5,8.0]}`))
	})

	client := NewNobitexClient(ClientOptions{BaseURL: server.URL})
	candles, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 104.0, candles[1].Close)
}

func TestNobitexRaggedArraysRejected(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"s":"ok","t":[1700000000,1700003600],"o":[100.0],"h":[105.0],"l":[99.0],"c":[103.0],"v":[12.5]}`))
	})

	client := NewNobitexClient(ClientOptions{BaseURL: server.URL})
	_, err := client.FetchCandles(context.Background(), FetchOptions{
		Symbol: "BTC", Timeframe: core.TF1h, Limit: 2,
	})
	assert.Error(t, err)
}

func TestBinanceCurrentPrice(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"50123.45"}`))
	})

	client := NewBinanceClient(ClientOptions{BaseURL: server.URL})
	price, err := client.CurrentPrice(context.Background(), "BTC")

	require.NoError(t, err)
	assert.Equal(t, 50123.45, price.Price)
}

func TestBinanceDayStats(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		w.Write([]byte(`{"lastPrice":"50000","priceChangePercent":"2.5","highPrice":"51000","lowPrice":"48000","volume":"1200","quoteVolume":"60000000"}`))
	})

	client := NewBinanceClient(ClientOptions{BaseURL: server.URL})
	stats, err := client.DayStats(context.Background(), "BTC")

	require.NoError(t, err)
	assert.Equal(t, 50000.0, stats.LastPrice)
	assert.Equal(t, 2.5, stats.PriceChangePct)
}
