package exchanges

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
)

// KrakenClient fetches market data from the Kraken public REST API.
// Kraken uses its own asset codes (XBT for BTC); the OHLC tuple is
// [ts, open, high, low, close, vwap, volume, count] with second timestamps,
// already ascending.
type KrakenClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var krakenIntervals = map[core.Timeframe]int{
	core.TF1m:  1,
	core.TF5m:  5,
	core.TF15m: 15,
	core.TF30m: 30,
	core.TF1h:  60,
	core.TF4h:  240,
	core.TF1d:  1440,
	core.TF1w:  10080,
}

// Kraken's legacy asset codes for the majors.
var krakenAssetCodes = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

func NewKrakenClient(opts ClientOptions) *KrakenClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.kraken.com"
	}
	return &KrakenClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("kraken"),
	}
}

func (c *KrakenClient) Venue() Venue { return VenueKraken }

func (c *KrakenClient) pair(symbol string) string {
	base := strings.ToUpper(symbol)
	if code, ok := krakenAssetCodes[base]; ok {
		base = code
	}
	return base + "USD"
}

func (c *KrakenClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	interval, ok := krakenIntervals[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("kraken does not support timeframe %s", opts.Timeframe)
	}

	url := fmt.Sprintf("%s/0/public/OHLC?pair=%s&interval=%d",
		c.baseURL, c.pair(opts.Symbol), interval)
	if opts.StartTime > 0 {
		url += fmt.Sprintf("&since=%d", opts.StartTime)
	}

	var raw struct {
		Error  []string                   `json:"error"`
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if len(raw.Error) > 0 {
		return nil, fmt.Errorf("kraken error: %s", strings.Join(raw.Error, "; "))
	}

	// The result map contains the OHLC rows under the resolved pair name plus
	// a "last" cursor; take the first array-valued entry.
	var rows [][]interface{}
	for key, val := range raw.Result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(val, &rows); err != nil {
			return nil, fmt.Errorf("invalid response: %w", err)
		}
		break
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("kraken returned empty OHLC data for %s %s", opts.Symbol, opts.Timeframe)
	}

	candles := make([]core.Candle, 0, len(rows))
	for _, kline := range rows {
		if len(kline) < 7 {
			continue
		}
		ts, ok := kline[0].(float64)
		if !ok {
			return nil, fmt.Errorf("invalid response: non-numeric timestamp")
		}
		open, _ := strconv.ParseFloat(asString(kline[1]), 64)
		high, _ := strconv.ParseFloat(asString(kline[2]), 64)
		low, _ := strconv.ParseFloat(asString(kline[3]), 64)
		close_, _ := strconv.ParseFloat(asString(kline[4]), 64)
		volume, _ := strconv.ParseFloat(asString(kline[6]), 64)

		candles = append(candles, core.Candle{
			Timestamp: time.Unix(int64(ts), 0).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close_,
			Volume:    volume,
		})
	}

	core.SortCandles(candles)

	if opts.Limit > 0 && len(candles) > opts.Limit {
		candles = candles[len(candles)-opts.Limit:]
	}
	return candles, nil
}

func (c *KrakenClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	stats, err := c.DayStats(ctx, symbol)
	if err != nil {
		return core.PricePoint{}, err
	}
	return core.PricePoint{Price: stats.LastPrice, Timestamp: time.Now().UTC()}, nil
}

func (c *KrakenClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/0/public/Ticker?pair=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			C []string `json:"c"` // last trade [price, lot volume]
			H []string `json:"h"` // high [today, 24h]
			L []string `json:"l"` // low [today, 24h]
			O string   `json:"o"` // today's opening price
			V []string `json:"v"` // volume [today, 24h]
		} `json:"result"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}
	if len(raw.Error) > 0 {
		return core.DayStats{}, fmt.Errorf("kraken error: %s", strings.Join(raw.Error, "; "))
	}

	for _, t := range raw.Result {
		if len(t.C) == 0 {
			break
		}
		last, _ := strconv.ParseFloat(t.C[0], 64)
		open, _ := strconv.ParseFloat(t.O, 64)

		var high, low, volume float64
		if len(t.H) > 1 {
			high, _ = strconv.ParseFloat(t.H[1], 64)
		}
		if len(t.L) > 1 {
			low, _ = strconv.ParseFloat(t.L[1], 64)
		}
		if len(t.V) > 1 {
			volume, _ = strconv.ParseFloat(t.V[1], 64)
		}

		var changePct float64
		if open > 0 {
			changePct = (last - open) / open * 100
		}

		return core.DayStats{
			Symbol:         strings.ToUpper(symbol),
			LastPrice:      last,
			PriceChangePct: changePct,
			HighPrice:      high,
			LowPrice:       low,
			Volume:         volume,
		}, nil
	}

	return core.DayStats{}, fmt.Errorf("kraken returned no ticker for %s", symbol)
}

func (c *KrakenClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/0/public/AssetPairs", c.baseURL)

	var raw struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			Base  string `json:"base"`
			Quote string `json:"quote"`
		} `json:"result"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if len(raw.Error) > 0 {
		return nil, fmt.Errorf("kraken error: %s", strings.Join(raw.Error, "; "))
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, p := range raw.Result {
		if p.Quote != "ZUSD" && p.Quote != "USD" {
			continue
		}
		base := strings.TrimPrefix(p.Base, "X")
		if base == "XBT" {
			base = "BTC"
		}
		if !seen[base] {
			seen[base] = true
			symbols = append(symbols, base)
		}
	}
	return symbols, nil
}
