package exchanges

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
)

// CoinbaseClient fetches market data from the Coinbase Exchange REST API.
// Pair format: <SYM>-USD. Candle timestamps are seconds and the tuple order
// is [ts, low, high, open, close, volume], newest-first. Only a subset of
// granularities is supported.
type CoinbaseClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var coinbaseGranularities = map[core.Timeframe]int{
	core.TF1m:  60,
	core.TF5m:  300,
	core.TF15m: 900,
	core.TF1h:  3600,
	core.TF6h:  21600,
	core.TF1d:  86400,
}

func NewCoinbaseClient(opts ClientOptions) *CoinbaseClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.exchange.coinbase.com"
	}
	return &CoinbaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("coinbase"),
	}
}

func (c *CoinbaseClient) Venue() Venue { return VenueCoinbase }

func (c *CoinbaseClient) pair(symbol string) string {
	return strings.ToUpper(symbol) + "-USD"
}

func (c *CoinbaseClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	granularity, ok := coinbaseGranularities[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("coinbase does not support timeframe %s", opts.Timeframe)
	}

	url := fmt.Sprintf("%s/products/%s/candles?granularity=%d",
		c.baseURL, c.pair(opts.Symbol), granularity)
	if opts.StartTime > 0 {
		url += "&start=" + time.Unix(opts.StartTime, 0).UTC().Format(time.RFC3339)
	}
	if opts.EndTime > 0 {
		url += "&end=" + time.Unix(opts.EndTime, 0).UTC().Format(time.RFC3339)
	}

	var raw [][]float64
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("coinbase returned empty candle list for %s %s", opts.Symbol, opts.Timeframe)
	}

	candles := make([]core.Candle, 0, len(raw))
	for _, kline := range raw {
		if len(kline) < 6 {
			continue
		}
		// Tuple order is [ts, low, high, open, close, volume]
		candles = append(candles, core.Candle{
			Timestamp: time.Unix(int64(kline[0]), 0).UTC(),
			Low:       kline[1],
			High:      kline[2],
			Open:      kline[3],
			Close:     kline[4],
			Volume:    kline[5],
		})
	}

	core.SortCandles(candles)

	if opts.Limit > 0 && len(candles) > opts.Limit {
		candles = candles[len(candles)-opts.Limit:]
	}
	return candles, nil
}

func (c *CoinbaseClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	url := fmt.Sprintf("%s/products/%s/ticker", c.baseURL, c.pair(symbol))

	var raw struct {
		Price string `json:"price"`
		Time  string `json:"time"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.PricePoint{}, err
	}

	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil {
		return core.PricePoint{}, fmt.Errorf("invalid response: bad price %q", raw.Price)
	}
	ts, err := time.Parse(time.RFC3339, raw.Time)
	if err != nil {
		ts = time.Now().UTC()
	}
	return core.PricePoint{Price: price, Timestamp: ts}, nil
}

func (c *CoinbaseClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/products/%s/stats", c.baseURL, c.pair(symbol))

	var raw struct {
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Last   string `json:"last"`
		Volume string `json:"volume"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}

	open, _ := strconv.ParseFloat(raw.Open, 64)
	high, _ := strconv.ParseFloat(raw.High, 64)
	low, _ := strconv.ParseFloat(raw.Low, 64)
	last, _ := strconv.ParseFloat(raw.Last, 64)
	volume, _ := strconv.ParseFloat(raw.Volume, 64)

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

func (c *CoinbaseClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/products", c.baseURL)

	var raw []struct {
		BaseCurrency  string `json:"base_currency"`
		QuoteCurrency string `json:"quote_currency"`
		Status        string `json:"status"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}

	var symbols []string
	for _, p := range raw {
		if p.QuoteCurrency == "USD" && p.Status == "online" {
			symbols = append(symbols, p.BaseCurrency)
		}
	}
	return symbols, nil
}
