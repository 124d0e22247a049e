package exchanges

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
)

// TabdealClient fetches market data from the Tabdeal REST API (IRT market).
// Pair format: <SYM>IRT. Candles come back in object form with second
// timestamps. Prices are Iranian Toman; the evaluator's unit-mismatch guard
// catches journeys accidentally mixed with USDT entries.
type TabdealClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var tabdealResolutions = map[core.Timeframe]string{
	core.TF1m: "1", core.TF5m: "5", core.TF15m: "15", core.TF30m: "30",
	core.TF1h: "60", core.TF4h: "240", core.TF1d: "1D",
}

func NewTabdealClient(opts ClientOptions) *TabdealClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.tabdeal.org"
	}
	return &TabdealClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("tabdeal"),
	}
}

func (c *TabdealClient) Venue() Venue { return VenueTabdeal }

func (c *TabdealClient) pair(symbol string) string {
	return strings.ToUpper(symbol) + "IRT"
}

type tabdealCandle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open,string"`
	High   float64 `json:"high,string"`
	Low    float64 `json:"low,string"`
	Close  float64 `json:"close,string"`
	Volume float64 `json:"volume,string"`
}

func (c *TabdealClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	resolution, ok := tabdealResolutions[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("tabdeal does not support timeframe %s", opts.Timeframe)
	}

	url := fmt.Sprintf("%s/r/api/v1/klines?symbol=%s&resolution=%s&limit=%d",
		c.baseURL, c.pair(opts.Symbol), resolution, opts.Limit)
	if opts.StartTime > 0 {
		url += fmt.Sprintf("&from=%d", opts.StartTime)
	}
	if opts.EndTime > 0 {
		url += fmt.Sprintf("&to=%d", opts.EndTime)
	}

	var raw struct {
		Status  string          `json:"status"`
		Candles []tabdealCandle `json:"candles"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if raw.Status != "" && raw.Status != "ok" {
		return nil, fmt.Errorf("tabdeal error status %q for %s", raw.Status, opts.Symbol)
	}
	if len(raw.Candles) == 0 {
		return nil, fmt.Errorf("tabdeal returned empty candle list for %s %s", opts.Symbol, opts.Timeframe)
	}

	candles := make([]core.Candle, 0, len(raw.Candles))
	for _, k := range raw.Candles {
		candles = append(candles, core.Candle{
			Timestamp: time.Unix(k.Time, 0).UTC(),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		})
	}

	core.SortCandles(candles)

	if opts.Limit > 0 && len(candles) > opts.Limit {
		candles = candles[len(candles)-opts.Limit:]
	}
	return candles, nil
}

func (c *TabdealClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	url := fmt.Sprintf("%s/r/api/v1/ticker/price?symbol=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		Price float64 `json:"price,string"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.PricePoint{}, err
	}
	if raw.Price == 0 {
		return core.PricePoint{}, fmt.Errorf("tabdeal returned no price for %s", symbol)
	}
	return core.PricePoint{Price: raw.Price, Timestamp: time.Now().UTC()}, nil
}

func (c *TabdealClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/r/api/v1/ticker/24hr?symbol=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		LastPrice          float64 `json:"lastPrice,string"`
		PriceChangePercent float64 `json:"priceChangePercent,string"`
		HighPrice          float64 `json:"highPrice,string"`
		LowPrice           float64 `json:"lowPrice,string"`
		Volume             float64 `json:"volume,string"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}

	return core.DayStats{
		Symbol:         strings.ToUpper(symbol),
		LastPrice:      raw.LastPrice,
		PriceChangePct: raw.PriceChangePercent,
		HighPrice:      raw.HighPrice,
		LowPrice:       raw.LowPrice,
		Volume:         raw.Volume,
	}, nil
}

func (c *TabdealClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/r/api/v1/symbols", c.baseURL)

	var raw struct {
		Symbols []struct {
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}

	var symbols []string
	for _, s := range raw.Symbols {
		if s.QuoteAsset == "IRT" {
			symbols = append(symbols, s.BaseAsset)
		}
	}
	return symbols, nil
}
