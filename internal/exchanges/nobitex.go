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

// NobitexClient fetches market data from the Nobitex REST API (RLS market).
// Pair format: <SYM>RLS. The history endpoint returns parallel arrays
// (t/o/h/l/c/v) in TradingView UDF form with second timestamps, ascending.
// Prices are Iranian Rial; the evaluator's unit-mismatch guard catches
// journeys accidentally mixed with USDT entries.
type NobitexClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var nobitexResolutions = map[core.Timeframe]string{
	core.TF1m: "1", core.TF5m: "5", core.TF15m: "15", core.TF30m: "30",
	core.TF1h: "60", core.TF4h: "240", core.TF6h: "360", core.TF12h: "720",
	core.TF1d: "D",
}

func NewNobitexClient(opts ClientOptions) *NobitexClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.nobitex.ir"
	}
	return &NobitexClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("nobitex"),
	}
}

func (c *NobitexClient) Venue() Venue { return VenueNobitex }

func (c *NobitexClient) pair(symbol string) string {
	return strings.ToUpper(symbol) + "RLS"
}

func (c *NobitexClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	resolution, ok := nobitexResolutions[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("nobitex does not support timeframe %s", opts.Timeframe)
	}

	endTime := opts.EndTime
	if endTime == 0 {
		endTime = time.Now().Unix()
	}
	startTime := opts.StartTime
	if startTime == 0 {
		startTime = endTime - int64(opts.Limit)*int64(opts.Timeframe.Duration().Seconds())
	}

	url := fmt.Sprintf("%s/market/udf/history?symbol=%s&resolution=%s&from=%d&to=%d",
		c.baseURL, c.pair(opts.Symbol), resolution, startTime, endTime)

	var raw struct {
		Status string    `json:"s"`
		T      []int64   `json:"t"`
		O      []float64 `json:"o"`
		H      []float64 `json:"h"`
		L      []float64 `json:"l"`
		C      []float64 `json:"c"`
		V      []float64 `json:"v"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if raw.Status != "ok" {
		return nil, fmt.Errorf("nobitex returned status %q for %s %s", raw.Status, opts.Symbol, opts.Timeframe)
	}
	n := len(raw.T)
	if n == 0 {
		return nil, fmt.Errorf("nobitex returned empty history for %s %s", opts.Symbol, opts.Timeframe)
	}
	if len(raw.O) != n || len(raw.H) != n || len(raw.L) != n || len(raw.C) != n || len(raw.V) != n {
		return nil, fmt.Errorf("invalid response: ragged parallel arrays for %s", opts.Symbol)
	}

	candles := make([]core.Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, core.Candle{
			Timestamp: time.Unix(raw.T[i], 0).UTC(),
			Open:      raw.O[i],
			High:      raw.H[i],
			Low:       raw.L[i],
			Close:     raw.C[i],
			Volume:    raw.V[i],
		})
	}

	core.SortCandles(candles)

	if opts.Limit > 0 && len(candles) > opts.Limit {
		candles = candles[len(candles)-opts.Limit:]
	}
	return candles, nil
}

func (c *NobitexClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	stats, err := c.DayStats(ctx, symbol)
	if err != nil {
		return core.PricePoint{}, err
	}
	return core.PricePoint{Price: stats.LastPrice, Timestamp: time.Now().UTC()}, nil
}

func (c *NobitexClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/market/stats?srcCurrency=%s&dstCurrency=rls",
		c.baseURL, strings.ToLower(symbol))

	var raw struct {
		Status string `json:"status"`
		Stats  map[string]struct {
			Latest    string  `json:"latest"`
			DayChange string  `json:"dayChange"`
			DayHigh   string  `json:"dayHigh"`
			DayLow    string  `json:"dayLow"`
			Volume    string  `json:"volumeSrc"`
		} `json:"stats"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}
	if raw.Status != "ok" {
		return core.DayStats{}, fmt.Errorf("nobitex returned status %q for %s", raw.Status, symbol)
	}

	key := strings.ToLower(symbol) + "-rls"
	t, ok := raw.Stats[key]
	if !ok {
		return core.DayStats{}, fmt.Errorf("nobitex returned no stats for %s", symbol)
	}

	last, _ := strconv.ParseFloat(t.Latest, 64)
	change, _ := strconv.ParseFloat(t.DayChange, 64)
	high, _ := strconv.ParseFloat(t.DayHigh, 64)
	low, _ := strconv.ParseFloat(t.DayLow, 64)
	volume, _ := strconv.ParseFloat(t.Volume, 64)

	return core.DayStats{
		Symbol:         strings.ToUpper(symbol),
		LastPrice:      last,
		PriceChangePct: change,
		HighPrice:      high,
		LowPrice:       low,
		Volume:         volume,
	}, nil
}

func (c *NobitexClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/market/stats", c.baseURL)

	var raw struct {
		Status string                     `json:"status"`
		Stats  map[string]json.RawMessage `json:"stats"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if raw.Status != "ok" {
		return nil, fmt.Errorf("nobitex returned status %q", raw.Status)
	}

	var symbols []string
	for key := range raw.Stats {
		if strings.HasSuffix(key, "-rls") {
			symbols = append(symbols, strings.ToUpper(strings.TrimSuffix(key, "-rls")))
		}
	}
	return symbols, nil
}
