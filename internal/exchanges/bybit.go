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

// BybitClient fetches market data from the Bybit v5 REST API.
// Pair format: <SYM>USDT. Kline timestamps are milliseconds and the tuple is
// [start, open, high, low, close, volume, turnover], newest-first.
type BybitClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var bybitIntervals = map[core.Timeframe]string{
	core.TF1m: "1", core.TF3m: "3", core.TF5m: "5", core.TF15m: "15",
	core.TF30m: "30", core.TF1h: "60", core.TF2h: "120", core.TF4h: "240",
	core.TF6h: "360", core.TF12h: "720", core.TF1d: "D", core.TF1w: "W",
}

func NewBybitClient(opts ClientOptions) *BybitClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	return &BybitClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("bybit"),
	}
}

func (c *BybitClient) Venue() Venue { return VenueBybit }

func (c *BybitClient) pair(symbol string) string {
	return strings.ToUpper(symbol) + "USDT"
}

func (c *BybitClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	interval, ok := bybitIntervals[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("bybit does not support timeframe %s", opts.Timeframe)
	}

	url := fmt.Sprintf("%s/v5/market/kline?category=spot&symbol=%s&interval=%s&limit=%d",
		c.baseURL, c.pair(opts.Symbol), interval, opts.Limit)
	if opts.StartTime > 0 {
		url += fmt.Sprintf("&start=%d", opts.StartTime*1000)
	}
	if opts.EndTime > 0 {
		url += fmt.Sprintf("&end=%d", opts.EndTime*1000)
	}

	var raw struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if raw.RetCode != 0 {
		return nil, fmt.Errorf("bybit error %d: %s", raw.RetCode, raw.RetMsg)
	}
	if len(raw.Result.List) == 0 {
		return nil, fmt.Errorf("bybit returned empty kline list for %s %s", opts.Symbol, opts.Timeframe)
	}

	candles := make([]core.Candle, 0, len(raw.Result.List))
	for _, kline := range raw.Result.List {
		if len(kline) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(kline[0], 10, 64)
		open, _ := strconv.ParseFloat(kline[1], 64)
		high, _ := strconv.ParseFloat(kline[2], 64)
		low, _ := strconv.ParseFloat(kline[3], 64)
		close_, _ := strconv.ParseFloat(kline[4], 64)
		volume, _ := strconv.ParseFloat(kline[5], 64)

		candles = append(candles, core.Candle{
			Timestamp: time.Unix(ts/1000, 0).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close_,
			Volume:    volume,
		})
	}

	core.SortCandles(candles)
	return candles, nil
}

func (c *BybitClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	stats, err := c.tickers(ctx, symbol)
	if err != nil {
		return core.PricePoint{}, err
	}
	return core.PricePoint{Price: stats.LastPrice, Timestamp: time.Now().UTC()}, nil
}

func (c *BybitClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	return c.tickers(ctx, symbol)
}

func (c *BybitClient) tickers(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/v5/market/tickers?category=spot&symbol=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				LastPrice    string `json:"lastPrice"`
				Price24hPcnt string `json:"price24hPcnt"`
				HighPrice24h string `json:"highPrice24h"`
				LowPrice24h  string `json:"lowPrice24h"`
				Volume24h    string `json:"volume24h"`
				Turnover24h  string `json:"turnover24h"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}
	if raw.RetCode != 0 || len(raw.Result.List) == 0 {
		return core.DayStats{}, fmt.Errorf("bybit ticker error for %s: %s", symbol, raw.RetMsg)
	}

	t := raw.Result.List[0]
	last, _ := strconv.ParseFloat(t.LastPrice, 64)
	changeRatio, _ := strconv.ParseFloat(t.Price24hPcnt, 64)
	high, _ := strconv.ParseFloat(t.HighPrice24h, 64)
	low, _ := strconv.ParseFloat(t.LowPrice24h, 64)
	volume, _ := strconv.ParseFloat(t.Volume24h, 64)
	turnover, _ := strconv.ParseFloat(t.Turnover24h, 64)

	return core.DayStats{
		Symbol:         strings.ToUpper(symbol),
		LastPrice:      last,
		PriceChangePct: changeRatio * 100,
		HighPrice:      high,
		LowPrice:       low,
		Volume:         volume,
		QuoteVolume:    turnover,
	}, nil
}

func (c *BybitClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/v5/market/instruments-info?category=spot", c.baseURL)

	var raw struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []struct {
				BaseCoin  string `json:"baseCoin"`
				QuoteCoin string `json:"quoteCoin"`
				Status    string `json:"status"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}

	var symbols []string
	for _, s := range raw.Result.List {
		if s.QuoteCoin == "USDT" && s.Status == "Trading" {
			symbols = append(symbols, s.BaseCoin)
		}
	}
	return symbols, nil
}
