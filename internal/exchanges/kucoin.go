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

// KuCoinClient fetches market data from the KuCoin REST API.
// Pair format: <SYM>-USDT. Kline timestamps are seconds and the tuple order
// is [ts, open, close, high, low, volume] (OC-HL, not OHLC).
type KuCoinClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var kucoinIntervals = map[core.Timeframe]string{
	core.TF1m: "1min", core.TF3m: "3min", core.TF5m: "5min", core.TF15m: "15min",
	core.TF30m: "30min", core.TF1h: "1hour", core.TF2h: "2hour", core.TF4h: "4hour",
	core.TF6h: "6hour", core.TF8h: "8hour", core.TF12h: "12hour", core.TF1d: "1day",
	core.TF1w: "1week",
}

func NewKuCoinClient(opts ClientOptions) *KuCoinClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.kucoin.com"
	}
	return &KuCoinClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("kucoin"),
	}
}

func (c *KuCoinClient) Venue() Venue { return VenueKuCoin }

func (c *KuCoinClient) pair(symbol string) string {
	return strings.ToUpper(symbol) + "-USDT"
}

func (c *KuCoinClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	interval, ok := kucoinIntervals[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("kucoin does not support timeframe %s", opts.Timeframe)
	}

	url := fmt.Sprintf("%s/api/v1/market/candles?type=%s&symbol=%s",
		c.baseURL, interval, c.pair(opts.Symbol))
	if opts.StartTime > 0 {
		url += fmt.Sprintf("&startAt=%d", opts.StartTime)
	}
	if opts.EndTime > 0 {
		url += fmt.Sprintf("&endAt=%d", opts.EndTime)
	}

	var raw struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if raw.Code != "200000" {
		return nil, fmt.Errorf("kucoin error %s: %s", raw.Code, raw.Msg)
	}
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("kucoin returned empty candle list for %s %s", opts.Symbol, opts.Timeframe)
	}

	candles := make([]core.Candle, 0, len(raw.Data))
	for _, kline := range raw.Data {
		if len(kline) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(kline[0], 10, 64)
		open, _ := strconv.ParseFloat(kline[1], 64)
		close_, _ := strconv.ParseFloat(kline[2], 64)
		high, _ := strconv.ParseFloat(kline[3], 64)
		low, _ := strconv.ParseFloat(kline[4], 64)
		volume, _ := strconv.ParseFloat(kline[5], 64)

		candles = append(candles, core.Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close_,
			Volume:    volume,
		})
	}

	// KuCoin returns newest-first
	core.SortCandles(candles)

	if opts.Limit > 0 && len(candles) > opts.Limit {
		candles = candles[len(candles)-opts.Limit:]
	}
	return candles, nil
}

func (c *KuCoinClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	url := fmt.Sprintf("%s/api/v1/market/orderbook/level1?symbol=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		Code string `json:"code"`
		Data struct {
			Price string `json:"price"`
			Time  int64  `json:"time"`
		} `json:"data"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.PricePoint{}, err
	}
	if raw.Code != "200000" || raw.Data.Price == "" {
		return core.PricePoint{}, fmt.Errorf("kucoin returned no price for %s", symbol)
	}

	price, err := strconv.ParseFloat(raw.Data.Price, 64)
	if err != nil {
		return core.PricePoint{}, fmt.Errorf("invalid response: bad price %q", raw.Data.Price)
	}
	return core.PricePoint{Price: price, Timestamp: time.Unix(raw.Data.Time/1000, 0).UTC()}, nil
}

func (c *KuCoinClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/api/v1/market/stats?symbol=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		Code string `json:"code"`
		Data struct {
			Last       string `json:"last"`
			ChangeRate string `json:"changeRate"`
			High       string `json:"high"`
			Low        string `json:"low"`
			Vol        string `json:"vol"`
			VolValue   string `json:"volValue"`
		} `json:"data"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}
	if raw.Code != "200000" {
		return core.DayStats{}, fmt.Errorf("kucoin stats error for %s", symbol)
	}

	last, _ := strconv.ParseFloat(raw.Data.Last, 64)
	changeRate, _ := strconv.ParseFloat(raw.Data.ChangeRate, 64)
	high, _ := strconv.ParseFloat(raw.Data.High, 64)
	low, _ := strconv.ParseFloat(raw.Data.Low, 64)
	volume, _ := strconv.ParseFloat(raw.Data.Vol, 64)
	quoteVolume, _ := strconv.ParseFloat(raw.Data.VolValue, 64)

	return core.DayStats{
		Symbol:         strings.ToUpper(symbol),
		LastPrice:      last,
		PriceChangePct: changeRate * 100,
		HighPrice:      high,
		LowPrice:       low,
		Volume:         volume,
		QuoteVolume:    quoteVolume,
	}, nil
}

func (c *KuCoinClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/api/v2/symbols", c.baseURL)

	var raw struct {
		Code string `json:"code"`
		Data []struct {
			BaseCurrency  string `json:"baseCurrency"`
			QuoteCurrency string `json:"quoteCurrency"`
			EnableTrading bool   `json:"enableTrading"`
		} `json:"data"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}

	var symbols []string
	for _, s := range raw.Data {
		if s.QuoteCurrency == "USDT" && s.EnableTrading {
			symbols = append(symbols, s.BaseCurrency)
		}
	}
	return symbols, nil
}
