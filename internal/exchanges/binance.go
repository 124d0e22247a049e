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

// BinanceClient fetches market data from the Binance spot REST API.
// Pair format: <SYM>USDT. Kline timestamps are milliseconds.
type BinanceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var binanceIntervals = map[core.Timeframe]string{
	core.TF1m: "1m", core.TF3m: "3m", core.TF5m: "5m", core.TF15m: "15m",
	core.TF30m: "30m", core.TF1h: "1h", core.TF2h: "2h", core.TF4h: "4h",
	core.TF6h: "6h", core.TF8h: "8h", core.TF12h: "12h", core.TF1d: "1d",
	core.TF3d: "3d", core.TF1w: "1w",
}

func NewBinanceClient(opts ClientOptions) *BinanceClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("binance"),
	}
}

func (c *BinanceClient) Venue() Venue { return VenueBinance }

func (c *BinanceClient) pair(symbol string) string {
	return strings.ToUpper(symbol) + "USDT"
}

func (c *BinanceClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	interval, ok := binanceIntervals[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("binance does not support timeframe %s", opts.Timeframe)
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.baseURL, c.pair(opts.Symbol), interval, opts.Limit)
	if opts.StartTime > 0 {
		url += fmt.Sprintf("&startTime=%d", opts.StartTime*1000)
	}
	if opts.EndTime > 0 {
		url += fmt.Sprintf("&endTime=%d", opts.EndTime*1000)
	}

	var raw [][]interface{}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("binance returned empty kline list for %s %s", opts.Symbol, opts.Timeframe)
	}

	candles := make([]core.Candle, 0, len(raw))
	for _, kline := range raw {
		if len(kline) < 6 {
			continue
		}
		openTime, ok := kline[0].(float64)
		if !ok {
			return nil, fmt.Errorf("invalid response: non-numeric open time")
		}
		open, _ := strconv.ParseFloat(asString(kline[1]), 64)
		high, _ := strconv.ParseFloat(asString(kline[2]), 64)
		low, _ := strconv.ParseFloat(asString(kline[3]), 64)
		close_, _ := strconv.ParseFloat(asString(kline[4]), 64)
		volume, _ := strconv.ParseFloat(asString(kline[5]), 64)

		candles = append(candles, core.Candle{
			Timestamp: time.Unix(int64(openTime)/1000, 0).UTC(),
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

func (c *BinanceClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		Price string `json:"price"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.PricePoint{}, err
	}

	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil {
		return core.PricePoint{}, fmt.Errorf("invalid response: bad price %q", raw.Price)
	}
	return core.PricePoint{Price: price, Timestamp: time.Now().UTC()}, nil
}

func (c *BinanceClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}

	last, _ := strconv.ParseFloat(raw.LastPrice, 64)
	change, _ := strconv.ParseFloat(raw.PriceChangePercent, 64)
	high, _ := strconv.ParseFloat(raw.HighPrice, 64)
	low, _ := strconv.ParseFloat(raw.LowPrice, 64)
	volume, _ := strconv.ParseFloat(raw.Volume, 64)
	quoteVolume, _ := strconv.ParseFloat(raw.QuoteVolume, 64)

	return core.DayStats{
		Symbol:         strings.ToUpper(symbol),
		LastPrice:      last,
		PriceChangePct: change,
		HighPrice:      high,
		LowPrice:       low,
		Volume:         volume,
		QuoteVolume:    quoteVolume,
	}, nil
}

func (c *BinanceClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/api/v3/exchangeInfo", c.baseURL)

	var raw struct {
		Symbols []struct {
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Status     string `json:"status"`
		} `json:"symbols"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}

	var symbols []string
	for _, s := range raw.Symbols {
		if s.QuoteAsset == "USDT" && s.Status == "TRADING" {
			symbols = append(symbols, s.BaseAsset)
		}
	}
	return symbols, nil
}

// asString tolerates Binance returning numeric fields as either strings or
// raw numbers depending on endpoint version.
func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
