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

// OKXClient fetches market data from the OKX v5 REST API.
// Pair format: <SYM>-USDT. Kline timestamps are milliseconds, newest-first.
type OKXClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var okxBars = map[core.Timeframe]string{
	core.TF1m: "1m", core.TF3m: "3m", core.TF5m: "5m", core.TF15m: "15m",
	core.TF30m: "30m", core.TF1h: "1H", core.TF2h: "2H", core.TF4h: "4H",
	core.TF6h: "6H", core.TF12h: "12H", core.TF1d: "1D", core.TF3d: "3D",
	core.TF1w: "1W",
}

func NewOKXClient(opts ClientOptions) *OKXClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://www.okx.com"
	}
	return &OKXClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("okx"),
	}
}

func (c *OKXClient) Venue() Venue { return VenueOKX }

func (c *OKXClient) pair(symbol string) string {
	return strings.ToUpper(symbol) + "-USDT"
}

func (c *OKXClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	bar, ok := okxBars[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("okx does not support timeframe %s", opts.Timeframe)
	}

	url := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		c.baseURL, c.pair(opts.Symbol), bar, opts.Limit)
	if opts.EndTime > 0 {
		// OKX paginates backwards from `after` (exclusive, ms)
		url += fmt.Sprintf("&after=%d", opts.EndTime*1000)
	}
	if opts.StartTime > 0 {
		url += fmt.Sprintf("&before=%d", opts.StartTime*1000)
	}

	var raw struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if raw.Code != "0" {
		return nil, fmt.Errorf("okx error %s: %s", raw.Code, raw.Msg)
	}
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("okx returned empty candle data for %s %s", opts.Symbol, opts.Timeframe)
	}

	candles := make([]core.Candle, 0, len(raw.Data))
	for _, kline := range raw.Data {
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

func (c *OKXClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		Code string `json:"code"`
		Data []struct {
			Last string `json:"last"`
			TS   string `json:"ts"`
		} `json:"data"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.PricePoint{}, err
	}
	if raw.Code != "0" || len(raw.Data) == 0 {
		return core.PricePoint{}, fmt.Errorf("okx returned no ticker for %s", symbol)
	}

	price, err := strconv.ParseFloat(raw.Data[0].Last, 64)
	if err != nil {
		return core.PricePoint{}, fmt.Errorf("invalid response: bad price %q", raw.Data[0].Last)
	}
	ts, _ := strconv.ParseInt(raw.Data[0].TS, 10, 64)
	return core.PricePoint{Price: price, Timestamp: time.Unix(ts/1000, 0).UTC()}, nil
}

func (c *OKXClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", c.baseURL, c.pair(symbol))

	var raw struct {
		Code string `json:"code"`
		Data []struct {
			Last      string `json:"last"`
			Open24h   string `json:"open24h"`
			High24h   string `json:"high24h"`
			Low24h    string `json:"low24h"`
			Vol24h    string `json:"vol24h"`
			VolCcy24h string `json:"volCcy24h"`
		} `json:"data"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}
	if raw.Code != "0" || len(raw.Data) == 0 {
		return core.DayStats{}, fmt.Errorf("okx returned no ticker for %s", symbol)
	}

	t := raw.Data[0]
	last, _ := strconv.ParseFloat(t.Last, 64)
	open24h, _ := strconv.ParseFloat(t.Open24h, 64)
	high, _ := strconv.ParseFloat(t.High24h, 64)
	low, _ := strconv.ParseFloat(t.Low24h, 64)
	volume, _ := strconv.ParseFloat(t.Vol24h, 64)
	quoteVolume, _ := strconv.ParseFloat(t.VolCcy24h, 64)

	var changePct float64
	if open24h > 0 {
		changePct = (last - open24h) / open24h * 100
	}

	return core.DayStats{
		Symbol:         strings.ToUpper(symbol),
		LastPrice:      last,
		PriceChangePct: changePct,
		HighPrice:      high,
		LowPrice:       low,
		Volume:         volume,
		QuoteVolume:    quoteVolume,
	}, nil
}

func (c *OKXClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/api/v5/public/instruments?instType=SPOT", c.baseURL)

	var raw struct {
		Code string `json:"code"`
		Data []struct {
			BaseCcy  string `json:"baseCcy"`
			QuoteCcy string `json:"quoteCcy"`
			State    string `json:"state"`
		} `json:"data"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}

	var symbols []string
	for _, s := range raw.Data {
		if s.QuoteCcy == "USDT" && s.State == "live" {
			symbols = append(symbols, s.BaseCcy)
		}
	}
	return symbols, nil
}
