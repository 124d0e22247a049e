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

// GateioClient fetches market data from the Gate.io v4 REST API.
// Pair format: <SYM>_USDT. Candlestick tuples are
// [ts, quote volume, close, high, low, open, base volume, ...] with second
// timestamps, ascending.
type GateioClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var gateioIntervals = map[core.Timeframe]string{
	core.TF1m: "1m", core.TF5m: "5m", core.TF15m: "15m", core.TF30m: "30m",
	core.TF1h: "1h", core.TF4h: "4h", core.TF8h: "8h", core.TF1d: "1d",
	core.TF1w: "7d",
}

func NewGateioClient(opts ClientOptions) *GateioClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.gateio.ws"
	}
	return &GateioClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts.Timeout),
		logger:     opts.logger("gateio"),
	}
}

func (c *GateioClient) Venue() Venue { return VenueGateio }

func (c *GateioClient) pair(symbol string) string {
	return strings.ToUpper(symbol) + "_USDT"
}

func (c *GateioClient) FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error) {
	interval, ok := gateioIntervals[opts.Timeframe]
	if !ok {
		return nil, fmt.Errorf("gateio does not support timeframe %s", opts.Timeframe)
	}

	url := fmt.Sprintf("%s/api/v4/spot/candlesticks?currency_pair=%s&interval=%s&limit=%d",
		c.baseURL, c.pair(opts.Symbol), interval, opts.Limit)
	if opts.StartTime > 0 {
		url += fmt.Sprintf("&from=%d", opts.StartTime)
	}
	if opts.EndTime > 0 {
		url += fmt.Sprintf("&to=%d", opts.EndTime)
	}

	var raw [][]string
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("gateio returned empty candlestick list for %s %s", opts.Symbol, opts.Timeframe)
	}

	candles := make([]core.Candle, 0, len(raw))
	for _, kline := range raw {
		if len(kline) < 6 {
			continue
		}
		// Tuple order is [ts, quote volume, close, high, low, open, ...]
		ts, _ := strconv.ParseInt(kline[0], 10, 64)
		quoteVolume, _ := strconv.ParseFloat(kline[1], 64)
		close_, _ := strconv.ParseFloat(kline[2], 64)
		high, _ := strconv.ParseFloat(kline[3], 64)
		low, _ := strconv.ParseFloat(kline[4], 64)
		open, _ := strconv.ParseFloat(kline[5], 64)

		volume := quoteVolume
		if len(kline) >= 7 {
			if baseVolume, err := strconv.ParseFloat(kline[6], 64); err == nil {
				volume = baseVolume
			}
		}

		candles = append(candles, core.Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
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

func (c *GateioClient) CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error) {
	stats, err := c.DayStats(ctx, symbol)
	if err != nil {
		return core.PricePoint{}, err
	}
	return core.PricePoint{Price: stats.LastPrice, Timestamp: time.Now().UTC()}, nil
}

func (c *GateioClient) DayStats(ctx context.Context, symbol string) (core.DayStats, error) {
	url := fmt.Sprintf("%s/api/v4/spot/tickers?currency_pair=%s", c.baseURL, c.pair(symbol))

	var raw []struct {
		Last             string `json:"last"`
		ChangePercentage string `json:"change_percentage"`
		High24h          string `json:"high_24h"`
		Low24h           string `json:"low_24h"`
		BaseVolume       string `json:"base_volume"`
		QuoteVolume      string `json:"quote_volume"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return core.DayStats{}, err
	}
	if len(raw) == 0 {
		return core.DayStats{}, fmt.Errorf("gateio returned no ticker for %s", symbol)
	}

	t := raw[0]
	last, _ := strconv.ParseFloat(t.Last, 64)
	changePct, _ := strconv.ParseFloat(t.ChangePercentage, 64)
	high, _ := strconv.ParseFloat(t.High24h, 64)
	low, _ := strconv.ParseFloat(t.Low24h, 64)
	volume, _ := strconv.ParseFloat(t.BaseVolume, 64)
	quoteVolume, _ := strconv.ParseFloat(t.QuoteVolume, 64)

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

func (c *GateioClient) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/api/v4/spot/currency_pairs", c.baseURL)

	var raw []struct {
		Base        string `json:"base"`
		Quote       string `json:"quote"`
		TradeStatus string `json:"trade_status"`
	}
	if err := httpGetJSON(ctx, c.httpClient, url, &raw); err != nil {
		return nil, err
	}

	var symbols []string
	for _, p := range raw {
		if p.Quote == "USDT" && p.TradeStatus == "tradable" {
			symbols = append(symbols, p.Base)
		}
	}
	return symbols, nil
}
