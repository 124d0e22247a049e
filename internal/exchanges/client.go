package exchanges

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
)

// Venue identifies a supported exchange.
type Venue string

const (
	VenueBinance  Venue = "binance"
	VenueKuCoin   Venue = "kucoin"
	VenueBybit    Venue = "bybit"
	VenueOKX      Venue = "okx"
	VenueCoinbase Venue = "coinbase"
	VenueKraken   Venue = "kraken"
	VenueGateio   Venue = "gateio"
	VenueTabdeal  Venue = "tabdeal"
	VenueNobitex  Venue = "nobitex"
)

// AllVenues lists every adapter this build ships, in default priority order.
var AllVenues = []Venue{
	VenueBinance, VenueKuCoin, VenueBybit, VenueOKX,
	VenueCoinbase, VenueKraken, VenueGateio, VenueTabdeal, VenueNobitex,
}

// FetchOptions is the canonical candle request. StartTime/EndTime are Unix
// seconds; zero means unset.
type FetchOptions struct {
	Symbol    string
	Timeframe core.Timeframe
	Limit     int
	StartTime int64
	EndTime   int64
}

// Client is the per-venue adapter. Every method translates the canonical
// request into the venue's own URL/symbol/timeframe dialect and normalizes
// the response. Candle sequences come back ascending by time. All failures
// (HTTP errors, unsupported timeframes, malformed bodies, empty results)
// surface as errors, never panics.
type Client interface {
	Venue() Venue
	FetchCandles(ctx context.Context, opts FetchOptions) ([]core.Candle, error)
	CurrentPrice(ctx context.Context, symbol string) (core.PricePoint, error)
	DayStats(ctx context.Context, symbol string) (core.DayStats, error)
	ListSymbols(ctx context.Context) ([]string, error)
}

// httpGetJSON performs a GET and decodes the JSON body into dest. Non-2xx
// statuses become errors carrying the status code so the aggregator can
// classify symbol-not-found responses.
func httpGetJSON(ctx context.Context, client *http.Client, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// ClientOptions configures a venue adapter.
type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

func (o ClientOptions) logger(name string) *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger.Named(name)
}

// NewClient constructs the adapter for a venue.
func NewClient(venue Venue, opts ClientOptions) (Client, error) {
	switch venue {
	case VenueBinance:
		return NewBinanceClient(opts), nil
	case VenueKuCoin:
		return NewKuCoinClient(opts), nil
	case VenueBybit:
		return NewBybitClient(opts), nil
	case VenueOKX:
		return NewOKXClient(opts), nil
	case VenueCoinbase:
		return NewCoinbaseClient(opts), nil
	case VenueKraken:
		return NewKrakenClient(opts), nil
	case VenueGateio:
		return NewGateioClient(opts), nil
	case VenueTabdeal:
		return NewTabdealClient(opts), nil
	case VenueNobitex:
		return NewNobitexClient(opts), nil
	default:
		return nil, fmt.Errorf("unsupported venue: %s", venue)
	}
}
