package core

import (
	"sort"
	"time"
)

// Candle is the canonical OHLCV bar every venue response is normalized to.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Valid reports whether the bar satisfies the basic OHLCV invariants:
// low <= open,close <= high and non-negative volume.
func (c Candle) Valid() bool {
	if c.Low > c.High {
		return false
	}
	if c.Open < c.Low || c.Open > c.High {
		return false
	}
	if c.Close < c.Low || c.Close > c.High {
		return false
	}
	return c.Volume >= 0
}

// SortCandles orders candles ascending by timestamp in place.
func SortCandles(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
}

// PricePoint is a spot price observation from a single venue.
type PricePoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// DayStats is the normalized 24-hour ticker statistics of a symbol.
type DayStats struct {
	Symbol         string  `json:"symbol"`
	LastPrice      float64 `json:"last_price"`
	PriceChangePct float64 `json:"price_change_pct"`
	HighPrice      float64 `json:"high_price"`
	LowPrice       float64 `json:"low_price"`
	Volume         float64 `json:"volume"`
	QuoteVolume    float64 `json:"quote_volume"`
}
