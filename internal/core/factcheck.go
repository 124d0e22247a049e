package core

import (
	"fmt"
	"strings"
	"time"
)

// ActualMove is the realized direction of a fact-checked signal.
type ActualMove string

const (
	MoveUp   ActualMove = "UP"
	MoveDown ActualMove = "DOWN"
	MoveFlat ActualMove = "FLAT"
)

// Exit reasons produced by the evaluator. STOPPED_OUT reasons carry the
// candle index of the stop hit, e.g. STOPPED_OUT_CANDLE_2.
const (
	ExitProfitTarget      = "PROFIT_TARGET"
	ExitProfitTooSmall    = "PROFIT_TOO_SMALL"
	ExitLoss              = "LOSS"
	ExitInsufficientData  = "INSUFFICIENT_DATA"
	ExitPriceUnitMismatch = "PRICE_UNIT_MISMATCH"
	ExitInvalidChange     = "INVALID_PRICE_CHANGE"

	stoppedOutPrefix = "STOPPED_OUT"
)

// StoppedOutReason builds the exit reason for a stop-loss hit at candle index i.
func StoppedOutReason(candleIndex int) string {
	return fmt.Sprintf("%s_CANDLE_%d", stoppedOutPrefix, candleIndex)
}

// IsStoppedOut reports whether an exit reason records a stop-loss hit.
func IsStoppedOut(exitReason string) bool {
	return strings.Contains(exitReason, stoppedOutPrefix)
}

// DeriveMove maps a realized price change to its direction bucket.
// Changes within ±0.1% count as flat.
func DeriveMove(priceChangePct float64) ActualMove {
	switch {
	case priceChangePct > 0.1:
		return MoveUp
	case priceChangePct < -0.1:
		return MoveDown
	default:
		return MoveFlat
	}
}

// FactCheck is the persisted outcome of replaying one signal against its
// forward candle journey. Exactly one record exists per
// (signalName, timeframe, detectedAt).
type FactCheck struct {
	ID               uint       `json:"id"`
	SignalName       string     `json:"signal_name"`
	Timeframe        Timeframe  `json:"timeframe"`
	DetectedAt       time.Time  `json:"detected_at"`
	PriceAtDetection float64    `json:"price_at_detection"`
	ActualMove       ActualMove `json:"actual_move"`
	PredictedCorrect bool       `json:"predicted_correctly"`
	PriceChangePct   float64    `json:"price_change_pct"`
	ExitReason       string     `json:"exit_reason"`
	CandlesElapsed   int        `json:"candles_elapsed"`
	ValidationWindow int        `json:"validation_window"`
	CheckedAt        time.Time  `json:"checked_at"`
}

// AccuracyStats are the derived per-signal statistics over its fact checks.
type AccuracyStats struct {
	SignalName         string    `json:"signal_name"`
	Timeframe          Timeframe `json:"timeframe"`
	TotalSamples       int       `json:"total_samples"`
	CorrectPredictions int       `json:"correct_predictions"`
	Accuracy           float64   `json:"accuracy"` // percent
	AvgPriceChange     float64   `json:"avg_price_change"`
	AvgWin             float64   `json:"avg_win"`
	AvgLoss            float64   `json:"avg_loss"`
	ProfitFactor       float64   `json:"profit_factor"`
	StoppedOut         int       `json:"stopped_out"`
	StoppedOutRate     float64   `json:"stopped_out_rate"` // percent
}

// ConfidenceAdjustment is the recalibrated confidence for one
// (signalName, timeframe) pair, upserted after each aggregation pass.
type ConfidenceAdjustment struct {
	SignalName         string    `json:"signal_name"`
	Timeframe          Timeframe `json:"timeframe"`
	OriginalConfidence float64   `json:"original_confidence"`
	AdjustedConfidence float64   `json:"adjusted_confidence"`
	AccuracyRate       float64   `json:"accuracy_rate"`
	SampleSize         int       `json:"sample_size"`
	LastUpdated        time.Time `json:"last_updated"`
}
