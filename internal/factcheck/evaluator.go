package factcheck

import (
	"math"

	"signalforge/internal/core"
)

const (
	// DefaultStopLossPct is the single configured stop-loss distance used for
	// BUY/SELL validation.
	DefaultStopLossPct = 5.0
	// DefaultMinProfitPct is the floor below which a positive move does not
	// count as a correct prediction.
	DefaultMinProfitPct = 0.1

	// Unit-mismatch guard: a final/entry ratio outside [0.1, 10] means the
	// journey and the entry price are in different units (e.g. Rial vs USDT).
	maxPriceRatio = 10.0
	minPriceRatio = 0.1

	// Any single-journey move beyond this is treated as corrupt data.
	maxAbsPriceChangePct = 50.0
)

// Evaluator applies stop-loss and profit-threshold semantics over a forward
// candle journey.
type Evaluator struct {
	StopLossPct  float64
	MinProfitPct float64
}

// NewEvaluator creates an evaluator, falling back to the defaults for
// non-positive thresholds.
func NewEvaluator(stopLossPct, minProfitPct float64) *Evaluator {
	if stopLossPct <= 0 {
		stopLossPct = DefaultStopLossPct
	}
	if minProfitPct <= 0 {
		minProfitPct = DefaultMinProfitPct
	}
	return &Evaluator{StopLossPct: stopLossPct, MinProfitPct: minProfitPct}
}

// Result is the outcome of one evaluation.
type Result struct {
	Correct        bool
	ExitReason     string
	PriceChangePct float64
	ActualMove     core.ActualMove
	CandlesElapsed int
}

// Evaluate replays a signal's prediction against its candle journey.
// candles[0] covers the detection instant; the scan starts at candles[1].
func (e *Evaluator) Evaluate(entryPrice float64, signalType core.SignalType, candles []core.Candle) Result {
	if len(candles) < 2 || entryPrice <= 0 {
		return Result{
			ExitReason:     core.ExitInsufficientData,
			ActualMove:     core.MoveFlat,
			CandlesElapsed: len(candles),
		}
	}

	finalPrice := candles[len(candles)-1].Close
	ratio := finalPrice / entryPrice
	if ratio > maxPriceRatio || ratio < minPriceRatio {
		return Result{
			ExitReason:     core.ExitPriceUnitMismatch,
			ActualMove:     core.MoveFlat,
			CandlesElapsed: len(candles) - 1,
		}
	}

	if signalType == core.SignalSell {
		return e.evaluateSell(entryPrice, finalPrice, candles)
	}
	return e.evaluateBuy(entryPrice, finalPrice, candles)
}

func (e *Evaluator) evaluateBuy(entryPrice, finalPrice float64, candles []core.Candle) Result {
	stopLossPrice := entryPrice * (1 - e.StopLossPct/100)

	for i := 1; i < len(candles); i++ {
		if candles[i].Low <= stopLossPrice {
			return Result{
				ExitReason:     core.StoppedOutReason(i),
				PriceChangePct: -e.StopLossPct,
				ActualMove:     core.DeriveMove(-e.StopLossPct),
				CandlesElapsed: i,
			}
		}
	}

	priceChangePct := (finalPrice - entryPrice) / entryPrice * 100
	return e.classify(priceChangePct, len(candles)-1)
}

func (e *Evaluator) evaluateSell(entryPrice, finalPrice float64, candles []core.Candle) Result {
	stopLossPrice := entryPrice * (1 + e.StopLossPct/100)

	for i := 1; i < len(candles); i++ {
		if candles[i].High >= stopLossPrice {
			return Result{
				ExitReason:     core.StoppedOutReason(i),
				PriceChangePct: -e.StopLossPct,
				ActualMove:     core.DeriveMove(-e.StopLossPct),
				CandlesElapsed: i,
			}
		}
	}

	// Positive change means profit on the short-side prediction.
	priceChangePct := (entryPrice - finalPrice) / entryPrice * 100
	return e.classify(priceChangePct, len(candles)-1)
}

func (e *Evaluator) classify(priceChangePct float64, elapsed int) Result {
	if math.Abs(priceChangePct) > maxAbsPriceChangePct {
		return Result{
			ExitReason:     core.ExitInvalidChange,
			ActualMove:     core.MoveFlat,
			CandlesElapsed: elapsed,
		}
	}

	result := Result{
		PriceChangePct: priceChangePct,
		ActualMove:     core.DeriveMove(priceChangePct),
		CandlesElapsed: elapsed,
	}

	switch {
	case priceChangePct > e.MinProfitPct:
		result.Correct = true
		result.ExitReason = core.ExitProfitTarget
	case priceChangePct > 0:
		result.ExitReason = core.ExitProfitTooSmall
	default:
		result.ExitReason = core.ExitLoss
	}
	return result
}
