package factcheck

import (
	"math"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
)

// FactCheckScanner reads fact-check history for aggregation.
type FactCheckScanner interface {
	ListBySignal(signalName string, timeframe core.Timeframe) ([]core.FactCheck, error)
}

// BaseConfidenceSource yields the configured default confidence of a signal.
type BaseConfidenceSource interface {
	BaseConfidence(signalName string, timeframe core.Timeframe, fallback float64) float64
}

// ConfidenceWriter upserts adjustment rows.
type ConfidenceWriter interface {
	Upsert(adj core.ConfidenceAdjustment) error
}

// AggregatorOptions tune the confidence recalibration.
type AggregatorOptions struct {
	MinSamples        int     // below this no stats are derived, default 20
	DefaultConfidence float64 // fallback when no definition exists, default 70
}

// Aggregator recomputes per-signal accuracy and derives adjusted confidence.
type Aggregator struct {
	scanner    FactCheckScanner
	defaults   BaseConfidenceSource
	confidence ConfidenceWriter
	opts       AggregatorOptions
	logger     *zap.Logger
	now        func() time.Time
}

// NewAggregator wires the accuracy aggregator.
func NewAggregator(
	scanner FactCheckScanner,
	defaults BaseConfidenceSource,
	confidence ConfidenceWriter,
	opts AggregatorOptions,
	logger *zap.Logger,
) *Aggregator {
	if opts.MinSamples <= 0 {
		opts.MinSamples = 20
	}
	if opts.DefaultConfidence <= 0 {
		opts.DefaultConfidence = 70
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		scanner:    scanner,
		defaults:   defaults,
		confidence: confidence,
		opts:       opts,
		logger:     logger.Named("accuracy"),
		now:        time.Now,
	}
}

// SignalAccuracy scans the signal's fact checks and derives its statistics.
// Returns ok=false when fewer than minSamples records exist.
func (a *Aggregator) SignalAccuracy(signalName string, timeframe core.Timeframe, minSamples int) (core.AccuracyStats, bool, error) {
	if minSamples <= 0 {
		minSamples = a.opts.MinSamples
	}

	checks, err := a.scanner.ListBySignal(signalName, timeframe)
	if err != nil {
		return core.AccuracyStats{}, false, err
	}
	if len(checks) < minSamples {
		return core.AccuracyStats{}, false, nil
	}

	return ComputeStats(signalName, timeframe, checks), true, nil
}

// ComputeStats derives accuracy statistics from a fact-check slice.
func ComputeStats(signalName string, timeframe core.Timeframe, checks []core.FactCheck) core.AccuracyStats {
	stats := core.AccuracyStats{
		SignalName:   signalName,
		Timeframe:    timeframe,
		TotalSamples: len(checks),
	}

	var sumChange, sumWin, sumLoss float64
	var winCount, lossCount int

	for _, fc := range checks {
		sumChange += fc.PriceChangePct
		if fc.PredictedCorrect {
			stats.CorrectPredictions++
			sumWin += fc.PriceChangePct
			winCount++
		} else {
			sumLoss += fc.PriceChangePct
			lossCount++
		}
		if core.IsStoppedOut(fc.ExitReason) {
			stats.StoppedOut++
		}
	}

	n := float64(len(checks))
	stats.Accuracy = float64(stats.CorrectPredictions) / n * 100
	stats.AvgPriceChange = sumChange / n
	stats.StoppedOutRate = float64(stats.StoppedOut) / n * 100

	if winCount > 0 {
		stats.AvgWin = sumWin / float64(winCount)
	}
	if lossCount > 0 {
		stats.AvgLoss = sumLoss / float64(lossCount)
	}
	if stats.AvgLoss != 0 {
		stats.ProfitFactor = math.Abs(stats.AvgWin / stats.AvgLoss)
	}

	return stats
}

// AdjustConfidence recomputes and persists the confidence adjustment of one
// (signalName, timeframe) pair. Pairs below the sample floor are skipped.
func (a *Aggregator) AdjustConfidence(signalName string, timeframe core.Timeframe, minSamples int) (core.ConfidenceAdjustment, bool, error) {
	stats, ok, err := a.SignalAccuracy(signalName, timeframe, minSamples)
	if err != nil || !ok {
		return core.ConfidenceAdjustment{}, false, err
	}

	original := a.opts.DefaultConfidence
	if a.defaults != nil {
		original = a.defaults.BaseConfidence(signalName, timeframe, a.opts.DefaultConfidence)
	}

	adjusted := AdjustedConfidence(original, stats)
	adj := core.ConfidenceAdjustment{
		SignalName:         signalName,
		Timeframe:          timeframe,
		OriginalConfidence: original,
		AdjustedConfidence: adjusted,
		AccuracyRate:       stats.Accuracy,
		SampleSize:         stats.TotalSamples,
		LastUpdated:        a.now(),
	}

	if a.confidence != nil {
		if err := a.confidence.Upsert(adj); err != nil {
			return core.ConfidenceAdjustment{}, false, err
		}
	}

	a.logger.Debug("Confidence adjusted",
		zap.String("signal", signalName),
		zap.String("timeframe", string(timeframe)),
		zap.Float64("original", original),
		zap.Float64("adjusted", adjusted),
		zap.Float64("accuracy", stats.Accuracy),
		zap.Int("samples", stats.TotalSamples))
	return adj, true, nil
}

// AdjustedConfidence blends the configured confidence toward observed
// accuracy as the sample grows, then applies the profit-factor bonus and the
// stop-out penalty, clamped to [0, 100].
func AdjustedConfidence(original float64, stats core.AccuracyStats) float64 {
	sampleWeight := math.Min(1.0, float64(stats.TotalSamples)/500)
	base := original*(1-sampleWeight) + stats.Accuracy*sampleWeight

	var profitBonus float64
	switch {
	case stats.ProfitFactor > 2.0:
		profitBonus = math.Min(10, (stats.ProfitFactor-2)*5)
	case stats.ProfitFactor < 1.0:
		profitBonus = math.Max(-15, (stats.ProfitFactor-1)*15)
	}

	var stopPenalty float64
	if stats.StoppedOutRate > 30 {
		stopPenalty = math.Max(0, (stats.StoppedOutRate-30)*0.3)
	}

	adjusted := math.Round(base + profitBonus - stopPenalty)
	return math.Max(0, math.Min(100, adjusted))
}
