package factcheck

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
	"signalforge/internal/pricedata"
)

// SignalSource streams the pending signals of one pass.
type SignalSource interface {
	FindUnchecked(q UncheckedQuery) ([]core.Signal, error)
	ValidationWindow(signalName string, timeframe core.Timeframe, fallback int) int
}

// UncheckedQuery mirrors the store query options so the orchestrator does not
// depend on the store package directly.
type UncheckedQuery struct {
	Symbol string
	Limit  int
}

// FactCheckWriter persists evaluation outcomes.
type FactCheckWriter interface {
	Insert(fc core.FactCheck) error
}

// JourneySource yields forward candle journeys.
type JourneySource interface {
	Journey(ctx context.Context, req pricedata.JourneyRequest) ([]core.Candle, error)
}

// EventSink receives pipeline events for the monitoring feed. Optional.
type EventSink interface {
	FactCheckCompleted(fc core.FactCheck)
	PassCompleted(summary Summary)
}

// OrchestratorOptions are the per-pass knobs.
type OrchestratorOptions struct {
	Symbol           string // optional symbol filter
	Limit            int    // optional cap on signals per pass
	UseFiltering     bool
	MaxWorkers       int // bounded parallelism, default 10
	ValidationWindow int // fallback forward-candle window, default 10
	ProgressLogEvery int // default 50
}

// Summary is the aggregate outcome of one bulk pass.
type Summary struct {
	TotalQueried   int                `json:"total_queried"`
	Filtered       int                `json:"filtered"`
	TotalChecked   int                `json:"total_checked"`
	Correct        int                `json:"correct"`
	Incorrect      int                `json:"incorrect"`
	StoppedOut     int                `json:"stopped_out"`
	Failed         int                `json:"failed"`
	ByExitReason   map[string]int     `json:"by_exit_reason"`
	Accuracy       float64            `json:"accuracy"`
	ProfitFactor   float64            `json:"profit_factor"`
	FilterStats    FilterStats        `json:"filter_stats"`
	Details        []core.FactCheck   `json:"-"`
	Elapsed        time.Duration      `json:"elapsed"`
	Cancelled      bool               `json:"cancelled"`
}

// Orchestrator streams unchecked signals in batches, schedules evaluator
// concurrency, aggregates statistics, and persists outcomes. A single
// signal's failure never fails the pass.
type Orchestrator struct {
	signals   SignalSource
	journeys  JourneySource
	evaluator *Evaluator
	filter    *Filter
	writer    FactCheckWriter
	accuracy  *Aggregator
	sink      EventSink
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator wires the bulk fact-check pipeline. filter, accuracy, and
// sink may be nil.
func NewOrchestrator(
	signals SignalSource,
	journeys JourneySource,
	evaluator *Evaluator,
	filter *Filter,
	writer FactCheckWriter,
	accuracy *Aggregator,
	sink EventSink,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		signals:   signals,
		journeys:  journeys,
		evaluator: evaluator,
		filter:    filter,
		writer:    writer,
		accuracy:  accuracy,
		sink:      sink,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}
}

type touchedPair struct {
	name string
	tf   core.Timeframe
}

// Run executes one bulk pass. On context cancellation the in-flight batch
// completes, no new batch starts, and the partial summary is returned.
func (o *Orchestrator) Run(ctx context.Context, opts OrchestratorOptions) (Summary, error) {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 10
	}
	if opts.ValidationWindow <= 0 {
		opts.ValidationWindow = 10
	}
	if opts.ProgressLogEvery <= 0 {
		opts.ProgressLogEvery = 50
	}

	started := o.now()
	summary := Summary{ByExitReason: make(map[string]int)}

	pending, err := o.signals.FindUnchecked(UncheckedQuery{Symbol: opts.Symbol, Limit: opts.Limit})
	if err != nil {
		return summary, err
	}
	summary.TotalQueried = len(pending)

	if opts.UseFiltering && o.filter != nil {
		o.filter.ResetStats()
		kept := pending[:0]
		for _, signal := range pending {
			if o.filter.Decide(signal).ShouldCheck {
				kept = append(kept, signal)
			}
		}
		summary.Filtered = summary.TotalQueried - len(kept)
		pending = kept
	}

	o.logger.Info("Bulk fact-check pass starting",
		zap.Int("queried", summary.TotalQueried),
		zap.Int("filtered", summary.Filtered),
		zap.Int("to_check", len(pending)),
		zap.Int("workers", opts.MaxWorkers))

	var mu sync.Mutex
	touched := make(map[touchedPair]bool)
	processed := 0

	for start := 0; start < len(pending); start += opts.MaxWorkers {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		end := start + opts.MaxWorkers
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		var wg sync.WaitGroup
		for _, signal := range batch {
			wg.Add(1)
			go func(signal core.Signal) {
				defer wg.Done()

				fc, ok := o.checkOne(ctx, signal, opts.ValidationWindow)

				mu.Lock()
				defer mu.Unlock()
				processed++
				if !ok {
					summary.Failed++
					return
				}

				summary.TotalChecked++
				if fc.PredictedCorrect {
					summary.Correct++
				} else {
					summary.Incorrect++
				}
				if core.IsStoppedOut(fc.ExitReason) {
					summary.StoppedOut++
				}
				summary.ByExitReason[normalizeExitReason(fc.ExitReason)]++
				summary.Details = append(summary.Details, fc)
				touched[touchedPair{name: fc.SignalName, tf: fc.Timeframe}] = true

				if o.sink != nil {
					o.sink.FactCheckCompleted(fc)
				}

				if processed%opts.ProgressLogEvery == 0 {
					o.logProgress(processed, len(pending), started)
				}
			}(signal)
		}
		wg.Wait()
	}

	o.finishSummary(&summary, started)
	o.logProgress(processed, len(pending), started)

	// Recompute stats for every pair this pass touched.
	if o.accuracy != nil {
		for pair := range touched {
			if _, _, err := o.accuracy.AdjustConfidence(pair.name, pair.tf, 0); err != nil {
				o.logger.Warn("Confidence adjustment failed",
					zap.String("signal", pair.name),
					zap.String("timeframe", string(pair.tf)),
					zap.Error(err))
			}
		}
	}

	if o.sink != nil {
		o.sink.PassCompleted(summary)
	}

	o.logger.Info("Bulk fact-check pass finished",
		zap.Int("checked", summary.TotalChecked),
		zap.Int("correct", summary.Correct),
		zap.Int("stopped_out", summary.StoppedOut),
		zap.Int("failed", summary.Failed),
		zap.Float64("accuracy", summary.Accuracy),
		zap.Float64("profit_factor", summary.ProfitFactor),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Bool("cancelled", summary.Cancelled))
	return summary, nil
}

// checkOne fetches the journey, evaluates the prediction, and persists the
// record. Sanity-tagged outcomes (unit mismatch, invalid change) are still
// persisted; journeys that cannot be fetched or are too short are not.
func (o *Orchestrator) checkOne(ctx context.Context, signal core.Signal, fallbackWindow int) (core.FactCheck, bool) {
	window := o.signals.ValidationWindow(signal.Name, signal.Timeframe, fallbackWindow)

	candles, err := o.journeys.Journey(ctx, pricedata.JourneyRequest{
		Symbol:    signal.Symbol,
		Anchor:    signal.DetectedAt,
		Timeframe: signal.Timeframe,
		Horizon:   window,
	})
	if err != nil {
		o.logger.Debug("Journey unavailable",
			zap.String("signal", signal.Name),
			zap.String("symbol", signal.Symbol),
			zap.Error(err))
		return core.FactCheck{}, false
	}

	result := o.evaluator.Evaluate(signal.Price, signal.Type, candles)
	if result.ExitReason == core.ExitInsufficientData {
		// Too few candles to judge; leave the signal for a later pass.
		return core.FactCheck{}, false
	}

	fc := core.FactCheck{
		SignalName:       signal.Name,
		Timeframe:        signal.Timeframe,
		DetectedAt:       signal.DetectedAt,
		PriceAtDetection: signal.Price,
		ActualMove:       result.ActualMove,
		PredictedCorrect: result.Correct,
		PriceChangePct:   result.PriceChangePct,
		ExitReason:       result.ExitReason,
		CandlesElapsed:   result.CandlesElapsed,
		ValidationWindow: window,
		CheckedAt:        o.now(),
	}

	if err := o.writer.Insert(fc); err != nil {
		o.logger.Warn("Fact check persist failed",
			zap.String("signal", signal.Name),
			zap.Error(err))
		return core.FactCheck{}, false
	}

	return fc, true
}

func (o *Orchestrator) finishSummary(summary *Summary, started time.Time) {
	summary.Elapsed = o.now().Sub(started)
	if o.filter != nil {
		summary.FilterStats = o.filter.Stats()
	}

	if summary.TotalChecked > 0 {
		summary.Accuracy = float64(summary.Correct) / float64(summary.TotalChecked) * 100
	}

	var winSum, lossSum float64
	for _, fc := range summary.Details {
		if fc.PredictedCorrect {
			winSum += math.Abs(fc.PriceChangePct)
		} else {
			lossSum += math.Abs(fc.PriceChangePct)
		}
	}
	if lossSum > 0 {
		summary.ProfitFactor = winSum / lossSum
	} else {
		summary.ProfitFactor = winSum
	}
}

func (o *Orchestrator) logProgress(processed, total int, started time.Time) {
	if processed == 0 || total == 0 {
		return
	}
	elapsed := o.now().Sub(started)
	rate := float64(processed) / math.Max(elapsed.Seconds(), 0.001)
	remaining := total - processed

	var eta time.Duration
	if rate > 0 {
		eta = time.Duration(float64(remaining)/rate) * time.Second
	}

	o.logger.Info("Fact-check progress",
		zap.Int("processed", processed),
		zap.Int("total", total),
		zap.Float64("per_second", rate),
		zap.Duration("eta", eta))
}

// normalizeExitReason collapses indexed stop-out reasons into one histogram
// bucket.
func normalizeExitReason(reason string) string {
	if core.IsStoppedOut(reason) {
		return "STOPPED_OUT"
	}
	return reason
}
