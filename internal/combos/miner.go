package combos

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"signalforge/internal/core"
	"signalforge/internal/factcheck"
)

// HistorySource is the slice of the fact-check store the miner reads.
type HistorySource interface {
	DistinctSignalNames(timeframe core.Timeframe) ([]string, error)
	ListByTimeframe(timeframe core.Timeframe) ([]core.FactCheck, error)
	ListBySignal(signalName string, timeframe core.Timeframe) ([]core.FactCheck, error)
	DistinctPairs() ([]core.SignalPair, error)
	RecentBySignal(signalName string, timeframe core.Timeframe, limit int) ([]core.FactCheck, error)
	ExistsNear(signalName string, timeframe core.Timeframe, t time.Time, window time.Duration) (bool, error)
}

// ComboWriter persists qualifying combinations.
type ComboWriter interface {
	UpsertTFCombo(combo core.TFCombo) error
	UpsertCrossTFCombo(combo core.CrossTFCombo) error
}

// ComboSink receives mined combos for the monitoring feed. Optional.
type ComboSink interface {
	ComboDiscovered(signature string, timeframe string, accuracy float64, samples int)
}

// Options tune a mining run.
type Options struct {
	MinComboSize      int           // default 2
	MaxComboSize      int           // capped at 3
	MinSamples        int           // default 20
	MinAccuracy       float64       // percent, default 60
	BatchSize         int           // candidates per chunk, default 500
	MaxCombinations   int           // 0 = unlimited
	MinTimeframes     int           // cross-TF floor, default 2
	MaxTimeframes     int           // cross-TF ceiling, default 3
	CorrelationWindow time.Duration // cross-TF match window, default 1h
	BaseScanLimit     int           // cross-TF base occurrences, default 500
}

func (o Options) withDefaults() Options {
	if o.MinComboSize <= 0 {
		o.MinComboSize = 2
	}
	if o.MaxComboSize <= 0 || o.MaxComboSize > 3 {
		o.MaxComboSize = 3
	}
	if o.MinSamples <= 0 {
		o.MinSamples = 20
	}
	if o.MinAccuracy <= 0 {
		o.MinAccuracy = 60
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.MinTimeframes <= 0 {
		o.MinTimeframes = 2
	}
	if o.MaxTimeframes <= 0 {
		o.MaxTimeframes = 3
	}
	if o.CorrelationWindow <= 0 {
		o.CorrelationWindow = time.Hour
	}
	if o.BaseScanLimit <= 0 {
		o.BaseScanLimit = 500
	}
	return o
}

// RunStats summarize one mining run.
type RunStats struct {
	Candidates int `json:"candidates"`
	Evaluated  int `json:"evaluated"`
	Persisted  int `json:"persisted"`
	Skipped    int `json:"skipped"`
}

// Miner enumerates signal combinations over fact-check history and persists
// those whose empirical accuracy clears the threshold.
type Miner struct {
	history HistorySource
	writer  ComboWriter
	cache   *SummaryCache
	sink    ComboSink
	logger  *zap.Logger
}

// NewMiner wires the miner. cache and sink may be nil.
func NewMiner(history HistorySource, writer ComboWriter, cache *SummaryCache, sink ComboSink, logger *zap.Logger) *Miner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewSummaryCache(time.Hour)
	}
	return &Miner{
		history: history,
		writer:  writer,
		cache:   cache,
		sink:    sink,
		logger:  logger.Named("miner"),
	}
}

// occurrence is the aggregated fact-check group at one detection instant.
type occurrence struct {
	names   map[string]bool
	correct int
	total   int
	pctSum  float64
}

// AnalyzeCombinations mines same-timeframe combinations. Co-occurrence is
// exact-instant: a subset counts at an instant only when exactly its k
// members were detected there.
func (m *Miner) AnalyzeCombinations(ctx context.Context, timeframe core.Timeframe, opts Options) (RunStats, error) {
	opts = opts.withDefaults()
	var stats RunStats

	names, err := m.history.DistinctSignalNames(timeframe)
	if err != nil {
		return stats, err
	}
	if len(names) < opts.MinComboSize {
		return stats, nil
	}
	sort.Strings(names)

	history, err := m.history.ListByTimeframe(timeframe)
	if err != nil {
		return stats, err
	}
	groups := groupByInstant(history)
	m.primeSummaries(timeframe, history)

	m.logger.Info("Same-timeframe mining starting",
		zap.String("timeframe", string(timeframe)),
		zap.Int("signals", len(names)),
		zap.Int("instants", len(groups)))

	for k := opts.MinComboSize; k <= opts.MaxComboSize; k++ {
		candidates := CollectSubsets(names, k)
		stats.Candidates += len(candidates)

		for start := 0; start < len(candidates); start += opts.BatchSize {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			end := start + opts.BatchSize
			if end > len(candidates) {
				end = len(candidates)
			}

			for _, subset := range candidates[start:end] {
				if opts.MaxCombinations > 0 && stats.Persisted >= opts.MaxCombinations {
					m.logger.Info("Combination cap reached", zap.Int("persisted", stats.Persisted))
					return stats, nil
				}

				stats.Evaluated++
				if m.mineSubset(subset, timeframe, groups, opts) {
					stats.Persisted++
				} else {
					stats.Skipped++
				}
			}

			m.logger.Info("Mining progress",
				zap.String("timeframe", string(timeframe)),
				zap.Int("combo_size", k),
				zap.Int("evaluated", stats.Evaluated),
				zap.Int("persisted", stats.Persisted))
		}
	}

	return stats, nil
}

func (m *Miner) mineSubset(subset []string, timeframe core.Timeframe, groups []occurrence, opts Options) bool {
	var coCount, correctCount int
	var pctSum float64
	var winSum, lossSum float64
	var winCount, lossCount int

	for _, group := range groups {
		// The group must consist of exactly this subset's members.
		if len(group.names) != len(subset) {
			continue
		}
		allPresent := true
		for _, name := range subset {
			if !group.names[name] {
				allPresent = false
				break
			}
		}
		if !allPresent {
			continue
		}

		coCount++
		avgPct := group.pctSum / float64(group.total)
		pctSum += avgPct

		// The instant's vote is the mean of its members' correctness.
		if float64(group.correct)/float64(group.total) >= 0.5 {
			correctCount++
			winSum += avgPct
			winCount++
		} else {
			lossSum += avgPct
			lossCount++
		}
	}

	if coCount < opts.MinSamples {
		return false
	}

	accuracy := float64(correctCount) / float64(coCount) * 100
	if accuracy < opts.MinAccuracy {
		return false
	}

	combo := core.TFCombo{
		SignalNames:        append([]string(nil), subset...),
		Timeframe:          timeframe,
		Accuracy:           accuracy,
		SampleCount:        coCount,
		CorrectPredictions: correctCount,
		AvgPriceChange:     pctSum / float64(coCount),
		ProfitFactor:       profitFactor(winSum, winCount, lossSum, lossCount),
		ComboSize:          len(subset),
	}

	if err := m.writer.UpsertTFCombo(combo); err != nil {
		// Duplicate-key races are expected re-run behavior; anything else is
		// logged and the run continues.
		m.logger.Warn("Combo upsert failed", zap.Strings("signals", subset), zap.Error(err))
		return false
	}

	if m.sink != nil {
		m.sink.ComboDiscovered(combo.Hash(), string(timeframe), accuracy, coCount)
	}
	return true
}

// AnalyzeCrossTfCombinations mines cross-timeframe combinations correlated by
// a time window around the base pair's detections.
func (m *Miner) AnalyzeCrossTfCombinations(ctx context.Context, opts Options) (RunStats, error) {
	opts = opts.withDefaults()
	var stats RunStats

	pairs, err := m.history.DistinctPairs()
	if err != nil {
		return stats, err
	}
	if len(pairs) < opts.MinComboSize {
		return stats, nil
	}

	m.logger.Info("Cross-timeframe mining starting", zap.Int("pairs", len(pairs)))

	for k := opts.MinComboSize; k <= opts.MaxComboSize; k++ {
		candidates := CollectSubsets(pairs, k)

		for start := 0; start < len(candidates); start += opts.BatchSize {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			end := start + opts.BatchSize
			if end > len(candidates) {
				end = len(candidates)
			}

			for _, candidate := range candidates[start:end] {
				if opts.MaxCombinations > 0 && stats.Persisted >= opts.MaxCombinations {
					m.logger.Info("Combination cap reached", zap.Int("persisted", stats.Persisted))
					return stats, nil
				}

				numTFs := distinctTimeframes(candidate)
				if numTFs < opts.MinTimeframes || numTFs > opts.MaxTimeframes {
					continue
				}

				stats.Candidates++
				stats.Evaluated++
				ok, err := m.mineCrossCandidate(candidate, numTFs, opts)
				if err != nil {
					m.logger.Warn("Cross-TF candidate failed", zap.Error(err))
					stats.Skipped++
					continue
				}
				if ok {
					stats.Persisted++
				} else {
					stats.Skipped++
				}
			}

			m.logger.Info("Cross-TF mining progress",
				zap.Int("combo_size", k),
				zap.Int("evaluated", stats.Evaluated),
				zap.Int("persisted", stats.Persisted))
		}
	}

	return stats, nil
}

func (m *Miner) mineCrossCandidate(candidate []core.SignalPair, numTFs int, opts Options) (bool, error) {
	base := candidate[0]

	// Skip pairs whose cached digest already rules them out.
	if summary, ok := m.cache.Get(base.SignalName, base.Timeframe); ok && summary.SampleSize < opts.MinSamples {
		return false, nil
	}

	baseChecks, err := m.history.RecentBySignal(base.SignalName, base.Timeframe, opts.BaseScanLimit)
	if err != nil {
		return false, err
	}

	var matched, correct int
	var pctSum float64
	var winSum, lossSum float64
	var winCount, lossCount int

	for _, baseCheck := range baseChecks {
		allMatch := true
		for _, other := range candidate[1:] {
			exists, err := m.history.ExistsNear(other.SignalName, other.Timeframe, baseCheck.DetectedAt, opts.CorrelationWindow)
			if err != nil {
				return false, err
			}
			if !exists {
				allMatch = false
				break
			}
		}
		if !allMatch {
			continue
		}

		matched++
		pctSum += baseCheck.PriceChangePct
		if baseCheck.PredictedCorrect {
			correct++
			winSum += baseCheck.PriceChangePct
			winCount++
		} else {
			lossSum += baseCheck.PriceChangePct
			lossCount++
		}
	}

	if matched < opts.MinSamples {
		return false, nil
	}

	accuracy := float64(correct) / float64(matched) * 100
	if accuracy < opts.MinAccuracy {
		return false, nil
	}

	names := make([]string, 0, len(candidate))
	tfSet := make(map[string]bool)
	for _, pair := range candidate {
		names = append(names, pair.SignalName)
		tfSet[string(pair.Timeframe)] = true
	}
	timeframes := make([]string, 0, len(tfSet))
	for tf := range tfSet {
		timeframes = append(timeframes, tf)
	}
	sort.Strings(timeframes)
	sort.Strings(names)

	combo := core.CrossTFCombo{
		Signature:          core.CrossComboSignature(candidate),
		Timeframes:         timeframes,
		SignalNames:        names,
		Accuracy:           accuracy,
		SampleCount:        matched,
		CorrectPredictions: correct,
		AvgPriceChange:     pctSum / float64(matched),
		ProfitFactor:       profitFactor(winSum, winCount, lossSum, lossCount),
		ComboSize:          len(candidate),
		NumTimeframes:      numTFs,
	}

	if err := m.writer.UpsertCrossTFCombo(combo); err != nil {
		return false, err
	}

	if m.sink != nil {
		m.sink.ComboDiscovered(combo.Signature, "", accuracy, matched)
	}
	return true, nil
}

// primeSummaries refreshes the per-signal digest cache from the timeframe's
// history so repeated runs inside the TTL skip the recomputation.
func (m *Miner) primeSummaries(timeframe core.Timeframe, history []core.FactCheck) {
	bySignal := make(map[string][]core.FactCheck)
	for _, fc := range history {
		bySignal[fc.SignalName] = append(bySignal[fc.SignalName], fc)
	}

	for name, checks := range bySignal {
		if _, ok := m.cache.Get(name, timeframe); ok {
			continue
		}
		stats := factcheck.ComputeStats(name, timeframe, checks)
		m.cache.Put(name, timeframe, SignalSummary{
			Accuracy:     stats.Accuracy,
			SampleSize:   stats.TotalSamples,
			ProfitFactor: stats.ProfitFactor,
		})
	}
}

func groupByInstant(history []core.FactCheck) []occurrence {
	byInstant := make(map[int64]*occurrence)
	for _, fc := range history {
		key := fc.DetectedAt.Unix()
		group, ok := byInstant[key]
		if !ok {
			group = &occurrence{names: make(map[string]bool)}
			byInstant[key] = group
		}
		group.names[fc.SignalName] = true
		group.total++
		group.pctSum += fc.PriceChangePct
		if fc.PredictedCorrect {
			group.correct++
		}
	}

	keys := make([]int64, 0, len(byInstant))
	for key := range byInstant {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]occurrence, 0, len(byInstant))
	for _, key := range keys {
		out = append(out, *byInstant[key])
	}
	return out
}

func distinctTimeframes(pairs []core.SignalPair) int {
	seen := make(map[core.Timeframe]bool)
	for _, pair := range pairs {
		seen[pair.Timeframe] = true
	}
	return len(seen)
}

func profitFactor(winSum float64, winCount int, lossSum float64, lossCount int) float64 {
	var avgWin, avgLoss float64
	if winCount > 0 {
		avgWin = winSum / float64(winCount)
	}
	if lossCount > 0 {
		avgLoss = lossSum / float64(lossCount)
	}
	if avgLoss == 0 {
		return 0
	}
	return math.Abs(avgWin / avgLoss)
}
