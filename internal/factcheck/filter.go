package factcheck

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"signalforge/internal/core"
)

// Filter decision reason tags. The set is closed; the stats histogram is
// keyed by these.
const (
	ReasonStrongSignal         = "STRONG_SIGNAL"
	ReasonModerateSignal       = "MODERATE_SIGNAL"
	ReasonHighConfidence       = "HIGH_CONFIDENCE"
	ReasonWinningComboMember   = "WINNING_COMBO_MEMBER"
	ReasonInsufficientData     = "INSUFFICIENT_DATA"
	ReasonRandomSample         = "RANDOM_SAMPLE"
	ReasonTimeframeNotStandard = "TIMEFRAME_NOT_STANDARD"
	ReasonWeakSignalSkip       = "WEAK_SIGNAL_SKIP"
)

// SampleCounter reports the existing fact-check sample size of a signal.
type SampleCounter interface {
	CountBySignal(signalName string, timeframe core.Timeframe) (int, error)
}

// ComboProber reports whether a signal belongs to a winning mined combo.
type ComboProber interface {
	HasWinningComboWith(signalName string, timeframe core.Timeframe, minAccuracy float64) (bool, error)
}

// FilterOptions tune the decision rules.
type FilterOptions struct {
	HighConfidence   float64 // rule 3 threshold, default 75
	ComboMinAccuracy float64 // rule 4 threshold, default 60
	MinSamples       int     // rule 5 threshold, default 20
	RandomSampleRate float64 // rule 6 probability, default 0.30
	DisableRandom    bool    // skip rule 6 for deterministic runs
}

// Decision is the filter verdict for one signal.
type Decision struct {
	ShouldCheck bool
	Reason      string
}

// FilterStats aggregate the verdicts of one pass.
type FilterStats struct {
	Total     int            `json:"total"`
	Checked   int            `json:"checked"`
	Skipped   int            `json:"skipped"`
	ByReason  map[string]int `json:"by_reason"`
	CheckRate float64        `json:"check_rate"`
}

// Filter decides which pending signals warrant a fact-check this pass.
// Rules apply in order; the first match wins.
type Filter struct {
	samples SampleCounter
	combos  ComboProber
	opts    FilterOptions
	logger  *zap.Logger
	randFn  func() float64

	mu    sync.Mutex
	stats FilterStats
}

// Timeframes skipped by rule 7: not part of the standard validation rotation.
var nonStandardTimeframes = map[core.Timeframe]bool{
	core.TF2h: true,
	core.TF6h: true,
}

// NewFilter creates a filter over the sample counter and combo prober.
func NewFilter(samples SampleCounter, combos ComboProber, opts FilterOptions, logger *zap.Logger) *Filter {
	if opts.HighConfidence <= 0 {
		opts.HighConfidence = 75
	}
	if opts.ComboMinAccuracy <= 0 {
		opts.ComboMinAccuracy = 60
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 20
	}
	if opts.RandomSampleRate <= 0 {
		opts.RandomSampleRate = 0.30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		samples: samples,
		combos:  combos,
		opts:    opts,
		logger:  logger.Named("filter"),
		randFn:  rand.Float64,
		stats:   FilterStats{ByReason: make(map[string]int)},
	}
}

// Decide evaluates the rules for one signal and records the verdict in the
// pass statistics.
func (f *Filter) Decide(signal core.Signal) Decision {
	decision := f.decide(signal)
	f.record(decision)
	return decision
}

func (f *Filter) decide(signal core.Signal) Decision {
	// 1–2: strength dominates everything else.
	switch signal.Strength {
	case core.StrengthStrong, core.StrengthVeryStrong:
		return Decision{ShouldCheck: true, Reason: ReasonStrongSignal}
	case core.StrengthModerate:
		return Decision{ShouldCheck: true, Reason: ReasonModerateSignal}
	}

	// 3: confident detections are always worth validating.
	if signal.Confidence >= f.opts.HighConfidence {
		return Decision{ShouldCheck: true, Reason: ReasonHighConfidence}
	}

	// 4: members of winning mined combos stay under observation.
	if f.combos != nil {
		isMember, err := f.combos.HasWinningComboWith(signal.Name, signal.Timeframe, f.opts.ComboMinAccuracy)
		if err != nil {
			f.logger.Warn("Combo membership probe failed", zap.String("signal", signal.Name), zap.Error(err))
		} else if isMember {
			return Decision{ShouldCheck: true, Reason: ReasonWinningComboMember}
		}
	}

	// 5: keep sampling signals we know little about.
	if f.samples != nil {
		count, err := f.samples.CountBySignal(signal.Name, signal.Timeframe)
		if err != nil {
			f.logger.Warn("Sample count failed", zap.String("signal", signal.Name), zap.Error(err))
		} else if count < f.opts.MinSamples {
			return Decision{ShouldCheck: true, Reason: ReasonInsufficientData}
		}
	}

	// 6: a random slice keeps the long tail honest.
	if !f.opts.DisableRandom && f.randFn() < f.opts.RandomSampleRate {
		return Decision{ShouldCheck: true, Reason: ReasonRandomSample}
	}

	// 7: off-rotation timeframes are skipped explicitly.
	if nonStandardTimeframes[signal.Timeframe] {
		return Decision{ShouldCheck: false, Reason: ReasonTimeframeNotStandard}
	}

	return Decision{ShouldCheck: false, Reason: ReasonWeakSignalSkip}
}

func (f *Filter) record(decision Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Total++
	if decision.ShouldCheck {
		f.stats.Checked++
	} else {
		f.stats.Skipped++
	}
	f.stats.ByReason[decision.Reason]++
	f.stats.CheckRate = float64(f.stats.Checked) / float64(f.stats.Total) * 100
}

// Stats returns a copy of the pass statistics.
func (f *Filter) Stats() FilterStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := FilterStats{
		Total:     f.stats.Total,
		Checked:   f.stats.Checked,
		Skipped:   f.stats.Skipped,
		CheckRate: f.stats.CheckRate,
		ByReason:  make(map[string]int, len(f.stats.ByReason)),
	}
	for reason, count := range f.stats.ByReason {
		out.ByReason[reason] = count
	}
	return out
}

// ResetStats clears the pass statistics.
func (f *Filter) ResetStats() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = FilterStats{ByReason: make(map[string]int)}
}
