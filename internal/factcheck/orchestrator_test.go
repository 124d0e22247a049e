package factcheck

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalforge/internal/core"
	"signalforge/internal/pricedata"
)

type fakeSignalSource struct {
	signals []core.Signal
}

func (f *fakeSignalSource) FindUnchecked(q UncheckedQuery) ([]core.Signal, error) {
	out := f.signals
	if q.Symbol != "" {
		var filtered []core.Signal
		for _, s := range out {
			if s.Symbol == q.Symbol {
				filtered = append(filtered, s)
			}
		}
		out = filtered
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeSignalSource) ValidationWindow(signalName string, timeframe core.Timeframe, fallback int) int {
	return fallback
}

type fakeJourneySource struct {
	mu      sync.Mutex
	calls   int
	candles []core.Candle
	err     error
}

func (f *fakeJourneySource) Journey(ctx context.Context, req pricedata.JourneyRequest) ([]core.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

type fakeFactCheckWriter struct {
	mu      sync.Mutex
	records []core.FactCheck
}

func (f *fakeFactCheckWriter) Insert(fc core.FactCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, fc)
	return nil
}

func testSignals(n int) []core.Signal {
	base := time.Now().Add(-48 * time.Hour)
	out := make([]core.Signal, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.Signal{
			ID:         uint(i + 1),
			Symbol:     "BTC",
			Timeframe:  core.TF1h,
			Name:       "rsi_oversold",
			Type:       core.SignalBuy,
			Strength:   core.StrengthStrong,
			Confidence: 80,
			Price:      100,
			DetectedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return out
}

func risingJourney() []core.Candle {
	return candlesFromCloses(100, 100.5, 101, 102)
}

func TestOrchestratorRun(t *testing.T) {
	source := &fakeSignalSource{signals: testSignals(7)}
	journeys := &fakeJourneySource{candles: risingJourney()}
	writer := &fakeFactCheckWriter{}

	o := NewOrchestrator(source, journeys, NewEvaluator(5, 0.1), nil, writer, nil, nil, nil)
	summary, err := o.Run(context.Background(), OrchestratorOptions{MaxWorkers: 3})

	require.NoError(t, err)
	assert.Equal(t, 7, summary.TotalQueried)
	assert.Equal(t, 7, summary.TotalChecked)
	assert.Equal(t, 7, summary.Correct)
	assert.Zero(t, summary.Incorrect)
	assert.InDelta(t, 100.0, summary.Accuracy, 0.01)
	assert.Len(t, writer.records, 7)
	assert.Equal(t, 7, summary.ByExitReason[core.ExitProfitTarget])
}

func TestOrchestratorFiltering(t *testing.T) {
	signals := testSignals(4)
	for i := range signals {
		signals[i].Strength = core.StrengthWeak
		signals[i].Confidence = 10
	}
	// One strong signal survives the filter.
	signals[0].Strength = core.StrengthStrong

	source := &fakeSignalSource{signals: signals}
	journeys := &fakeJourneySource{candles: risingJourney()}
	writer := &fakeFactCheckWriter{}
	filter := newTestFilter(map[string]int{"rsi_oversold|1h": 100}, nil)

	o := NewOrchestrator(source, journeys, NewEvaluator(5, 0.1), filter, writer, nil, nil, nil)
	summary, err := o.Run(context.Background(), OrchestratorOptions{UseFiltering: true, MaxWorkers: 2})

	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalQueried)
	assert.Equal(t, 3, summary.Filtered)
	assert.Equal(t, 1, summary.TotalChecked)
	assert.Len(t, writer.records, 1, "filtered signals leave no fact-check rows")
}

func TestOrchestratorJourneyFailure(t *testing.T) {
	source := &fakeSignalSource{signals: testSignals(3)}
	journeys := &fakeJourneySource{err: context.DeadlineExceeded}
	writer := &fakeFactCheckWriter{}

	o := NewOrchestrator(source, journeys, NewEvaluator(5, 0.1), nil, writer, nil, nil, nil)
	summary, err := o.Run(context.Background(), OrchestratorOptions{MaxWorkers: 2})

	require.NoError(t, err, "a single signal's failure never fails the pass")
	assert.Equal(t, 3, summary.Failed)
	assert.Zero(t, summary.TotalChecked)
	assert.Empty(t, writer.records)
}

func TestOrchestratorCancellation(t *testing.T) {
	source := &fakeSignalSource{signals: testSignals(20)}
	journeys := &fakeJourneySource{candles: risingJourney()}
	writer := &fakeFactCheckWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(source, journeys, NewEvaluator(5, 0.1), nil, writer, nil, nil, nil)
	summary, err := o.Run(ctx, OrchestratorOptions{MaxWorkers: 5})

	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Zero(t, summary.TotalChecked, "no new batch starts after cancellation")
}

func TestOrchestratorProfitFactor(t *testing.T) {
	summary := Summary{
		TotalChecked: 3,
		Correct:      2,
		Details: []core.FactCheck{
			{PredictedCorrect: true, PriceChangePct: 3},
			{PredictedCorrect: true, PriceChangePct: 1},
			{PredictedCorrect: false, PriceChangePct: -2},
		},
	}

	o := NewOrchestrator(nil, nil, NewEvaluator(5, 0.1), nil, nil, nil, nil, nil)
	o.finishSummary(&summary, time.Now())

	assert.InDelta(t, 2.0, summary.ProfitFactor, 0.01)

	// With no losses the factor equals the win sum.
	summary.Details = summary.Details[:2]
	o.finishSummary(&summary, time.Now())
	assert.InDelta(t, 4.0, summary.ProfitFactor, 0.01)
}
