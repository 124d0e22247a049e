package publisher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"signalforge/internal/core"
	"signalforge/internal/factcheck"
)

func TestPublisherWithoutTargets(t *testing.T) {
	// No Redis, no broadcaster: events are counted and dropped.
	p := NewPublisher(nil, nil, nil)
	defer p.Close()

	p.FactCheckCompleted(core.FactCheck{
		SignalName: "rsi_oversold",
		Timeframe:  core.TF1h,
		DetectedAt: time.Unix(1700000000, 0),
	})
	p.PassCompleted(factcheck.Summary{TotalChecked: 5, Correct: 3})
	p.ComboDiscovered("abc123", "1h", 72.0, 30)

	m := p.GetMetrics()
	assert.Equal(t, int64(3), m.TotalEvents)
	assert.Equal(t, int64(3), m.SuccessfulEvents)
	assert.True(t, p.Health(), "healthy without a Redis client")
}

func TestPublisherThrottle(t *testing.T) {
	p := NewPublisher(nil, nil, nil)
	defer p.Close()
	p.SetThrottleLimit(2)

	for i := 0; i < 5; i++ {
		p.ComboDiscovered("sig", "1h", 70, 25)
	}

	m := p.GetMetrics()
	assert.Equal(t, int64(5), m.TotalEvents)
	assert.Equal(t, int64(2), m.SuccessfulEvents)
	assert.Equal(t, int64(3), m.ThrottledEvents)
}
