package combos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalforge/internal/core"
)

func TestSummaryCachePutGet(t *testing.T) {
	c := NewSummaryCache(time.Hour)

	_, ok := c.Get("macd_cross", core.TF1h)
	assert.False(t, ok)

	c.Put("macd_cross", core.TF1h, SignalSummary{Accuracy: 72.5, SampleSize: 120, ProfitFactor: 1.8})

	summary, ok := c.Get("macd_cross", core.TF1h)
	require.True(t, ok)
	assert.Equal(t, 72.5, summary.Accuracy)
	assert.Equal(t, 120, summary.SampleSize)

	// Same signal on a different timeframe is a different key.
	_, ok = c.Get("macd_cross", core.TF4h)
	assert.False(t, ok)
}

func TestSummaryCacheTTL(t *testing.T) {
	c := NewSummaryCache(time.Hour)

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put("macd_cross", core.TF1h, SignalSummary{Accuracy: 72.5})

	c.now = func() time.Time { return now.Add(59 * time.Minute) }
	_, ok := c.Get("macd_cross", core.TF1h)
	assert.True(t, ok)

	c.now = func() time.Time { return now.Add(61 * time.Minute) }
	_, ok = c.Get("macd_cross", core.TF1h)
	assert.False(t, ok, "entries expire after the TTL")
}
