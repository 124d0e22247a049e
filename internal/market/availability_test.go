package market

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalforge/internal/exchanges"
)

func TestIsSymbolNotFound(t *testing.T) {
	assert.True(t, IsSymbolNotFound(errors.New("HTTP 404: page missing")))
	assert.True(t, IsSymbolNotFound(errors.New("symbol Not Found on venue")))
	assert.True(t, IsSymbolNotFound(errors.New("Invalid Symbol XYZUSDT")))
	assert.True(t, IsSymbolNotFound(errors.New("pair does not exist")))
	assert.True(t, IsSymbolNotFound(errors.New("invalid response: unexpected end of JSON input")))
	assert.True(t, IsSymbolNotFound(errors.New("symbol not supported here")))
	assert.False(t, IsSymbolNotFound(errors.New("HTTP 500: internal error")))
	assert.False(t, IsSymbolNotFound(errors.New("context deadline exceeded")))
	assert.False(t, IsSymbolNotFound(nil))
}

func TestAvailabilityMarking(t *testing.T) {
	c := NewAvailabilityCache(24*time.Hour, nil)

	c.MarkAvailable("BTC", exchanges.VenueBinance)
	c.MarkUnavailable("BTC", exchanges.VenueTabdeal)

	known := c.KnownAvailable("BTC")
	require.NotNil(t, known)
	assert.True(t, known[exchanges.VenueBinance])
	assert.False(t, known[exchanges.VenueTabdeal])
	assert.True(t, c.IsUnavailable("BTC", exchanges.VenueTabdeal))
	assert.False(t, c.IsUnavailable("BTC", exchanges.VenueBinance))

	// An unavailable marker overwrites a previous available one.
	c.MarkUnavailable("BTC", exchanges.VenueBinance)
	assert.True(t, c.IsUnavailable("BTC", exchanges.VenueBinance))
	assert.Nil(t, c.KnownAvailable("BTC"))
}

func TestAvailabilityTTLExpiry(t *testing.T) {
	c := NewAvailabilityCache(24*time.Hour, nil)

	now := time.Now()
	c.now = func() time.Time { return now }
	c.MarkAvailable("ETH", exchanges.VenueKuCoin)

	// Within the TTL the marker holds.
	c.now = func() time.Time { return now.Add(23 * time.Hour) }
	assert.NotNil(t, c.KnownAvailable("ETH"))

	// Past the TTL nothing is known any more.
	c.now = func() time.Time { return now.Add(25 * time.Hour) }
	assert.Nil(t, c.KnownAvailable("ETH"))
	assert.False(t, c.IsUnavailable("ETH", exchanges.VenueKuCoin))
}

func TestAvailabilitySnapshotRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "availability.json")

	c := NewAvailabilityCache(24*time.Hour, nil)
	c.MarkAvailable("BTC", exchanges.VenueBinance)
	c.MarkUnavailable("BTC", exchanges.VenueNobitex)
	c.MarkAvailable("ETH", exchanges.VenueBybit)
	require.NoError(t, c.SaveSnapshot(path))

	restored := NewAvailabilityCache(24*time.Hour, nil)
	require.NoError(t, restored.LoadSnapshot(path))

	known := restored.KnownAvailable("BTC")
	require.NotNil(t, known)
	assert.True(t, known[exchanges.VenueBinance])
	assert.True(t, restored.IsUnavailable("BTC", exchanges.VenueNobitex))
	assert.NotNil(t, restored.KnownAvailable("ETH"))
}

func TestAvailabilitySnapshotMissingFile(t *testing.T) {
	c := NewAvailabilityCache(24*time.Hour, nil)
	assert.NoError(t, c.LoadSnapshot(filepath.Join(t.TempDir(), "nope.json")))
}
