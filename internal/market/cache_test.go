package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

func TestCacheUpdateAndRead(t *testing.T) {
	c := NewCache(100)
	now := time.Now()

	c.Update("BTCUSDT", 43000, 12.5, domain.Stats24h{Symbol: "BTCUSDT", PriceChangePct: 1.2}, now)
	c.Update("BTCUSDT", 43100, 9.1, domain.Stats24h{Symbol: "BTCUSDT", PriceChangePct: 1.4}, now.Add(time.Minute))

	price, ok := c.LastPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 43100.0, price)

	stats, ok := c.Stats("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.4, stats.PriceChangePct)

	snap, ok := c.Snapshot("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, []float64{43000, 43100}, snap.Closes)
	assert.Equal(t, []float64{12.5, 9.1}, snap.Volumes)
	assert.Equal(t, now.Add(time.Minute), snap.UpdatedAt)
}

func TestCacheWindowRequiresEnoughHistory(t *testing.T) {
	c := NewCache(100)
	for i := 0; i < 5; i++ {
		c.Update("ETHUSDT", float64(2000+i), float64(10+i), domain.Stats24h{}, time.Now())
	}

	_, _, err := c.Window("ETHUSDT", 10)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)

	_, _, err = c.Window("UNKNOWN", 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)

	closes, volumes, err := c.Window("ETHUSDT", 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{2002, 2003, 2004}, closes)
	assert.Equal(t, []float64{12, 13, 14}, volumes)
}

func TestCacheBoundsHistory(t *testing.T) {
	c := NewCache(50)
	for i := 0; i < 120; i++ {
		c.Update("BTCUSDT", float64(i), float64(i), domain.Stats24h{}, time.Now())
	}

	snap, ok := c.Snapshot("BTCUSDT")
	require.True(t, ok)
	assert.Len(t, snap.Closes, 50)
	assert.Len(t, snap.Volumes, 50)
	assert.Equal(t, 70.0, snap.Closes[0], "oldest points are discarded")
	assert.Equal(t, 119.0, snap.Closes[49])
}

func TestCacheSnapshotReturnsCopy(t *testing.T) {
	c := NewCache(10)
	c.Update("BTCUSDT", 100, 1, domain.Stats24h{}, time.Now())

	snap, _ := c.Snapshot("BTCUSDT")
	snap.Closes[0] = -1

	again, _ := c.Snapshot("BTCUSDT")
	assert.Equal(t, 100.0, again.Closes[0], "mutating a copy must not touch the cache")
}

func TestCacheDrop(t *testing.T) {
	c := NewCache(10)
	c.Update("SOLUSDT", 98, 1, domain.Stats24h{}, time.Now())
	require.Contains(t, c.Symbols(), "SOLUSDT")

	c.Drop("SOLUSDT")
	_, ok := c.LastPrice("SOLUSDT")
	assert.False(t, ok)
	assert.NotContains(t, c.Symbols(), "SOLUSDT")
}
