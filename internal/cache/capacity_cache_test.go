package cache_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/cache"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newCache(t *testing.T, maxEntries int) (*cache.CapacityCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := &config.CacheConfig{
		CodeTTL:          30 * time.Second,
		SnapshotTTL:      5 * time.Second,
		MaxEntries:       maxEntries,
		EvictionFraction: 0.1,
		SweepInterval:    time.Minute,
	}
	c := cache.New(cfg, logger.New("error", "json", "stdout"), cache.WithClock(clock.Now))
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func testCode(value string) *models.AccessCode {
	return models.NewAccessCode(value, value, models.CodeTypeBulk, 5, time.Now().Add(time.Hour))
}

func TestCapacityCache_CodeTTL(t *testing.T) {
	c, clock := newCache(t, 1000)
	code := testCode("ALPHA1")
	c.SetCode(code)

	t.Run("hit_by_id_and_value", func(t *testing.T) {
		got, ok := c.GetCode(code.ID)
		require.True(t, ok)
		assert.Equal(t, code.ID, got.ID)

		got, ok = c.GetCodeByValue("alpha1")
		require.True(t, ok)
		assert.Equal(t, code.ID, got.ID)
	})

	t.Run("expires_after_30_seconds", func(t *testing.T) {
		clock.Advance(29 * time.Second)
		_, ok := c.GetCode(code.ID)
		assert.True(t, ok)

		clock.Advance(time.Second)
		_, ok = c.GetCode(code.ID)
		assert.False(t, ok)

		stats := c.Stats()
		assert.Equal(t, 0, stats.CodeEntries)
		assert.Equal(t, 0, stats.IndexEntries, "expired read drops the index entry too")
	})
}

func TestCapacityCache_SnapshotTTL(t *testing.T) {
	c, clock := newCache(t, 1000)
	code := testCode("BETA22")
	snapshot := models.NewUsageSnapshot(code, 0, clock.Now())
	c.SetSnapshot(snapshot)

	got, ok := c.GetSnapshot(code.ID)
	require.True(t, ok)
	assert.Equal(t, snapshot.MaxCapacity, got.MaxCapacity)

	clock.Advance(5 * time.Second)
	_, ok = c.GetSnapshot(code.ID)
	assert.False(t, ok)
}

func TestCapacityCache_ReturnsCopies(t *testing.T) {
	c, _ := newCache(t, 1000)
	code := testCode("GAMMA3")
	c.SetCode(code)
	code.UsageCount = 4

	got, ok := c.GetCode(code.ID)
	require.True(t, ok)
	assert.Equal(t, 0, got.UsageCount)

	got.UsageCount = 5
	again, _ := c.GetCode(code.ID)
	assert.Equal(t, 0, again.UsageCount)
}

func TestCapacityCache_Invalidate(t *testing.T) {
	c, clock := newCache(t, 1000)
	first := testCode("DELTA4")
	second := testCode("EPSILON5")
	for _, code := range []*models.AccessCode{first, second} {
		c.SetCode(code)
		c.SetSnapshot(models.NewUsageSnapshot(code, 0, clock.Now()))
	}

	t.Run("single_code", func(t *testing.T) {
		c.Invalidate(first.ID)

		_, ok := c.GetCode(first.ID)
		assert.False(t, ok)
		_, ok = c.GetSnapshot(first.ID)
		assert.False(t, ok)
		_, ok = c.GetCodeByValue(first.Code)
		assert.False(t, ok)

		_, ok = c.GetCode(second.ID)
		assert.True(t, ok)
	})

	t.Run("all", func(t *testing.T) {
		c.InvalidateAll()
		stats := c.Stats()
		assert.Equal(t, 0, stats.CodeEntries)
		assert.Equal(t, 0, stats.SnapshotEntries)
		assert.Equal(t, 0, stats.IndexEntries)
	})
}

func TestCapacityCache_Eviction(t *testing.T) {
	tests := []struct {
		name        string
		maxEntries  int
		wantEvicted int
	}{
		{name: "ten_percent_of_1000", maxEntries: 1000, wantEvicted: 100},
		{name: "rounds_up", maxEntries: 15, wantEvicted: 2},
		{name: "at_least_one", maxEntries: 3, wantEvicted: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock := newCache(t, tt.maxEntries)

			codes := make([]*models.AccessCode, 0, tt.maxEntries)
			for i := range tt.maxEntries {
				code := testCode(fmt.Sprintf("CODE%04d", i))
				codes = append(codes, code)
				c.SetCode(code)
				clock.Advance(time.Millisecond)
			}

			overflow := testCode("OVERFLOW")
			c.SetCode(overflow)

			stats := c.Stats()
			assert.Equal(t, tt.maxEntries-tt.wantEvicted+1, stats.CodeEntries)
			assert.Equal(t, int64(tt.wantEvicted), stats.Evictions)

			for _, code := range codes[:tt.wantEvicted] {
				_, ok := c.GetCode(code.ID)
				assert.False(t, ok, "oldest entries are evicted first")
			}
			_, ok := c.GetCode(codes[tt.wantEvicted].ID)
			assert.True(t, ok)
			_, ok = c.GetCode(overflow.ID)
			assert.True(t, ok)
		})
	}
}

func TestCapacityCache_Sweep(t *testing.T) {
	c, clock := newCache(t, 1000)
	code := testCode("ZETA66")
	c.SetCode(code)
	c.SetSnapshot(models.NewUsageSnapshot(code, 0, clock.Now()))

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, c.Sweep(), "only the snapshot has expired")

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Stats().CodeEntries)
}
