package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/redis"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

func newTestStore(t *testing.T, now func() time.Time) *redis.MemoryStore {
	t.Helper()
	log := logger.New("error", "json", "stdout")
	store := redis.NewMemoryStore(log, redis.WithClock(now))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedCode(t *testing.T, store *redis.MemoryStore, value string, maxUsage int, expiresAt time.Time) *models.AccessCode {
	t.Helper()
	code := models.NewAccessCode(value, "Test "+value, models.CodeTypeBulk, maxUsage, expiresAt)
	require.NoError(t, store.CreateCode(context.Background(), code))
	return code
}

func TestMemoryStore_Codes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	code := seedCode(t, store, "summer25", 3, now.Add(time.Hour))

	t.Run("lookup_by_value_is_case_insensitive", func(t *testing.T) {
		found, err := store.GetCodeByValue(ctx, "  Summer25 ")
		require.NoError(t, err)
		assert.Equal(t, code.ID, found.ID)
		assert.Equal(t, "SUMMER25", found.Code)
	})

	t.Run("duplicate_value_rejected", func(t *testing.T) {
		dup := models.NewAccessCode("SUMMER25", "dup", models.CodeTypeBulk, 1, now.Add(time.Hour))
		err := store.CreateCode(ctx, dup)
		assert.ErrorIs(t, err, models.ErrDuplicateCode)
	})

	t.Run("unknown_code", func(t *testing.T) {
		_, err := store.GetCodeByID(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrCodeNotFound)
		_, err = store.GetCodeByValue(ctx, "NOPE")
		assert.ErrorIs(t, err, models.ErrCodeNotFound)
	})

	t.Run("returned_code_is_a_copy", func(t *testing.T) {
		found, err := store.GetCodeByID(ctx, code.ID)
		require.NoError(t, err)
		found.UsageCount = 99

		usage, err := store.GetUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, usage.Current)
	})

	t.Run("expired_active_listing_and_deactivation", func(t *testing.T) {
		expired := seedCode(t, store, "OLD2024", 5, now.Add(-time.Minute))

		list, err := store.ListExpiredActiveCodes(ctx, now)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, expired.ID, list[0].ID)

		ok, err := store.DeactivateCode(ctx, expired.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.DeactivateCode(ctx, expired.ID)
		require.NoError(t, err)
		assert.False(t, ok, "second deactivation must be a no-op")

		active, err := store.ListCodes(ctx, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, code.ID, active[0].ID)

		all, err := store.ListCodes(ctx, false)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestMemoryStore_Ledger(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	t.Run("increment_stops_at_max", func(t *testing.T) {
		code := seedCode(t, store, "CAP3", 3, now.Add(time.Hour))

		for range 3 {
			ok, err := store.IncrementUsage(ctx, code.ID)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		ok, err := store.IncrementUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		hasCapacity, err := store.CheckCapacity(ctx, code.ID)
		require.NoError(t, err)
		assert.False(t, hasCapacity)

		usage, err := store.GetUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, usage.Current)
		assert.Equal(t, 3, usage.Max)
		assert.Equal(t, 0, usage.Remaining())
	})

	t.Run("decrement_floors_at_zero", func(t *testing.T) {
		code := seedCode(t, store, "FLOOR1", 2, now.Add(time.Hour))

		ok, err := store.DecrementUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		usage, err := store.GetUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, usage.Current)
	})

	t.Run("increment_refused_when_expired_or_inactive", func(t *testing.T) {
		expired := seedCode(t, store, "GONE1", 5, now)
		ok, err := store.IncrementUsage(ctx, expired.ID)
		require.NoError(t, err)
		assert.False(t, ok, "expiry equal to now counts as expired")

		inactive := seedCode(t, store, "OFF1", 5, now.Add(time.Hour))
		_, err = store.DeactivateCode(ctx, inactive.ID)
		require.NoError(t, err)
		ok, err = store.IncrementUsage(ctx, inactive.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing_code", func(t *testing.T) {
		ok, err := store.IncrementUsage(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.GetUsage(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrCodeNotFound)
	})
}

func TestMemoryStore_ConcurrentIncrement(t *testing.T) {
	store := newTestStore(t, time.Now)
	ctx := context.Background()
	code := seedCode(t, store, "RUSH50", 5, time.Now().Add(time.Hour))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		start     = make(chan struct{})
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := store.IncrementUsage(ctx, code.ID)
			if err == nil && ok {
				succeeded.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(5), succeeded.Load())

	usage, err := store.GetUsage(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.Current)
}

func TestMemoryStore_Sessions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()
	code := seedCode(t, store, "SESS1", 10, now.Add(time.Hour))

	stale := models.NewSession(code.ID, now.Add(-45*time.Minute))
	older := models.NewSession(code.ID, now.Add(-2*time.Hour))
	fresh := models.NewSession(code.ID, now.Add(-time.Minute))
	for _, s := range []*models.Session{stale, older, fresh} {
		require.NoError(t, store.CreateSession(ctx, s))
	}

	t.Run("count_active", func(t *testing.T) {
		count, err := store.CountActiveSessions(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("idle_listing_is_oldest_first_and_limited", func(t *testing.T) {
		idle, err := store.ListIdleSessions(ctx, now.Add(-30*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, idle, 2)
		assert.Equal(t, older.ID, idle[0].ID)
		assert.Equal(t, stale.ID, idle[1].ID)

		limited, err := store.ListIdleSessions(ctx, now.Add(-30*time.Minute), 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, older.ID, limited[0].ID)
	})

	t.Run("individual_sessions_never_idle", func(t *testing.T) {
		personal := models.NewAccessCode("MINE01", "Mine", models.CodeTypeIndividual, 1, now.Add(time.Hour))
		require.NoError(t, store.CreateCode(ctx, personal))
		own := models.NewSession(personal.ID, now.Add(-3*time.Hour))
		require.NoError(t, store.CreateSession(ctx, own))

		idle, err := store.ListIdleSessions(ctx, now.Add(-30*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, idle, 2)
		for _, s := range idle {
			assert.NotEqual(t, own.ID, s.ID)
		}
	})

	t.Run("touch_moves_session_out_of_idle", func(t *testing.T) {
		ok, err := store.TouchSession(ctx, stale.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)

		idle, err := store.ListIdleSessions(ctx, now.Add(-30*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, idle, 1)
		assert.Equal(t, older.ID, idle[0].ID)
	})

	t.Run("end_is_conditional", func(t *testing.T) {
		ok, err := store.EndSession(ctx, older.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.EndSession(ctx, older.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)

		ended, err := store.GetSession(ctx, older.ID)
		require.NoError(t, err)
		assert.False(t, ended.IsActive)
		require.NotNil(t, ended.EndedAt)
		assert.Equal(t, now, *ended.EndedAt)

		ok, err = store.TouchSession(ctx, older.ID, now)
		require.NoError(t, err)
		assert.False(t, ok, "ended sessions cannot be touched")
	})

	t.Run("end_sessions_for_code", func(t *testing.T) {
		count, err := store.EndSessionsForCode(ctx, code.ID, now)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		active, err := store.CountActiveSessions(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, active)
	})

	t.Run("unknown_session", func(t *testing.T) {
		_, err := store.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrSessionNotFound)

		ok, err := store.EndSession(ctx, "missing", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
