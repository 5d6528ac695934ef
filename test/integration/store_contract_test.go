package integration_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/access"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/cache"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/monitor"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/recovery"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/repository"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/token"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

const concurrentRedeemers = 40

// runStoreContract exercises the behavior every repository.Store backend must share.
func runStoreContract(t *testing.T, store repository.Store) {
	t.Helper()

	ctx := context.Background()

	newCode := func(t *testing.T, value string, maxUsage int) *models.AccessCode {
		t.Helper()
		code := models.NewAccessCode(value, value+" name", models.CodeTypeBulk, maxUsage, time.Now().Add(time.Hour))
		require.NoError(t, store.CreateCode(ctx, code))
		return code
	}

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})

	t.Run("code_lookup_is_case_insensitive", func(t *testing.T) {
		code := newCode(t, "Lookup-Code", 3)

		byValue, err := store.GetCodeByValue(ctx, strings.ToLower(code.Code))
		require.NoError(t, err)
		assert.Equal(t, code.ID, byValue.ID)

		byID, err := store.GetCodeByID(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, byID.MaxUsageCount)

		_, err = store.GetCodeByValue(ctx, "NO-SUCH-CODE")
		assert.ErrorIs(t, err, models.ErrCodeNotFound)
	})

	t.Run("duplicate_code_rejected", func(t *testing.T) {
		newCode(t, "DUP-CODE", 1)

		dup := models.NewAccessCode("dup-code", "again", models.CodeTypeBulk, 1, time.Now().Add(time.Hour))
		assert.ErrorIs(t, store.CreateCode(ctx, dup), models.ErrDuplicateCode)
	})

	t.Run("increment_stops_at_capacity", func(t *testing.T) {
		code := newCode(t, "CAP-TWO", 2)

		for i := 0; i < 2; i++ {
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
		assert.Equal(t, 2, usage.Current)
		assert.Equal(t, 2, usage.Max)
	})

	t.Run("decrement_floors_at_zero", func(t *testing.T) {
		code := newCode(t, "FLOOR-CODE", 2)

		ok, err := store.IncrementUsage(ctx, code.ID)
		require.NoError(t, err)
		require.True(t, ok)

		released, err := store.DecrementUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.True(t, released)

		released, err = store.DecrementUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.False(t, released)

		usage, err := store.GetUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, usage.Current)
	})

	t.Run("concurrent_increments_never_exceed_capacity", func(t *testing.T) {
		const capacity = 7
		code := newCode(t, "RACE-CODE", capacity)

		var wg sync.WaitGroup
		var granted atomic.Int64
		for i := 0; i < concurrentRedeemers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.IncrementUsage(ctx, code.ID)
				if assert.NoError(t, err) && ok {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(capacity), granted.Load())

		usage, err := store.GetUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, capacity, usage.Current)
	})

	t.Run("inactive_code_refuses_increment", func(t *testing.T) {
		code := newCode(t, "RETIRED", 5)

		deactivated, err := store.DeactivateCode(ctx, code.ID)
		require.NoError(t, err)
		assert.True(t, deactivated)

		deactivated, err = store.DeactivateCode(ctx, code.ID)
		require.NoError(t, err)
		assert.False(t, deactivated)

		ok, err := store.IncrementUsage(ctx, code.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("session_ends_exactly_once", func(t *testing.T) {
		code := newCode(t, "SESSION-CODE", 5)
		start := time.Now().UTC().Truncate(time.Millisecond)

		session := models.NewSession(code.ID, start)
		require.NoError(t, store.CreateSession(ctx, session))

		touched, err := store.TouchSession(ctx, session.ID, start.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, touched)

		active, err := store.CountActiveSessions(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, active)

		var wg sync.WaitGroup
		var ended atomic.Int64
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, endErr := store.EndSession(ctx, session.ID, start.Add(2*time.Minute))
				if assert.NoError(t, endErr) && ok {
					ended.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(1), ended.Load())

		touched, err = store.TouchSession(ctx, session.ID, start.Add(3*time.Minute))
		require.NoError(t, err)
		assert.False(t, touched)

		stored, err := store.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
	})

	t.Run("idle_sessions_and_code_wide_end", func(t *testing.T) {
		code := newCode(t, "IDLE-CODE", 5)
		now := time.Now().UTC().Truncate(time.Millisecond)

		stale := models.NewSession(code.ID, now.Add(-45*time.Minute))
		fresh := models.NewSession(code.ID, now.Add(-5*time.Minute))
		require.NoError(t, store.CreateSession(ctx, stale))
		require.NoError(t, store.CreateSession(ctx, fresh))

		idle, err := store.ListIdleSessions(ctx, now.Add(-30*time.Minute), 100)
		require.NoError(t, err)
		ids := make([]string, 0, len(idle))
		for _, s := range idle {
			ids = append(ids, s.ID)
		}
		assert.Contains(t, ids, stale.ID)
		assert.NotContains(t, ids, fresh.ID)

		personal := models.NewAccessCode("IDLE-MINE", "IDLE-MINE name", models.CodeTypeIndividual, 1, time.Now().Add(time.Hour))
		require.NoError(t, store.CreateCode(ctx, personal))
		own := models.NewSession(personal.ID, now.Add(-45*time.Minute))
		require.NoError(t, store.CreateSession(ctx, own))

		idle, err = store.ListIdleSessions(ctx, now.Add(-30*time.Minute), 100)
		require.NoError(t, err)
		for _, s := range idle {
			assert.NotEqual(t, own.ID, s.ID, "sessions of individual codes are never idle")
		}

		endedCount, err := store.EndSessionsForCode(ctx, code.ID, now)
		require.NoError(t, err)
		assert.Equal(t, 2, endedCount)

		active, err := store.CountActiveSessions(ctx, code.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, active)
	})
}

// runRedemptionScenario drives concurrent redemptions of one code through the
// full redemption service and then releases every session.
func runRedemptionScenario(t *testing.T, store repository.Store) {
	t.Helper()

	ctx := context.Background()
	log := logger.New("error", "json", "stdout")

	accessCfg := &config.AccessConfig{
		DefaultCodeExpiry: time.Hour,
		MaxUsageLimit:     400,
		IdleTimeout:       30 * time.Minute,
		SweepBatchSize:    100,
		OperationTimeout:  10 * time.Second,
	}

	capacityCache := cache.New(&config.CacheConfig{
		CodeTTL:          30 * time.Second,
		SnapshotTTL:      5 * time.Second,
		MaxEntries:       1000,
		EvictionFraction: 0.1,
		SweepInterval:    time.Minute,
	}, log)
	defer capacityCache.Close()

	deps := access.Dependencies{
		Store: store,
		Cache: capacityCache,
		Policy: recovery.NewPolicy(&config.RecoveryConfig{
			MaxElapsed: 5 * time.Second,
			Strategies: config.DefaultRetryStrategies(),
		}, log),
		Monitor: monitor.New(&config.MonitorConfig{
			RawRetention:      time.Hour,
			StatsIdleTTL:      time.Hour,
			ConcurrencyWindow: 5 * time.Minute,
			Thresholds:        config.DefaultAlertThresholds(),
		}, log),
		Tokens: token.NewJWTService(&config.JWTConfig{
			Secret:             strings.Repeat("k", 48),
			SessionTokenExpiry: time.Hour,
			Issuer:             "access-service",
			Algorithm:          "HS256",
			AdminScope:         "admin",
		}),
		Logger: log,
	}

	redeemer := access.NewRedemptionService(accessCfg, deps)
	admin := access.NewAdminService(accessCfg, access.NewLifecycleService(accessCfg, deps), deps)

	const capacity = 5
	code, err := admin.CreateCode(ctx, &models.CreateCodeRequest{
		Code:          "FLOW-CODE",
		Name:          "Integration flow",
		MaxUsageCount: capacity,
	})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  []*models.RedeemResult
		rejected atomic.Int64
	)
	for i := 0; i < concurrentRedeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, redeemErr := redeemer.Redeem(ctx, "flow-code")
			if redeemErr != nil {
				re, ok := models.AsRedemptionError(redeemErr)
				if assert.True(t, ok, "unexpected error %v", redeemErr) {
					assert.Equal(t, models.KindCapacityExceeded, re.Kind)
				}
				rejected.Add(1)
				return
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, results, capacity)
	assert.Equal(t, int64(concurrentRedeemers-capacity), rejected.Load())

	usage, err := store.GetUsage(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, usage.Current)

	for _, r := range results {
		endResult, endErr := redeemer.EndSession(ctx, r.SessionToken)
		require.NoError(t, endErr)
		assert.True(t, endResult.UsageDecremented)

		again, endErr := redeemer.EndSession(ctx, r.SessionToken)
		require.NoError(t, endErr)
		assert.False(t, again.Ended)
	}

	usage, err = store.GetUsage(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Current)

	_, err = redeemer.Redeem(ctx, "FLOW-CODE")
	assert.NoError(t, err)
}
