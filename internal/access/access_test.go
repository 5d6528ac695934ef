package access_test

import (
	"context"
	"errors"
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
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/redis"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/token"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

const testSecret = "test-secret-key-for-jwt-testing-purposes-123456789" // pragma: allowlist secret

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore wraps a MemoryStore and lets tests replace individual operations.
type faultyStore struct {
	*redis.MemoryStore

	incrementCalls atomic.Int64
	incrementUsage func(ctx context.Context, codeID string) (bool, error)
	decrementUsage func(ctx context.Context, codeID string) (bool, error)
	createSession  func(ctx context.Context, session *models.Session) error
	getUsage       func(ctx context.Context, codeID string) (*models.UsageCount, error)
	getCodeByID    func(ctx context.Context, codeID string) (*models.AccessCode, error)
}

func (f *faultyStore) GetUsage(ctx context.Context, codeID string) (*models.UsageCount, error) {
	if f.getUsage != nil {
		return f.getUsage(ctx, codeID)
	}
	return f.MemoryStore.GetUsage(ctx, codeID)
}

func (f *faultyStore) GetCodeByID(ctx context.Context, codeID string) (*models.AccessCode, error) {
	if f.getCodeByID != nil {
		return f.getCodeByID(ctx, codeID)
	}
	return f.MemoryStore.GetCodeByID(ctx, codeID)
}

func (f *faultyStore) IncrementUsage(ctx context.Context, codeID string) (bool, error) {
	f.incrementCalls.Add(1)
	if f.incrementUsage != nil {
		return f.incrementUsage(ctx, codeID)
	}
	return f.MemoryStore.IncrementUsage(ctx, codeID)
}

func (f *faultyStore) DecrementUsage(ctx context.Context, codeID string) (bool, error) {
	if f.decrementUsage != nil {
		return f.decrementUsage(ctx, codeID)
	}
	return f.MemoryStore.DecrementUsage(ctx, codeID)
}

func (f *faultyStore) CreateSession(ctx context.Context, session *models.Session) error {
	if f.createSession != nil {
		return f.createSession(ctx, session)
	}
	return f.MemoryStore.CreateSession(ctx, session)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.AccessEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event *models.AccessEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*models.OperatorAlert
}

func (n *recordingNotifier) NotifyOperators(_ context.Context, alert *models.OperatorAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

type harness struct {
	clock     *fakeClock
	store     *faultyStore
	cache     *cache.CapacityCache
	monitor   *monitor.Monitor
	tokens    token.Service
	events    *recordingPublisher
	notifier  *recordingNotifier
	redeemer  *access.RedemptionService
	lifecycle *access.LifecycleService
	admin     access.AdminService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := logger.New("error", "json", "stdout")
	clock := newFakeClock()

	memory := redis.NewMemoryStore(log, redis.WithClock(clock.Now))
	t.Cleanup(func() { _ = memory.Close() })

	accessCfg := &config.AccessConfig{
		DefaultCodeExpiry: 24 * time.Hour,
		MaxUsageLimit:     400,
		IdleTimeout:       30 * time.Minute,
		CleanupInterval:   time.Hour,
		SweepBatchSize:    100,
	}

	h := &harness{
		clock: clock,
		store: &faultyStore{MemoryStore: memory},
		cache: cache.New(&config.CacheConfig{
			CodeTTL:          30 * time.Second,
			SnapshotTTL:      5 * time.Second,
			MaxEntries:       1000,
			EvictionFraction: 0.1,
			SweepInterval:    time.Minute,
		}, log, cache.WithClock(clock.Now)),
		monitor: monitor.New(&config.MonitorConfig{
			RawRetention:      24 * time.Hour,
			StatsIdleTTL:      time.Hour,
			ConcurrencyWindow: 5 * time.Minute,
			Thresholds:        config.DefaultAlertThresholds(),
		}, log),
		tokens: token.NewJWTService(&config.JWTConfig{
			Secret:             testSecret,
			SessionTokenExpiry: 12 * time.Hour,
			Issuer:             "access-service",
			Algorithm:          "HS256",
			AdminScope:         "admin",
		}),
		events:   &recordingPublisher{},
		notifier: &recordingNotifier{},
	}

	policy := recovery.NewPolicy(
		&config.RecoveryConfig{Strategies: config.DefaultRetryStrategies()},
		log,
		recovery.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	deps := access.Dependencies{
		Store:    h.store,
		Cache:    h.cache,
		Policy:   policy,
		Monitor:  h.monitor,
		Tokens:   h.tokens,
		Events:   h.events,
		Notifier: h.notifier,
		Logger:   log,
		Clock:    clock.Now,
	}

	h.redeemer = access.NewRedemptionService(accessCfg, deps)
	h.lifecycle = access.NewLifecycleService(accessCfg, deps)
	h.admin = access.NewAdminService(accessCfg, h.lifecycle, deps)
	return h
}

func (h *harness) createCode(t *testing.T, value string, codeType models.CodeType, maxUsage int, expiresIn time.Duration) *models.AccessCode {
	t.Helper()
	code := models.NewAccessCode(value, "Test "+value, codeType, maxUsage, h.clock.Now().Add(expiresIn))
	require.NoError(t, h.store.CreateCode(context.Background(), code))
	return code
}

func (h *harness) usage(t *testing.T, codeID string) int {
	t.Helper()
	usage, err := h.store.GetUsage(context.Background(), codeID)
	require.NoError(t, err)
	return usage.Current
}

func (h *harness) activeSessions(t *testing.T, codeID string) int {
	t.Helper()
	n, err := h.store.CountActiveSessions(context.Background(), codeID)
	require.NoError(t, err)
	return n
}

func TestRedeem_CapacityLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "EVENT2024", models.CodeTypeBulk, 3, 24*time.Hour)

	for i := range 3 {
		result, err := h.redeemer.Redeem(ctx, "event2024")
		require.NoError(t, err, "redemption %d", i+1)
		assert.NotEmpty(t, result.SessionID)
		assert.NotEmpty(t, result.SessionToken)
		assert.Equal(t, code.ID, result.CodeID)
		assert.Equal(t, models.CodeTypeBulk, result.CodeType)
		assert.Equal(t, "Test EVENT2024", result.CodeName)
	}

	_, err := h.redeemer.Redeem(ctx, "EVENT2024")
	require.ErrorIs(t, err, models.ErrCapacityExceeded)

	re, ok := models.AsRedemptionError(err)
	require.True(t, ok)
	assert.Contains(t, re.UserMessage, "3/3")
	assert.NotContains(t, re.UserMessage, code.ID)
	assert.False(t, re.Recoverable)

	assert.Equal(t, 3, h.usage(t, code.ID))
	assert.Equal(t, 3, h.activeSessions(t, code.ID))
}

func TestRedeem_ConcurrentBurst(t *testing.T) {
	h := newHarness(t)
	code := h.createCode(t, "BURST50", models.CodeTypeBulk, 5, 24*time.Hour)

	const attempts = 50
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		exceeded  atomic.Int64
		other     atomic.Int64
	)

	start := make(chan struct{})
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.redeemer.Redeem(context.Background(), "BURST50")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, models.ErrCapacityExceeded):
				exceeded.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(5), succeeded.Load())
	assert.Equal(t, int64(attempts-5), exceeded.Load())
	assert.Zero(t, other.Load())
	assert.Equal(t, 5, h.usage(t, code.ID))
	assert.Equal(t, 5, h.activeSessions(t, code.ID))
}

func TestRedeem_ExpiredCodeDoesNotTouchLedger(t *testing.T) {
	h := newHarness(t)
	code := h.createCode(t, "OLDCODE1", models.CodeTypeBulk, 5, -time.Minute)

	_, err := h.redeemer.Redeem(context.Background(), "OLDCODE1")
	require.ErrorIs(t, err, models.ErrExpired)

	re, _ := models.AsRedemptionError(err)
	require.NotNil(t, re.Details.ExpiresAt)
	assert.Contains(t, re.UserMessage, "expired on")

	assert.Zero(t, h.store.incrementCalls.Load())
	assert.Zero(t, h.usage(t, code.ID))
	assert.Zero(t, h.activeSessions(t, code.ID))
	assert.Empty(t, h.events.types())
}

func TestRedeem_InvalidCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inactive := h.createCode(t, "DISABLED", models.CodeTypeBulk, 5, time.Hour)
	_, err := h.store.DeactivateCode(ctx, inactive.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		code string
	}{
		{name: "unknown_code", code: "NOSUCHCODE"},
		{name: "inactive_code", code: "DISABLED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.redeemer.Redeem(ctx, tt.code)
			require.ErrorIs(t, err, models.ErrInvalidCode)
		})
	}
	assert.Zero(t, h.store.incrementCalls.Load())
}

func TestRedeem_DeactivatedWhileCached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "RACECODE", models.CodeTypeBulk, 5, time.Hour)

	_, err := h.redeemer.Redeem(ctx, "RACECODE")
	require.NoError(t, err)

	// Warm the cache, then deactivate behind its back.
	_, err = h.admin.Usage(ctx, code.ID)
	require.NoError(t, err)
	_, err = h.store.DeactivateCode(ctx, code.ID)
	require.NoError(t, err)

	_, err = h.redeemer.Redeem(ctx, "RACECODE")
	require.ErrorIs(t, err, models.ErrInvalidCode)
	assert.Equal(t, 1, h.usage(t, code.ID))
}

func TestRedeem_IndividualCodeSkipsLedger(t *testing.T) {
	h := newHarness(t)
	code := h.createCode(t, "PERSONAL1", models.CodeTypeIndividual, 1, time.Hour)

	for range 2 {
		result, err := h.redeemer.Redeem(context.Background(), "PERSONAL1")
		require.NoError(t, err)
		assert.Equal(t, models.CodeTypeIndividual, result.CodeType)
	}

	assert.Zero(t, h.store.incrementCalls.Load())
	assert.Zero(t, h.usage(t, code.ID))
	assert.Equal(t, 2, h.activeSessions(t, code.ID))
}

func TestRedeem_RetryRechecksUsage(t *testing.T) {
	h := newHarness(t)
	code := h.createCode(t, "RETRYME", models.CodeTypeBulk, 2, time.Hour)

	// The first increment is applied but reported as failed, and another
	// holder takes the last unit before the retry.
	h.store.incrementUsage = func(ctx context.Context, codeID string) (bool, error) {
		_, _ = h.store.MemoryStore.IncrementUsage(ctx, codeID)
		_, _ = h.store.MemoryStore.IncrementUsage(ctx, codeID)
		return false, errors.New("connection reset")
	}

	_, err := h.redeemer.Redeem(context.Background(), "RETRYME")
	require.ErrorIs(t, err, models.ErrCapacityExceeded)
	assert.Equal(t, int64(1), h.store.incrementCalls.Load(), "no second increment once the code is full")
	assert.Equal(t, 2, h.usage(t, code.ID))
}

func TestRedeem_RetryStopsWhenRecheckFails(t *testing.T) {
	h := newHarness(t)
	code := h.createCode(t, "NOREREAD", models.CodeTypeBulk, 5, time.Hour)

	h.store.incrementUsage = func(ctx context.Context, codeID string) (bool, error) {
		_, _ = h.store.MemoryStore.IncrementUsage(ctx, codeID)
		return false, errors.New("connection reset")
	}
	h.store.getUsage = func(context.Context, string) (*models.UsageCount, error) {
		return nil, errors.New("connection refused")
	}

	_, err := h.redeemer.Redeem(context.Background(), "NOREREAD")
	require.ErrorIs(t, err, models.ErrDatabase)
	assert.Equal(t, int64(1), h.store.incrementCalls.Load(), "no increment without a fresh usage read")
	stored, readErr := h.store.MemoryStore.GetUsage(context.Background(), code.ID)
	require.NoError(t, readErr)
	assert.Equal(t, 1, stored.Current)

	re, _ := models.AsRedemptionError(err)
	assert.True(t, re.Recoverable)
	assert.Equal(t, 2, re.Details.Attempts)
}

func TestRedeem_RefusalWithUnreadableCode(t *testing.T) {
	h := newHarness(t)
	h.createCode(t, "UNREAD01", models.CodeTypeBulk, 3, time.Hour)

	h.store.incrementUsage = func(context.Context, string) (bool, error) {
		return false, nil
	}
	h.store.getCodeByID = func(context.Context, string) (*models.AccessCode, error) {
		return nil, errors.New("connection refused")
	}

	_, err := h.redeemer.Redeem(context.Background(), "UNREAD01")
	require.ErrorIs(t, err, models.ErrDatabase)
	assert.NotErrorIs(t, err, models.ErrCapacityExceeded)

	re, _ := models.AsRedemptionError(err)
	assert.True(t, re.Recoverable)
	assert.NotContains(t, re.UserMessage, "3/3")
}

func TestRedeem_RefusalCachesActiveSessionCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "FULLHOUSE", models.CodeTypeBulk, 2, time.Hour)

	first, err := h.redeemer.Redeem(ctx, "FULLHOUSE")
	require.NoError(t, err)
	_, err = h.redeemer.Redeem(ctx, "FULLHOUSE")
	require.NoError(t, err)

	// The session ends without its unit coming back, leaving usage above
	// the number of active sessions.
	ended, err := h.store.MemoryStore.EndSession(ctx, first.SessionID, h.clock.Now())
	require.NoError(t, err)
	require.True(t, ended)

	_, err = h.redeemer.Redeem(ctx, "FULLHOUSE")
	require.ErrorIs(t, err, models.ErrCapacityExceeded)

	snapshots, err := h.admin.Usage(ctx, code.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 2, snapshots[0].CurrentUsage)
	assert.Equal(t, 1, snapshots[0].ActiveSessions)
}

func TestRedeem_ConflictIsRetried(t *testing.T) {
	h := newHarness(t)
	code := h.createCode(t, "CONFLICT", models.CodeTypeBulk, 2, time.Hour)

	var calls atomic.Int64
	h.store.incrementUsage = func(ctx context.Context, codeID string) (bool, error) {
		if calls.Add(1) <= 2 {
			return false, models.ErrConcurrentUpdate
		}
		return h.store.MemoryStore.IncrementUsage(ctx, codeID)
	}

	_, err := h.redeemer.Redeem(context.Background(), "CONFLICT")
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 1, h.usage(t, code.ID))
}

func TestRedeem_IncrementFailureExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	h.createCode(t, "BROKEN01", models.CodeTypeBulk, 2, time.Hour)

	h.store.incrementUsage = func(context.Context, string) (bool, error) {
		return false, errors.New("database unavailable")
	}

	_, err := h.redeemer.Redeem(context.Background(), "BROKEN01")
	require.ErrorIs(t, err, models.ErrUsageIncrementFailed)

	re, _ := models.AsRedemptionError(err)
	assert.Equal(t, 3, re.Details.Attempts)
	assert.True(t, re.Recoverable)
	assert.Contains(t, re.UserMessage, "temporary")
}

func TestRedeem_SessionFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	code := h.createCode(t, "ROLLBACK", models.CodeTypeBulk, 2, time.Hour)

	h.store.createSession = func(context.Context, *models.Session) error {
		return errors.New("insert failed")
	}

	_, err := h.redeemer.Redeem(context.Background(), "ROLLBACK")
	require.ErrorIs(t, err, models.ErrSessionCreationFailed)
	assert.Zero(t, h.usage(t, code.ID), "the consumed unit is released")
	assert.Empty(t, h.notifier.alerts)
}

func TestRedeem_RollbackFailure(t *testing.T) {
	h := newHarness(t)
	code := h.createCode(t, "STUCKONE", models.CodeTypeBulk, 2, time.Hour)

	h.store.createSession = func(context.Context, *models.Session) error {
		return errors.New("insert failed")
	}
	h.store.decrementUsage = func(context.Context, string) (bool, error) {
		return false, errors.New("database unavailable")
	}

	_, err := h.redeemer.Redeem(context.Background(), "STUCKONE")
	require.ErrorIs(t, err, models.ErrRollbackFailed)

	re, _ := models.AsRedemptionError(err)
	assert.Equal(t, models.CategoryConsistency, re.Category())
	assert.False(t, re.Recoverable)

	assert.Equal(t, 1, h.usage(t, code.ID), "the unit stays consumed")
	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, models.SeverityCritical, h.notifier.alerts[0].Severity)
	assert.Equal(t, code.ID, h.notifier.alerts[0].CodeID)
	assert.Contains(t, h.events.types(), models.EventRollbackFailed)
}

func TestRedeem_MonitorCountsUserErrorsAsHandled(t *testing.T) {
	h := newHarness(t)
	h.createCode(t, "MONITOR1", models.CodeTypeBulk, 1, time.Hour)

	_, err := h.redeemer.Redeem(context.Background(), "MONITOR1")
	require.NoError(t, err)
	_, err = h.redeemer.Redeem(context.Background(), "MONITOR1")
	require.Error(t, err)

	stats, ok := h.monitor.Stats(monitor.OpRedeem)
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(2), stats.SuccessCount)

	inc, ok := h.monitor.Stats(monitor.OpIncrementUsage)
	require.True(t, ok)
	assert.Equal(t, int64(2), inc.Count)
}

func TestHeartbeatAndEndSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "LOGOUT01", models.CodeTypeBulk, 2, time.Hour)

	result, err := h.redeemer.Redeem(ctx, "LOGOUT01")
	require.NoError(t, err)
	require.Equal(t, 1, h.usage(t, code.ID))

	t.Run("heartbeat_updates_activity", func(t *testing.T) {
		h.clock.Advance(10 * time.Minute)
		require.NoError(t, h.redeemer.Heartbeat(ctx, result.SessionToken))

		session, err := h.store.GetSession(ctx, result.SessionID)
		require.NoError(t, err)
		assert.True(t, session.LastActivity.Equal(h.clock.Now()))
	})

	t.Run("end_releases_unit_once", func(t *testing.T) {
		first, err := h.redeemer.EndSession(ctx, result.SessionToken)
		require.NoError(t, err)
		assert.True(t, first.Ended)
		assert.True(t, first.UsageDecremented)

		second, err := h.redeemer.EndSession(ctx, result.SessionToken)
		require.NoError(t, err)
		assert.False(t, second.Ended)
		assert.False(t, second.UsageDecremented)

		assert.Zero(t, h.usage(t, code.ID))
	})

	t.Run("heartbeat_after_end", func(t *testing.T) {
		err := h.redeemer.Heartbeat(ctx, result.SessionToken)
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})

	t.Run("invalid_token", func(t *testing.T) {
		err := h.redeemer.Heartbeat(ctx, "garbage")
		assert.ErrorIs(t, err, access.ErrInvalidSessionToken)

		_, err = h.redeemer.EndSession(ctx, "garbage")
		assert.ErrorIs(t, err, access.ErrInvalidSessionToken)
	})
}

func TestSweep_IdleSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "IDLECODE", models.CodeTypeBulk, 3, 24*time.Hour)

	idle, err := h.redeemer.Redeem(ctx, "IDLECODE")
	require.NoError(t, err)

	h.clock.Advance(20 * time.Minute)
	fresh, err := h.redeemer.Redeem(ctx, "IDLECODE")
	require.NoError(t, err)
	require.Equal(t, 2, h.usage(t, code.ID))

	h.clock.Advance(11 * time.Minute)

	result, err := h.lifecycle.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SessionsCleaned)
	assert.Equal(t, 1, result.CodesDecremented)
	assert.Zero(t, result.CodesDeactivated)
	assert.Zero(t, result.Errors)

	assert.Equal(t, 1, h.usage(t, code.ID))

	ended, err := h.store.GetSession(ctx, idle.SessionID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	require.NotNil(t, ended.EndedAt)
	assert.True(t, ended.EndedAt.Equal(h.clock.Now()))

	active, err := h.store.GetSession(ctx, fresh.SessionID)
	require.NoError(t, err)
	assert.True(t, active.IsActive)

	t.Run("second_sweep_is_noop", func(t *testing.T) {
		again, err := h.lifecycle.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, again.SessionsCleaned)
		assert.Zero(t, again.CodesDecremented)
		assert.Equal(t, 1, h.usage(t, code.ID))
	})

	assert.Contains(t, h.events.types(), models.EventSessionIdled)
}

func TestSweep_IndividualSessionsStayActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	personal := h.createCode(t, "PERSONAL2", models.CodeTypeIndividual, 1, 24*time.Hour)
	shared := h.createCode(t, "SHARED02", models.CodeTypeBulk, 2, 24*time.Hour)

	own, err := h.redeemer.Redeem(ctx, "PERSONAL2")
	require.NoError(t, err)
	_, err = h.redeemer.Redeem(ctx, "SHARED02")
	require.NoError(t, err)

	h.clock.Advance(31 * time.Minute)

	result, err := h.lifecycle.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SessionsCleaned)
	assert.Equal(t, 1, result.CodesDecremented)

	session, err := h.store.GetSession(ctx, own.SessionID)
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Equal(t, 1, h.activeSessions(t, personal.ID))
	assert.Zero(t, h.activeSessions(t, shared.ID))
	assert.Zero(t, h.usage(t, shared.ID))
}

func TestSweep_ConcurrentSweepsReleaseOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "PARALLEL", models.CodeTypeBulk, 10, 24*time.Hour)

	for range 10 {
		_, err := h.redeemer.Redeem(ctx, "PARALLEL")
		require.NoError(t, err)
	}
	h.clock.Advance(31 * time.Minute)

	// A second lifecycle service stands in for another instance sharing the store.
	other := access.NewLifecycleService(&config.AccessConfig{IdleTimeout: 30 * time.Minute}, access.Dependencies{
		Store:  h.store,
		Policy: recovery.NewPolicy(&config.RecoveryConfig{}, logger.New("error", "json", "stdout")),
		Logger: logger.New("error", "json", "stdout"),
		Clock:  h.clock.Now,
	})

	var wg sync.WaitGroup
	var cleaned atomic.Int64
	for _, svc := range []*access.LifecycleService{h.lifecycle, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Sweep(ctx)
			if assert.NoError(t, err) {
				cleaned.Add(int64(result.SessionsCleaned))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), cleaned.Load())
	assert.Zero(t, h.usage(t, code.ID))
}

func TestSweep_ExpiredCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "SHORTONE", models.CodeTypeBulk, 5, 10*time.Minute)

	for range 3 {
		_, err := h.redeemer.Redeem(ctx, "SHORTONE")
		require.NoError(t, err)
	}
	h.clock.Advance(11 * time.Minute)

	result, err := h.lifecycle.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CodesDeactivated)
	assert.Equal(t, 3, result.SessionsForceEnded)
	assert.Zero(t, result.SessionsCleaned)
	assert.Zero(t, result.CodesDecremented)

	stored, err := h.store.GetCodeByID(ctx, code.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, 3, stored.UsageCount, "force-ended sessions do not release usage")
	assert.Zero(t, h.activeSessions(t, code.ID))
	assert.Contains(t, h.events.types(), models.EventCodeDeactivated)

	again, err := h.lifecycle.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.CodesDeactivated)
}

func TestLifecycle_StartStop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.lifecycle.Start(ctx)
	h.lifecycle.Stop()
	h.lifecycle.Stop()
}

func TestAdmin_UsageAndInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "SNAPSHOT", models.CodeTypeBulk, 4, time.Hour)

	_, err := h.redeemer.Redeem(ctx, "SNAPSHOT")
	require.NoError(t, err)

	snapshots, err := h.admin.Usage(ctx, code.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 1, snapshots[0].CurrentUsage)
	assert.Equal(t, 1, snapshots[0].ActiveSessions)
	assert.InDelta(t, 25.0, snapshots[0].CapacityPercentage, 0.001)

	// A mutation that bypasses the service leaves the cached snapshot stale.
	ok, err := h.store.MemoryStore.IncrementUsage(ctx, code.ID)
	require.NoError(t, err)
	require.True(t, ok)

	cached, err := h.admin.Usage(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cached[0].CurrentUsage)

	resp := h.admin.InvalidateCache(&models.InvalidateCacheRequest{CodeID: code.ID})
	assert.True(t, resp.Invalidated)
	assert.False(t, resp.All)

	fresh, err := h.admin.Usage(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh[0].CurrentUsage)

	t.Run("all_codes", func(t *testing.T) {
		h.createCode(t, "SECONDONE", models.CodeTypeBulk, 2, time.Hour)
		all := h.admin.InvalidateCache(&models.InvalidateCacheRequest{})
		assert.True(t, all.All)
		assert.Zero(t, h.admin.CacheStats().SnapshotEntries)

		snapshots, err := h.admin.Usage(ctx, "")
		require.NoError(t, err)
		assert.Len(t, snapshots, 2)
	})

	t.Run("unknown_code", func(t *testing.T) {
		_, err := h.admin.Usage(ctx, "00000000-0000-4000-8000-000000000000")
		assert.ErrorIs(t, err, models.ErrCodeNotFound)
	})
}

func TestAdmin_UsageFollowsServiceMutations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.createCode(t, "WARMCACHE", models.CodeTypeBulk, 3, 24*time.Hour)

	usage := func(t *testing.T) *models.UsageSnapshot {
		t.Helper()
		snapshots, err := h.admin.Usage(ctx, code.ID)
		require.NoError(t, err)
		require.Len(t, snapshots, 1)
		return snapshots[0]
	}

	require.Zero(t, usage(t).CurrentUsage)

	result, err := h.redeemer.Redeem(ctx, "WARMCACHE")
	require.NoError(t, err)
	after := usage(t)
	assert.Equal(t, 1, after.CurrentUsage)
	assert.Equal(t, 1, after.ActiveSessions)

	_, err = h.redeemer.EndSession(ctx, result.SessionToken)
	require.NoError(t, err)
	after = usage(t)
	assert.Zero(t, after.CurrentUsage)
	assert.Zero(t, after.ActiveSessions)

	t.Run("idle_sweep", func(t *testing.T) {
		_, err := h.redeemer.Redeem(ctx, "WARMCACHE")
		require.NoError(t, err)
		h.clock.Advance(31 * time.Minute)
		require.Equal(t, 1, usage(t).CurrentUsage)

		_, err = h.lifecycle.Sweep(ctx)
		require.NoError(t, err)
		swept := usage(t)
		assert.Zero(t, swept.CurrentUsage)
		assert.Zero(t, swept.ActiveSessions)
	})
}

func TestAdmin_CreateCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		code, err := h.admin.CreateCode(ctx, &models.CreateCodeRequest{Code: "newcode1", MaxUsageCount: 3})
		require.NoError(t, err)
		assert.Equal(t, "NEWCODE1", code.Code)
		assert.Equal(t, models.CodeTypeBulk, code.CodeType)
		assert.True(t, code.ExpiresAt.Equal(h.clock.Now().Add(24*time.Hour)))
		assert.Contains(t, h.events.types(), models.EventCodeCreated)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := h.admin.CreateCode(ctx, &models.CreateCodeRequest{Code: "NEWCODE1", MaxUsageCount: 3})
		assert.ErrorIs(t, err, models.ErrDuplicateCode)
	})

	t.Run("expiry_in_past", func(t *testing.T) {
		past := h.clock.Now().Add(-time.Hour)
		_, err := h.admin.CreateCode(ctx, &models.CreateCodeRequest{Code: "PASTCODE", MaxUsageCount: 3, ExpiresAt: &past})
		var verrs models.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "expires_at", verrs[0].Field)
	})
}

func TestAdmin_CleanupAndMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createCode(t, "METRICS1", models.CodeTypeBulk, 2, time.Hour)

	_, err := h.redeemer.Redeem(ctx, "METRICS1")
	require.NoError(t, err)

	result, err := h.admin.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.SessionsCleaned)

	report := h.admin.Metrics("")
	require.NotNil(t, report)
	ops := make([]string, 0, len(report.Stats))
	for _, s := range report.Stats {
		ops = append(ops, s.Operation)
	}
	assert.Contains(t, ops, monitor.OpRedeem)
	assert.Contains(t, ops, monitor.OpCleanup)

	single := h.admin.Metrics(monitor.OpRedeem)
	require.Len(t, single.Stats, 1)
	assert.Equal(t, monitor.OpRedeem, single.Stats[0].Operation)
}
