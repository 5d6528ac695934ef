package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	models "github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

func TestNewAccessCode(t *testing.T) {
	expiry := time.Now().Add(24 * time.Hour)

	code := models.NewAccessCode("  welcome2025 ", "Launch", models.CodeTypeBulk, 3, expiry)

	assert.NotEmpty(t, code.ID)
	assert.Equal(t, "WELCOME2025", code.Code)
	assert.Equal(t, 0, code.UsageCount)
	assert.True(t, code.IsActive)
	assert.Equal(t, expiry.UTC(), code.ExpiresAt)
}

func TestAccessCodeIsRedeemable(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		code     models.AccessCode
		expected bool
	}{
		{
			name:     "active_with_capacity",
			code:     models.AccessCode{CodeType: models.CodeTypeBulk, IsActive: true, MaxUsageCount: 3, UsageCount: 2, ExpiresAt: now.Add(time.Hour)},
			expected: true,
		},
		{
			name: "full",
			code: models.AccessCode{CodeType: models.CodeTypeBulk, IsActive: true, MaxUsageCount: 3, UsageCount: 3, ExpiresAt: now.Add(time.Hour)},
		},
		{
			name: "expiry_equal_to_now_is_expired",
			code: models.AccessCode{CodeType: models.CodeTypeBulk, IsActive: true, MaxUsageCount: 3, ExpiresAt: now},
		},
		{
			name: "inactive",
			code: models.AccessCode{CodeType: models.CodeTypeBulk, MaxUsageCount: 3, ExpiresAt: now.Add(time.Hour)},
		},
		{
			name:     "individual_ignores_capacity",
			code:     models.AccessCode{CodeType: models.CodeTypeIndividual, IsActive: true, MaxUsageCount: 1, UsageCount: 1, ExpiresAt: now.Add(time.Hour)},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.code.IsRedeemable(now))
		})
	}
}

func TestSessionState(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	session := models.NewSession("code-1", now.Add(-31*time.Minute))

	assert.Equal(t, models.SessionIdle, session.State(now, 30*time.Minute))
	assert.Equal(t, models.SessionActive, session.State(now.Add(-2*time.Minute), 30*time.Minute))

	session.IsActive = false
	assert.Equal(t, models.SessionEnded, session.State(now, 30*time.Minute))
}

func TestNewUsageSnapshot(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name              string
		usage             int
		maxUsage          int
		expiresAt         time.Time
		expectedPct       float64
		expectedNear      bool
		expectedExpired   bool
		expectedRemaining int
	}{
		{name: "empty", usage: 0, maxUsage: 5, expiresAt: now.Add(90 * time.Minute), expectedPct: 0, expectedRemaining: 90},
		{name: "near_capacity", usage: 4, maxUsage: 5, expiresAt: now.Add(30*time.Second + time.Minute), expectedPct: 80, expectedNear: true, expectedRemaining: 1},
		{name: "one_third", usage: 1, maxUsage: 3, expiresAt: now.Add(time.Hour), expectedPct: 33.33, expectedRemaining: 60},
		{name: "expired", usage: 3, maxUsage: 3, expiresAt: now.Add(-time.Minute), expectedPct: 100, expectedNear: true, expectedExpired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := &models.AccessCode{
				ID: "id", Code: "CODE", MaxUsageCount: tt.maxUsage, UsageCount: tt.usage,
				ExpiresAt: tt.expiresAt, IsActive: true,
			}

			snapshot := models.NewUsageSnapshot(code, tt.usage, now)

			assert.InDelta(t, tt.expectedPct, snapshot.CapacityPercentage, 0.001)
			assert.Equal(t, tt.expectedNear, snapshot.IsNearCapacity)
			assert.Equal(t, tt.expectedExpired, snapshot.IsExpired)
			assert.Equal(t, tt.expectedRemaining, snapshot.TimeRemainingMinutes)
			assert.Equal(t, tt.usage, snapshot.ActiveSessions)
			assert.Equal(t, now, snapshot.LastUpdated)
		})
	}
}

func TestUsageCountRemaining(t *testing.T) {
	assert.Equal(t, 2, models.UsageCount{Current: 1, Max: 3}.Remaining())
	assert.Equal(t, 0, models.UsageCount{Current: 3, Max: 3}.Remaining())
}

func TestOperationStatsRecord(t *testing.T) {
	now := time.Now()
	stats := &models.OperationStats{Operation: "redeem"}

	stats.Record(100*time.Millisecond, true, now)
	stats.Record(300*time.Millisecond, false, now)
	stats.Record(50*time.Millisecond, true, now)

	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, int64(2), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, 450*time.Millisecond, stats.TotalDuration)
	assert.Equal(t, 150*time.Millisecond, stats.AvgDuration)
	assert.Equal(t, 50*time.Millisecond, stats.MinDuration)
	assert.Equal(t, 300*time.Millisecond, stats.MaxDuration)
	assert.InDelta(t, 66.666, stats.SuccessRate, 0.01)
}
