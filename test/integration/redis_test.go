package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	redisStore "github.com/jsamuelsen11/recipe-web-app/access-service/internal/redis"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

func startRedisStore(t *testing.T) *redisStore.Client {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if termErr := redisContainer.Terminate(ctx); termErr != nil {
			t.Logf("Failed to terminate Redis container: %v", termErr)
		}
	})

	connectionString, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.RedisConfig{
		URL:          connectionString,
		MaxRetries:   3,
		PoolSize:     50,
		MinIdleConn:  5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  300 * time.Second,
	}

	store, err := redisStore.NewClient(cfg, logger.New("error", "json", "stdout"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	runStoreContract(t, startRedisStore(t))
}

func TestRedisRedemptionFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	runRedemptionScenario(t, startRedisStore(t))
}

func TestRedisEndedSessionsExpire(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	store := startRedisStore(t)
	ctx := context.Background()

	code := models.NewAccessCode("EXPIRE-ME", "Expire me", models.CodeTypeBulk, 2, time.Now().Add(time.Hour))
	require.NoError(t, store.CreateCode(ctx, code))

	session := models.NewSession(code.ID, time.Now())
	require.NoError(t, store.CreateSession(ctx, session))

	key := "access:session:" + session.ID
	ttl, err := store.GetRedisClient().PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "active sessions do not expire")

	ended, err := store.EndSession(ctx, session.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ended)

	ttl, err = store.GetRedisClient().PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, redisStore.EndedSessionRetention)
}
