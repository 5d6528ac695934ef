// Package redis provides a Redis-backed store for access codes, sessions and
// the usage ledger. Every conditional ledger mutation runs as a Lua script so
// that the read-check-write happens atomically on the Redis server.
//
// The Redis keys are organized with prefixes to avoid collisions:
//   - access:code:{id} - access code hash, including usage_count
//   - access:code_index:{CODE} - normalized code value to id
//   - access:codes - set of all code ids
//   - access:session:{id} - session hash, expiring EndedSessionRetention after it ends
//   - access:code_sessions:{codeId} - set of active session ids for a code
//   - access:sessions:active - active sessions scored by last activity (unix ms)
//
// Timestamps are stored as unix milliseconds.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/repository"
)

// ScanBatchSize is the number of hashes loaded per pipeline round trip.
const ScanBatchSize = 100

const (
	activeSessionsKey = "access:sessions:active"
	codesSetKey       = "access:codes"
)

var (
	_ repository.Store = (*Client)(nil)
	_ repository.Store = (*MemoryStore)(nil)
)

// createCodeScript claims the code index entry and writes the code hash.
// KEYS: index, code hash, codes set. ARGV: id, field/value pairs.
var createCodeScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], unpack(ARGV, 2))
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`)

// incrementScript consumes one usage unit when the code is active, unexpired
// and below its limit. Returns -1 when the code is missing.
// KEYS: code hash. ARGV: now (unix ms).
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local v = redis.call('HMGET', KEYS[1], 'is_active', 'expires_at', 'usage_count', 'max_usage_count')
if v[1] ~= '1' then
  return 0
end
if tonumber(v[2]) <= tonumber(ARGV[1]) then
  return 0
end
if tonumber(v[3]) >= tonumber(v[4]) then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'usage_count', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return 1
`)

// checkScript reports whether incrementScript would succeed.
var checkScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local v = redis.call('HMGET', KEYS[1], 'is_active', 'expires_at', 'usage_count', 'max_usage_count')
if v[1] == '1' and tonumber(v[2]) > tonumber(ARGV[1]) and tonumber(v[3]) < tonumber(v[4]) then
  return 1
end
return 0
`)

// decrementScript releases one usage unit, never going below zero.
var decrementScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], 'usage_count')
if not raw then
  return -1
end
if tonumber(raw) <= 0 then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'usage_count', -1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return 1
`)

// deactivateScript flips an active code to inactive.
var deactivateScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'is_active') ~= '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'is_active', '0', 'updated_at', ARGV[1])
return 1
`)

// touchScript records activity on an active session.
// KEYS: session hash, active zset. ARGV: session id, at (unix ms).
var touchScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'is_active') ~= '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'last_activity', ARGV[2])
redis.call('ZADD', KEYS[2], 'XX', ARGV[2], ARGV[1])
return 1
`)

// endSessionScript moves an active session to ended and lets the ended
// hash expire after the retention period.
// KEYS: session hash, active zset, code sessions set.
// ARGV: session id, at (unix ms), retention (ms).
var endSessionScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'is_active') ~= '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'is_active', '0', 'ended_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
return 1
`)

// Client is a Redis client wrapper that implements repository.Store.
// It provides thread-safe access to Redis operations with connection pooling and
// structured logging.
//
// Thread Safety: All methods are safe for concurrent use by multiple goroutines.
// Atomicity: Ledger and session state transitions are single Lua scripts.
type Client struct {
	rdb    *redis.Client  // Redis client instance with connection pooling
	logger *logrus.Logger // Structured logger for debugging and monitoring
	now    func() time.Time
}

// NewClient creates a new Redis client instance with the provided configuration.
// It establishes a connection pool, validates connectivity, and returns a ready-to-use client.
//
// Configuration:
//   - URL: Redis connection string (redis://host:port/db)
//   - Password: Optional authentication password
//   - DB: Database number to select
//   - Connection pooling settings (MaxRetries, PoolSize, MinIdleConn)
//   - Timeout settings (DialTimeout, ReadTimeout, WriteTimeout, PoolTimeout, IdleTimeout)
//
// The function performs an initial connectivity test using Ping() and returns an error
// if the Redis server is unreachable.
//
// Returns:
//   - *Client: Configured Redis client ready for use
//   - error: Connection or configuration error
func NewClient(cfg *config.RedisConfig, logger *logrus.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password // pragma: allowlist secret
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConn
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout
	opts.ConnMaxIdleTime = cfg.IdleTimeout

	client := NewClientFromRedis(redis.NewClient(opts), logger)

	if pingErr := client.Ping(context.Background()); pingErr != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	logger.Info("Connected to Redis successfully")

	return client, nil
}

// NewClientFromRedis wraps an existing go-redis client without a connectivity check.
//
// Parameters:
//   - rdb: Configured go-redis client
//   - logger: Structured logger
//
// Returns:
//   - *Client: Store backed by rdb
func NewClientFromRedis(rdb *redis.Client, logger *logrus.Logger) *Client {
	return &Client{
		rdb:    rdb,
		logger: logger,
		now:    time.Now,
	}
}

// Close gracefully shuts down the Redis client and closes all connections in the pool.
//
// Returns:
//   - error: Connection closure error, if any
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close Redis connection")
		return err
	}
	c.logger.Info("Redis connection closed")
	return nil
}

// Ping tests connectivity to the Redis server by sending a PING command.
// This method is used for health checks and connection validation.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//
// Returns:
//   - error: Network or Redis server error, if any
func (c *Client) Ping(ctx context.Context) error {
	status := c.rdb.Ping(ctx)
	if status.Err() != nil {
		return fmt.Errorf("redis ping failed: %w", status.Err())
	}
	return nil
}

// GetRedisClient returns the underlying go-redis client for advanced operations
// like rate limiting with redis_rate.
//
// Returns:
//   - *redis.Client: The underlying go-redis client
func (c *Client) GetRedisClient() *redis.Client {
	return c.rdb
}

// CreateCode persists a new access code and claims its normalized value in the index.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - code: Access code to store
//
// Returns:
//   - error: models.ErrDuplicateCode if the value is taken, or a Redis error
func (c *Client) CreateCode(ctx context.Context, code *models.AccessCode) error {
	value := models.NormalizeCode(code.Code)
	args := []interface{}{
		code.ID,
		"id", code.ID,
		"code", value,
		"name", code.Name,
		"code_type", string(code.CodeType),
		"max_usage_count", code.MaxUsageCount,
		"usage_count", code.UsageCount,
		"expires_at", code.ExpiresAt.UnixMilli(),
		"is_active", boolFlag(code.IsActive),
		"created_at", code.CreatedAt.UnixMilli(),
		"updated_at", code.UpdatedAt.UnixMilli(),
	}

	created, err := createCodeScript.Run(ctx, c.rdb,
		[]string{codeIndexKey(value), codeKey(code.ID), codesSetKey}, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to store access code: %w", err)
	}
	if created == 0 {
		return models.ErrDuplicateCode
	}

	c.logger.WithField("code_id", code.ID).Debug("Access code stored successfully")
	return nil
}

// GetCodeByID retrieves an access code by identifier.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - codeID: Unique code identifier
//
// Returns:
//   - *models.AccessCode: Code data if found
//   - error: models.ErrCodeNotFound if missing, or a Redis/parse error
func (c *Client) GetCodeByID(ctx context.Context, codeID string) (*models.AccessCode, error) {
	fields, err := c.rdb.HGetAll(ctx, codeKey(codeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get access code: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrCodeNotFound
	}

	return parseCode(fields)
}

// GetCodeByValue retrieves an access code by its case-insensitive value.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - value: Code string as entered by the user
//
// Returns:
//   - *models.AccessCode: Code data if found
//   - error: models.ErrCodeNotFound if missing, or a Redis/parse error
func (c *Client) GetCodeByValue(ctx context.Context, value string) (*models.AccessCode, error) {
	id, err := c.rdb.Get(ctx, codeIndexKey(models.NormalizeCode(value))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to resolve access code: %w", err)
	}

	return c.GetCodeByID(ctx, id)
}

// ListCodes returns all codes, or only active ones, ordered by creation time.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - activeOnly: Skip deactivated codes when true
//
// Returns:
//   - []*models.AccessCode: Matching codes
//   - error: Redis or parse error
func (c *Client) ListCodes(ctx context.Context, activeOnly bool) ([]*models.AccessCode, error) {
	return c.loadCodes(ctx, func(code *models.AccessCode) bool {
		return !activeOnly || code.IsActive
	})
}

// ListExpiredActiveCodes returns active codes whose expiry is at or before now.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - now: Reference time for the expiry check
//
// Returns:
//   - []*models.AccessCode: Expired codes that are still active
//   - error: Redis or parse error
func (c *Client) ListExpiredActiveCodes(ctx context.Context, now time.Time) ([]*models.AccessCode, error) {
	return c.loadCodes(ctx, func(code *models.AccessCode) bool {
		return code.IsActive && code.IsExpired(now)
	})
}

// loadCodes reads every code hash in pipelined batches and keeps the matching ones.
func (c *Client) loadCodes(ctx context.Context, match func(*models.AccessCode) bool) ([]*models.AccessCode, error) {
	ids, err := c.rdb.SMembers(ctx, codesSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list access codes: %w", err)
	}

	var codes []*models.AccessCode
	for start := 0; start < len(ids); start += ScanBatchSize {
		end := min(start+ScanBatchSize, len(ids))

		pipe := c.rdb.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, 0, end-start)
		for _, id := range ids[start:end] {
			cmds = append(cmds, pipe.HGetAll(ctx, codeKey(id)))
		}
		if _, execErr := pipe.Exec(ctx); execErr != nil {
			return nil, fmt.Errorf("failed to load access codes: %w", execErr)
		}

		for _, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				continue
			}
			code, parseErr := parseCode(fields)
			if parseErr != nil {
				c.logger.WithError(parseErr).Warn("Skipping unreadable access code")
				continue
			}
			if match(code) {
				codes = append(codes, code)
			}
		}
	}

	sort.Slice(codes, func(i, j int) bool {
		return codes[i].CreatedAt.Before(codes[j].CreatedAt)
	})
	return codes, nil
}

// DeactivateCode flips an active code to inactive.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - codeID: Code to deactivate
//
// Returns:
//   - bool: true if this call performed the transition
//   - error: Redis operation error, if any
func (c *Client) DeactivateCode(ctx context.Context, codeID string) (bool, error) {
	result, err := deactivateScript.Run(ctx, c.rdb, []string{codeKey(codeID)}, c.nowMillis()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to deactivate access code: %w", err)
	}
	return result == 1, nil
}

// CheckCapacity reports whether the code can take another holder right now.
// The answer is advisory; only IncrementUsage reserves a unit.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - codeID: Code to check
//
// Returns:
//   - bool: true if the code is active, unexpired and below its limit
//   - error: Redis operation error, if any
func (c *Client) CheckCapacity(ctx context.Context, codeID string) (bool, error) {
	result, err := checkScript.Run(ctx, c.rdb, []string{codeKey(codeID)}, c.nowMillis()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to check capacity: %w", err)
	}
	return result == 1, nil
}

// IncrementUsage atomically consumes one usage unit. The increment only
// happens while the code is active, unexpired and below its limit, so
// concurrent callers can never push usage past the maximum.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - codeID: Code to increment
//
// Returns:
//   - bool: true if a unit was consumed
//   - error: Redis operation error; the increment may or may not have applied
func (c *Client) IncrementUsage(ctx context.Context, codeID string) (bool, error) {
	result, err := incrementScript.Run(ctx, c.rdb, []string{codeKey(codeID)}, c.nowMillis()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to increment usage: %w", err)
	}
	return result == 1, nil
}

// DecrementUsage atomically releases one usage unit without going below zero.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - codeID: Code to decrement
//
// Returns:
//   - bool: true if a unit was released
//   - error: Redis operation error, if any
func (c *Client) DecrementUsage(ctx context.Context, codeID string) (bool, error) {
	result, err := decrementScript.Run(ctx, c.rdb, []string{codeKey(codeID)}, c.nowMillis()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to decrement usage: %w", err)
	}
	return result == 1, nil
}

// GetUsage reads the current and maximum usage of a code directly from Redis.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - codeID: Code to read
//
// Returns:
//   - *models.UsageCount: Current and maximum usage
//   - error: models.ErrCodeNotFound if missing, or a Redis/parse error
func (c *Client) GetUsage(ctx context.Context, codeID string) (*models.UsageCount, error) {
	values, err := c.rdb.HMGet(ctx, codeKey(codeID), "usage_count", "max_usage_count").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	if values[0] == nil || values[1] == nil {
		return nil, models.ErrCodeNotFound
	}

	current, err := strconv.Atoi(fmt.Sprint(values[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid usage_count: %w", err)
	}
	maxUsage, err := strconv.Atoi(fmt.Sprint(values[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid max_usage_count: %w", err)
	}

	return &models.UsageCount{CodeID: codeID, Current: current, Max: maxUsage}, nil
}

// CreateSession persists a session and indexes it as active.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - session: Session to store
//
// Returns:
//   - error: Redis operation error, if any
func (c *Client) CreateSession(ctx context.Context, session *models.Session) error {
	fields := map[string]interface{}{
		"id":            session.ID,
		"code_id":       session.CodeID,
		"started_at":    session.StartedAt.UnixMilli(),
		"last_activity": session.LastActivity.UnixMilli(),
		"is_active":     boolFlag(session.IsActive),
		"ended_at":      "",
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(session.ID), fields)
		if session.IsActive {
			pipe.SAdd(ctx, codeSessionsKey(session.CodeID), session.ID)
			pipe.ZAdd(ctx, activeSessionsKey, redis.Z{
				Score:  float64(session.LastActivity.UnixMilli()),
				Member: session.ID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"code_id":    session.CodeID,
	}).Debug("Session stored successfully")
	return nil
}

// GetSession retrieves a session by identifier.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - sessionID: Unique session identifier
//
// Returns:
//   - *models.Session: Session data if found
//   - error: models.ErrSessionNotFound if missing, or a Redis/parse error
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	fields, err := c.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrSessionNotFound
	}

	return parseSession(fields)
}

// TouchSession records activity on an active session.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - sessionID: Session to touch
//   - at: Activity time
//
// Returns:
//   - bool: false if the session is missing or already ended
//   - error: Redis operation error, if any
func (c *Client) TouchSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	result, err := touchScript.Run(ctx, c.rdb,
		[]string{sessionKey(sessionID), activeSessionsKey}, sessionID, at.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	return result == 1, nil
}

// EndSession conditionally moves an active session to ended. Only one of
// several concurrent callers observes true.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - sessionID: Session to end
//   - at: End time recorded as ended_at
//
// Returns:
//   - bool: true if this call performed the transition
//   - error: Redis operation error, if any
func (c *Client) EndSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	codeID, err := c.rdb.HGet(ctx, sessionKey(sessionID), "code_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read session: %w", err)
	}

	return c.endSession(ctx, sessionID, codeID, at)
}

func (c *Client) endSession(ctx context.Context, sessionID, codeID string, at time.Time) (bool, error) {
	result, err := endSessionScript.Run(ctx, c.rdb,
		[]string{sessionKey(sessionID), activeSessionsKey, codeSessionsKey(codeID)},
		sessionID, at.UnixMilli(), EndedSessionRetention.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	return result == 1, nil
}

// ListIdleSessions returns active sessions of capacity-limited codes whose
// last activity is before cutoff, oldest first. The idle index is read page
// by page so that sessions of individual codes do not crowd out the limit.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - cutoff: Sessions with last activity strictly before this time are idle
//   - limit: Maximum number of sessions returned, or no limit when <= 0
//
// Returns:
//   - []*models.Session: Idle sessions
//   - error: Redis or parse error
func (c *Client) ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.Session, error) {
	page := int64(limit)
	if page <= 0 {
		page = ScanBatchSize
	}
	maxScore := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	codeTypes := make(map[string]models.CodeType)

	var sessions []*models.Session
	for offset := int64(0); ; offset += page {
		ids, err := c.rdb.ZRangeByScore(ctx, activeSessionsKey, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    maxScore,
			Offset: offset,
			Count:  page,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list idle sessions: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		batch, err := c.loadActiveSessions(ctx, ids)
		if err != nil {
			return nil, err
		}
		if err := c.resolveCodeTypes(ctx, batch, codeTypes); err != nil {
			return nil, err
		}

		for _, session := range batch {
			if codeType, known := codeTypes[session.CodeID]; known && !codeType.IsCapacityLimited() {
				continue
			}
			sessions = append(sessions, session)
			if limit > 0 && len(sessions) == limit {
				return sessions, nil
			}
		}

		if int64(len(ids)) < page {
			break
		}
	}

	return sessions, nil
}

// loadActiveSessions reads the session hashes for ids in one pipeline and
// keeps the ones still active.
func (c *Client) loadActiveSessions(ctx context.Context, ids []string) ([]*models.Session, error) {
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, sessionKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load idle sessions: %w", err)
	}

	sessions := make([]*models.Session, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		session, parseErr := parseSession(fields)
		if parseErr != nil {
			c.logger.WithError(parseErr).Warn("Skipping unreadable session")
			continue
		}
		if session.IsActive {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

// resolveCodeTypes adds the code type of every session's code that is not
// yet in known. Codes that no longer exist are left out.
func (c *Client) resolveCodeTypes(ctx context.Context, sessions []*models.Session, known map[string]models.CodeType) error {
	pipe := c.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd)
	for _, session := range sessions {
		if _, ok := known[session.CodeID]; ok {
			continue
		}
		if _, queued := cmds[session.CodeID]; queued {
			continue
		}
		cmds[session.CodeID] = pipe.HGet(ctx, codeKey(session.CodeID), "code_type")
	}
	if len(cmds) == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read code types: %w", err)
	}
	for codeID, cmd := range cmds {
		if codeType, err := cmd.Result(); err == nil {
			known[codeID] = models.CodeType(codeType)
		}
	}
	return nil
}

// EndSessionsForCode ends every active session of a code.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - codeID: Code whose sessions are ended
//   - at: End time recorded as ended_at
//
// Returns:
//   - int: Number of sessions this call ended
//   - error: Redis operation error, if any
func (c *Client) EndSessionsForCode(ctx context.Context, codeID string, at time.Time) (int, error) {
	ids, err := c.rdb.SMembers(ctx, codeSessionsKey(codeID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list code sessions: %w", err)
	}

	ended := 0
	for _, id := range ids {
		ok, endErr := c.endSession(ctx, id, codeID, at)
		if endErr != nil {
			return ended, endErr
		}
		if ok {
			ended++
		}
	}

	c.logger.WithFields(logrus.Fields{
		"code_id":        codeID,
		"sessions_ended": ended,
	}).Debug("Code sessions ended")
	return ended, nil
}

// CountActiveSessions returns the number of active sessions of a code.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control
//   - codeID: Code to count sessions for
//
// Returns:
//   - int: Active session count
//   - error: Redis operation error, if any
func (c *Client) CountActiveSessions(ctx context.Context, codeID string) (int, error) {
	count, err := c.rdb.SCard(ctx, codeSessionsKey(codeID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return int(count), nil
}

func (c *Client) nowMillis() int64 {
	return c.now().UnixMilli()
}

// codeKey generates a Redis key for access code storage.
// Uses the pattern "access:code:{codeID}".
func codeKey(codeID string) string {
	return fmt.Sprintf("access:code:%s", codeID)
}

// codeIndexKey generates a Redis key mapping a normalized code value to its id.
// Uses the pattern "access:code_index:{value}".
func codeIndexKey(value string) string {
	return fmt.Sprintf("access:code_index:%s", value)
}

// sessionKey generates a Redis key for session storage.
// Uses the pattern "access:session:{sessionID}".
func sessionKey(sessionID string) string {
	return fmt.Sprintf("access:session:%s", sessionID)
}

// codeSessionsKey generates a Redis key for the active sessions of a code.
// Uses the pattern "access:code_sessions:{codeID}".
func codeSessionsKey(codeID string) string {
	return fmt.Sprintf("access:code_sessions:%s", codeID)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseCode(fields map[string]string) (*models.AccessCode, error) {
	maxUsage, err := strconv.Atoi(fields["max_usage_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid max_usage_count: %w", err)
	}
	usage, err := strconv.Atoi(fields["usage_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid usage_count: %w", err)
	}
	expiresAt, err := parseMillis(fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at: %w", err)
	}
	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	updatedAt, err := parseMillis(fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}

	return &models.AccessCode{
		ID:            fields["id"],
		Code:          fields["code"],
		Name:          fields["name"],
		CodeType:      models.CodeType(fields["code_type"]),
		MaxUsageCount: maxUsage,
		UsageCount:    usage,
		ExpiresAt:     expiresAt,
		IsActive:      fields["is_active"] == "1",
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

func parseSession(fields map[string]string) (*models.Session, error) {
	startedAt, err := parseMillis(fields["started_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid started_at: %w", err)
	}
	lastActivity, err := parseMillis(fields["last_activity"])
	if err != nil {
		return nil, fmt.Errorf("invalid last_activity: %w", err)
	}

	session := &models.Session{
		ID:           fields["id"],
		CodeID:       fields["code_id"],
		StartedAt:    startedAt,
		LastActivity: lastActivity,
		IsActive:     fields["is_active"] == "1",
	}

	if raw := fields["ended_at"]; raw != "" {
		endedAt, parseErr := parseMillis(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid ended_at: %w", parseErr)
		}
		session.EndedAt = &endedAt
	}

	return session, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
