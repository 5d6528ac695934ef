// Package redis provides storage implementations for access codes, sessions
// and the usage ledger. This file implements an in-memory store with the same
// contract as the Redis client, allowing local development and tests without
// Redis or PostgreSQL.
package redis

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

const (
	// CleanupInterval is the interval between ended-session cleanup runs.
	CleanupInterval = 5 * time.Minute
	// EndedSessionRetention is how long ended sessions are kept for lookups.
	EndedSessionRetention = 24 * time.Hour
)

// MemoryStore is an in-memory implementation of repository.Store.
// A single mutex serializes every ledger mutation, which makes each
// conditional update atomic with respect to concurrent redemptions.
type MemoryStore struct {
	codes          map[string]*models.AccessCode
	codeIndex      map[string]string // normalized code -> id
	sessions       map[string]*models.Session
	sessionsByCode map[string]map[string]struct{} // code id -> active session ids
	now            func() time.Time
	logger         *logrus.Logger
	mu             sync.RWMutex
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}
	closeOnce      sync.Once
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates a new in-memory store with periodic cleanup of ended sessions.
func NewMemoryStore(logger *logrus.Logger, opts ...MemoryStoreOption) *MemoryStore {
	store := &MemoryStore{
		codes:          make(map[string]*models.AccessCode),
		codeIndex:      make(map[string]string),
		sessions:       make(map[string]*models.Session),
		sessionsByCode: make(map[string]map[string]struct{}),
		now:            time.Now,
		logger:         logger,
		cleanupTicker:  time.NewTicker(CleanupInterval),
		stopCleanup:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(store)
	}

	go store.cleanupEndedSessions()

	logger.Info("In-memory access store initialized")
	return store
}

// cleanupEndedSessions runs periodically to drop old ended sessions.
func (m *MemoryStore) cleanupEndedSessions() {
	defer m.cleanupTicker.Stop()

	for {
		select {
		case <-m.cleanupTicker.C:
			m.performCleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

// performCleanup removes ended sessions older than EndedSessionRetention.
func (m *MemoryStore) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-EndedSessionRetention)
	removed := 0
	for id, session := range m.sessions {
		if !session.IsActive && session.EndedAt != nil && session.EndedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.WithField("removed_sessions", removed).Debug("Cleaned up ended sessions from memory store")
	}
}

// Close shuts down the memory store and cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCleanup)
		m.logger.Info("Memory store closed")
	})
	return nil
}

// Ping always returns nil for memory store (always available).
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// CreateCode stores a new access code.
func (m *MemoryStore) CreateCode(_ context.Context, code *models.AccessCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	value := models.NormalizeCode(code.Code)
	if _, exists := m.codeIndex[value]; exists {
		return models.ErrDuplicateCode
	}

	stored := *code
	stored.Code = value
	m.codes[stored.ID] = &stored
	m.codeIndex[value] = stored.ID

	m.logger.WithField("code_id", stored.ID).Debug("Access code stored in memory")
	return nil
}

// GetCodeByID retrieves an access code by identifier.
func (m *MemoryStore) GetCodeByID(_ context.Context, codeID string) (*models.AccessCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	code, exists := m.codes[codeID]
	if !exists {
		return nil, models.ErrCodeNotFound
	}

	cp := *code
	return &cp, nil
}

// GetCodeByValue retrieves an access code by its case-insensitive value.
func (m *MemoryStore) GetCodeByValue(_ context.Context, value string) (*models.AccessCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.codeIndex[models.NormalizeCode(value)]
	if !exists {
		return nil, models.ErrCodeNotFound
	}

	cp := *m.codes[id]
	return &cp, nil
}

// ListCodes returns codes ordered by creation time.
func (m *MemoryStore) ListCodes(_ context.Context, activeOnly bool) ([]*models.AccessCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.collectCodes(func(c *models.AccessCode) bool {
		return !activeOnly || c.IsActive
	}), nil
}

// ListExpiredActiveCodes returns active codes whose expiry is at or before now.
func (m *MemoryStore) ListExpiredActiveCodes(_ context.Context, now time.Time) ([]*models.AccessCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.collectCodes(func(c *models.AccessCode) bool {
		return c.IsActive && c.IsExpired(now)
	}), nil
}

func (m *MemoryStore) collectCodes(match func(*models.AccessCode) bool) []*models.AccessCode {
	var codes []*models.AccessCode
	for _, code := range m.codes {
		if match(code) {
			cp := *code
			codes = append(codes, &cp)
		}
	}
	sort.Slice(codes, func(i, j int) bool {
		return codes[i].CreatedAt.Before(codes[j].CreatedAt)
	})
	return codes
}

// DeactivateCode flips an active code to inactive.
func (m *MemoryStore) DeactivateCode(_ context.Context, codeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, exists := m.codes[codeID]
	if !exists || !code.IsActive {
		return false, nil
	}

	code.IsActive = false
	code.UpdatedAt = m.now().UTC()
	return true, nil
}

// CheckCapacity reports whether the code can take another holder.
func (m *MemoryStore) CheckCapacity(_ context.Context, codeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	code, exists := m.codes[codeID]
	if !exists {
		return false, nil
	}
	return code.IsActive && !code.IsExpired(m.now()) && code.HasCapacity(), nil
}

// IncrementUsage consumes one usage unit if the code is active, unexpired and below its limit.
func (m *MemoryStore) IncrementUsage(_ context.Context, codeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, exists := m.codes[codeID]
	if !exists || !code.IsActive || code.IsExpired(m.now()) || !code.HasCapacity() {
		return false, nil
	}

	code.UsageCount++
	code.UpdatedAt = m.now().UTC()
	return true, nil
}

// DecrementUsage releases one usage unit without going below zero.
func (m *MemoryStore) DecrementUsage(_ context.Context, codeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, exists := m.codes[codeID]
	if !exists || code.UsageCount == 0 {
		return false, nil
	}

	code.UsageCount--
	code.UpdatedAt = m.now().UTC()
	return true, nil
}

// GetUsage reads the current and maximum usage of a code.
func (m *MemoryStore) GetUsage(_ context.Context, codeID string) (*models.UsageCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	code, exists := m.codes[codeID]
	if !exists {
		return nil, models.ErrCodeNotFound
	}

	return &models.UsageCount{CodeID: codeID, Current: code.UsageCount, Max: code.MaxUsageCount}, nil
}

// CreateSession stores a new session.
func (m *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *session
	m.sessions[stored.ID] = &stored
	if stored.IsActive {
		m.indexSession(stored.CodeID, stored.ID)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": stored.ID,
		"code_id":    stored.CodeID,
	}).Debug("Session stored in memory")
	return nil
}

func (m *MemoryStore) indexSession(codeID, sessionID string) {
	ids, exists := m.sessionsByCode[codeID]
	if !exists {
		ids = make(map[string]struct{})
		m.sessionsByCode[codeID] = ids
	}
	ids[sessionID] = struct{}{}
}

// GetSession retrieves a session by identifier.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, models.ErrSessionNotFound
	}

	cp := *session
	return &cp, nil
}

// TouchSession records activity on an active session.
func (m *MemoryStore) TouchSession(_ context.Context, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists || !session.IsActive {
		return false, nil
	}

	session.LastActivity = at.UTC()
	return true, nil
}

// EndSession moves an active session to ended.
func (m *MemoryStore) EndSession(_ context.Context, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists || !session.IsActive {
		return false, nil
	}

	m.endLocked(session, at)
	return true, nil
}

func (m *MemoryStore) endLocked(session *models.Session, at time.Time) {
	ended := at.UTC()
	session.IsActive = false
	session.EndedAt = &ended
	if ids, exists := m.sessionsByCode[session.CodeID]; exists {
		delete(ids, session.ID)
		if len(ids) == 0 {
			delete(m.sessionsByCode, session.CodeID)
		}
	}
}

// ListIdleSessions returns active sessions of capacity-limited codes whose
// last activity is before cutoff, oldest first.
func (m *MemoryStore) ListIdleSessions(_ context.Context, cutoff time.Time, limit int) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var idle []*models.Session
	for codeID, ids := range m.sessionsByCode {
		if code, exists := m.codes[codeID]; exists && !code.CodeType.IsCapacityLimited() {
			continue
		}
		for id := range ids {
			session := m.sessions[id]
			if session.LastActivity.Before(cutoff) {
				cp := *session
				idle = append(idle, &cp)
			}
		}
	}

	sort.Slice(idle, func(i, j int) bool {
		return idle[i].LastActivity.Before(idle[j].LastActivity)
	})
	if limit > 0 && len(idle) > limit {
		idle = idle[:limit]
	}

	return idle, nil
}

// EndSessionsForCode ends every active session of a code.
func (m *MemoryStore) EndSessionsForCode(_ context.Context, codeID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.sessionsByCode[codeID]
	ended := 0
	for id := range ids {
		m.endLocked(m.sessions[id], at)
		ended++
	}

	return ended, nil
}

// CountActiveSessions returns the number of active sessions of a code.
func (m *MemoryStore) CountActiveSessions(_ context.Context, codeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessionsByCode[codeID]), nil
}
