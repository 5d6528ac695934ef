package repository

import (
	"context"
	"time"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// CodeRepository defines persistence operations for access codes.
type CodeRepository interface {
	// CreateCode stores a new code. Returns models.ErrDuplicateCode if the value is taken.
	CreateCode(ctx context.Context, code *models.AccessCode) error

	// GetCodeByID retrieves a code by identifier. Returns models.ErrCodeNotFound if absent.
	GetCodeByID(ctx context.Context, codeID string) (*models.AccessCode, error)

	// GetCodeByValue retrieves a code by its case-insensitive value.
	// Returns models.ErrCodeNotFound if absent.
	GetCodeByValue(ctx context.Context, code string) (*models.AccessCode, error)

	// ListCodes returns all codes, or only active ones when activeOnly is set.
	ListCodes(ctx context.Context, activeOnly bool) ([]*models.AccessCode, error)

	// ListExpiredActiveCodes returns active codes whose expiry is at or before now.
	ListExpiredActiveCodes(ctx context.Context, now time.Time) ([]*models.AccessCode, error)

	// DeactivateCode flips an active code to inactive.
	// Returns true only for the call that performed the transition.
	DeactivateCode(ctx context.Context, codeID string) (bool, error)
}

// UsageLedger is the authoritative usage counter of bulk codes. Every
// mutation is a single conditional atomic statement; any returned error
// means the outcome is unknown and the mutation may have been applied.
type UsageLedger interface {
	// CheckCapacity reports whether the code is active, unexpired and below its limit.
	CheckCapacity(ctx context.Context, codeID string) (bool, error)

	// IncrementUsage consumes one unit if capacity remains.
	// Returns false, with no mutation, when the code is full, inactive, expired or missing.
	IncrementUsage(ctx context.Context, codeID string) (bool, error)

	// DecrementUsage releases one unit, never going below zero.
	// Returns false when the usage count was already zero or the code is missing.
	DecrementUsage(ctx context.Context, codeID string) (bool, error)

	// GetUsage reads the current and maximum usage of a code.
	// Returns models.ErrCodeNotFound if absent.
	GetUsage(ctx context.Context, codeID string) (*models.UsageCount, error)
}

// SessionRepository defines persistence operations for sessions.
type SessionRepository interface {
	// CreateSession stores a new active session.
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSession retrieves a session by identifier. Returns models.ErrSessionNotFound if absent.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// TouchSession records activity on an active session.
	// Returns false if the session is missing or already ended.
	TouchSession(ctx context.Context, sessionID string, at time.Time) (bool, error)

	// EndSession moves an active session to ended at the given time.
	// Returns true only for the call that performed the transition.
	EndSession(ctx context.Context, sessionID string, at time.Time) (bool, error)

	// ListIdleSessions returns up to limit active sessions of capacity-limited
	// codes whose last activity is before cutoff, oldest first. Sessions of
	// individual codes never go idle.
	ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.Session, error)

	// EndSessionsForCode ends every active session of a code and returns how many were ended.
	EndSessionsForCode(ctx context.Context, codeID string, at time.Time) (int, error)

	// CountActiveSessions returns the number of active sessions of a code.
	CountActiveSessions(ctx context.Context, codeID string) (int, error)
}

// Store is a complete backend for codes, sessions and the usage ledger.
type Store interface {
	CodeRepository
	UsageLedger
	SessionRepository

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
