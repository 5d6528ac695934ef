// Package models provides data structures for the access service.
package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NearCapacityPercentage is the usage level at which a snapshot reports
// the code as near capacity.
const NearCapacityPercentage = 80.0

// CodeType distinguishes capacity-limited codes from personal ones.
type CodeType string

const (
	// CodeTypeBulk codes are shared and consume one usage unit per session.
	CodeTypeBulk CodeType = "bulk"
	// CodeTypeIndividual codes belong to one person and are not ledger-accounted.
	CodeTypeIndividual CodeType = "individual"
)

// IsCapacityLimited reports whether sessions of this code type consume usage units.
func (t CodeType) IsCapacityLimited() bool {
	return t == CodeTypeBulk
}

// AccessCode represents a shareable code granting time-boxed access to a
// bounded number of concurrent holders.
type AccessCode struct {
	ID            string    `json:"id"              db:"id"`
	Code          string    `json:"code"            db:"code"`
	Name          string    `json:"name"            db:"name"`
	CodeType      CodeType  `json:"code_type"       db:"code_type"`
	MaxUsageCount int       `json:"max_usage_count" db:"max_usage_count"`
	UsageCount    int       `json:"usage_count"     db:"usage_count"`
	ExpiresAt     time.Time `json:"expires_at"      db:"expires_at"`
	IsActive      bool      `json:"is_active"       db:"is_active"`
	CreatedAt     time.Time `json:"created_at"      db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"      db:"updated_at"`
}

// NewAccessCode creates an active code with a fresh identifier. A zero
// expiresAt is left for the caller to default.
func NewAccessCode(code, name string, codeType CodeType, maxUsage int, expiresAt time.Time) *AccessCode {
	now := time.Now().UTC()
	return &AccessCode{
		ID:            uuid.New().String(),
		Code:          NormalizeCode(code),
		Name:          name,
		CodeType:      codeType,
		MaxUsageCount: maxUsage,
		ExpiresAt:     expiresAt.UTC(),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NormalizeCode returns the canonical form used for storage and lookup.
// Codes compare case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsExpired reports whether the code's expiry is at or before now.
func (c *AccessCode) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// HasCapacity reports whether another usage unit is available.
func (c *AccessCode) HasCapacity() bool {
	return c.UsageCount < c.MaxUsageCount
}

// IsRedeemable reports whether the code can admit a new holder at now.
func (c *AccessCode) IsRedeemable(now time.Time) bool {
	return c.IsActive && !c.IsExpired(now) && (!c.CodeType.IsCapacityLimited() || c.HasCapacity())
}

// SessionState is the derived state of a session.
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionIdle   SessionState = "idle"
	SessionEnded  SessionState = "ended"
)

// Session is one holder's use of a code. Each active bulk session accounts
// for exactly one usage unit on its code.
type Session struct {
	ID           string     `json:"id"            db:"id"`
	CodeID       string     `json:"code_id"       db:"code_id"`
	StartedAt    time.Time  `json:"started_at"    db:"started_at"`
	LastActivity time.Time  `json:"last_activity" db:"last_activity"`
	EndedAt      *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	IsActive     bool       `json:"is_active"     db:"is_active"`
}

// NewSession creates an active session for the given code.
func NewSession(codeID string, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		ID:           uuid.New().String(),
		CodeID:       codeID,
		StartedAt:    now,
		LastActivity: now,
		IsActive:     true,
	}
}

// State returns the session state at now for the given idle threshold.
func (s *Session) State(now time.Time, idleThreshold time.Duration) SessionState {
	if !s.IsActive {
		return SessionEnded
	}
	if now.Sub(s.LastActivity) > idleThreshold {
		return SessionIdle
	}
	return SessionActive
}

// UsageCount is the authoritative usage of a code as read from the ledger.
type UsageCount struct {
	CodeID  string `json:"code_id"`
	Current int    `json:"current"`
	Max     int    `json:"max"`
}

// Remaining returns the number of free usage units.
func (u UsageCount) Remaining() int {
	if u.Current >= u.Max {
		return 0
	}
	return u.Max - u.Current
}

// UsageSnapshot is a read-only projection of a code's capacity state.
type UsageSnapshot struct {
	CodeID               string    `json:"code_id"`
	Code                 string    `json:"code"`
	Name                 string    `json:"name"`
	CurrentUsage         int       `json:"current_usage"`
	MaxCapacity          int       `json:"max_capacity"`
	ActiveSessions       int       `json:"active_sessions"`
	CapacityPercentage   float64   `json:"capacity_percentage"`
	IsNearCapacity       bool      `json:"is_near_capacity"`
	IsExpired            bool      `json:"is_expired"`
	IsActive             bool      `json:"is_active"`
	TimeRemainingMinutes int       `json:"time_remaining_minutes"`
	LastUpdated          time.Time `json:"last_updated"`
}

// NewUsageSnapshot projects a code and its active session count at now.
func NewUsageSnapshot(code *AccessCode, activeSessions int, now time.Time) *UsageSnapshot {
	var percentage float64
	if code.MaxUsageCount > 0 {
		percentage = math.Round(float64(code.UsageCount)/float64(code.MaxUsageCount)*10000) / 100
	}

	remaining := 0
	if code.ExpiresAt.After(now) {
		remaining = int(code.ExpiresAt.Sub(now) / time.Minute)
	}

	return &UsageSnapshot{
		CodeID:               code.ID,
		Code:                 code.Code,
		Name:                 code.Name,
		CurrentUsage:         code.UsageCount,
		MaxCapacity:          code.MaxUsageCount,
		ActiveSessions:       activeSessions,
		CapacityPercentage:   percentage,
		IsNearCapacity:       percentage >= NearCapacityPercentage,
		IsExpired:            code.IsExpired(now),
		IsActive:             code.IsActive,
		TimeRemainingMinutes: remaining,
		LastUpdated:          now,
	}
}

// IsFull reports whether the snapshot shows no free usage units.
func (s *UsageSnapshot) IsFull() bool {
	return s.CurrentUsage >= s.MaxCapacity
}
