package models

import "time"

// CleanupResult summarises one lifecycle sweep.
type CleanupResult struct {
	SessionsCleaned    int           `json:"sessions_cleaned"`
	CodesDeactivated   int           `json:"codes_deactivated"`
	CodesDecremented   int           `json:"codes_decremented"`
	SessionsForceEnded int           `json:"sessions_force_ended"`
	Errors             int           `json:"errors"`
	Duration           time.Duration `json:"duration"`
	StartedAt          time.Time     `json:"started_at"`
}

// CreateCodeRequest holds the fields accepted when creating an access code.
type CreateCodeRequest struct {
	Code          string     `json:"code"            validate:"required,access_code"`
	Name          string     `json:"name"            validate:"max=255"`
	CodeType      CodeType   `json:"code_type"       validate:"omitempty,oneof=bulk individual"`
	MaxUsageCount int        `json:"max_usage_count" validate:"required,min=1,max=400"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// InvalidateCacheRequest selects one code to drop from the capacity cache;
// an empty CodeID drops everything.
type InvalidateCacheRequest struct {
	CodeID string `json:"code_id,omitempty" validate:"omitempty,uuid4"`
}

// InvalidateCacheResponse reports what an invalidation removed.
type InvalidateCacheResponse struct {
	CodeID      string `json:"code_id,omitempty"`
	All         bool   `json:"all"`
	Invalidated bool   `json:"invalidated"`
}

// UsageResponse wraps the usage snapshots returned by the usage query.
type UsageResponse struct {
	Codes       []*UsageSnapshot `json:"codes"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// CacheStats describes the capacity cache contents.
type CacheStats struct {
	CodeEntries     int   `json:"code_entries"`
	SnapshotEntries int   `json:"snapshot_entries"`
	IndexEntries    int   `json:"index_entries"`
	Hits            int64 `json:"hits"`
	Misses          int64 `json:"misses"`
	Evictions       int64 `json:"evictions"`
}
