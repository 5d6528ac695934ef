package models

import "time"

// RedeemRequest is the body of a redemption call.
type RedeemRequest struct {
	Code string `json:"code" validate:"required,access_code"`
}

// RedeemResult is returned after a successful redemption.
type RedeemResult struct {
	SessionID    string    `json:"session_id"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	CodeID       string    `json:"code_id"`
	CodeType     CodeType  `json:"code_type"`
	CodeName     string    `json:"code_name"`
}

// RedemptionState names the steps of a redemption attempt.
type RedemptionState string

const (
	StateValidating        RedemptionState = "validating"
	StateCapacityChecked   RedemptionState = "capacity_checked"
	StateUsageIncremented  RedemptionState = "usage_incremented"
	StateSessionCreated    RedemptionState = "session_created"
	StateSessionFailed     RedemptionState = "session_failed"
	StateRollbackAttempted RedemptionState = "rollback_attempted"
	StateRolledBack        RedemptionState = "rolled_back"
)

// SessionEndResult reports the outcome of an explicit session end.
type SessionEndResult struct {
	SessionID        string `json:"session_id"`
	Ended            bool   `json:"ended"`
	UsageDecremented bool   `json:"usage_decremented"`
}
