package models

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Storage-level sentinel errors shared by every backend.
var (
	// ErrCodeNotFound is returned when no access code matches the lookup.
	ErrCodeNotFound = errors.New("access code not found")
	// ErrSessionNotFound is returned when no session matches the lookup.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateCode is returned when creating a code whose value already exists.
	ErrDuplicateCode = errors.New("access code already exists")
	// ErrConcurrentUpdate is wrapped by backends when a write lost a race
	// (serialization failure, deadlock, lock timeout, aborted transaction).
	ErrConcurrentUpdate = errors.New("concurrent update conflict")
)

// ErrorKind enumerates every way a redemption can fail. The set is closed:
// callers switch on it and the recovery policy is keyed by it.
type ErrorKind string

const (
	KindInvalid                  ErrorKind = "invalid"
	KindExpired                  ErrorKind = "expired"
	KindCapacityExceeded         ErrorKind = "capacity_exceeded"
	KindCapacityCheckFailed      ErrorKind = "capacity_check_failed"
	KindUsageIncrementFailed     ErrorKind = "usage_increment_failed"
	KindSessionCreationFailed    ErrorKind = "session_creation_failed"
	KindDatabaseError            ErrorKind = "database_error"
	KindConcurrentAccessConflict ErrorKind = "concurrent_access_conflict"
	KindRollbackFailed           ErrorKind = "rollback_failed"
)

// ErrorCategory groups kinds by who caused them and how loudly they are logged.
type ErrorCategory string

const (
	// CategoryUser covers bad input: invalid, expired or full codes.
	CategoryUser ErrorCategory = "user"
	// CategoryContention covers lost races on the ledger.
	CategoryContention ErrorCategory = "contention"
	// CategorySystem covers storage and infrastructure failures.
	CategorySystem ErrorCategory = "system"
	// CategoryConsistency covers failures that may leave the ledger out of step.
	CategoryConsistency ErrorCategory = "consistency"
)

const (
	temporaryUserMessage = "We're having a temporary problem. Please try again in a moment."
	expiryDateLayout     = "January 2, 2006 at 3:04 PM MST"
)

type kindInfo struct {
	code        string
	status      int
	recoverable bool
	category    ErrorCategory
}

var kindTable = map[ErrorKind]kindInfo{
	KindInvalid:                  {code: "ACCESS_CODE_INVALID", status: http.StatusBadRequest, recoverable: true, category: CategoryUser},
	KindExpired:                  {code: "ACCESS_CODE_EXPIRED", status: http.StatusGone, category: CategoryUser},
	KindCapacityExceeded:         {code: "CAPACITY_EXCEEDED", status: http.StatusConflict, category: CategoryUser},
	KindCapacityCheckFailed:      {code: "CAPACITY_CHECK_FAILED", status: http.StatusServiceUnavailable, recoverable: true, category: CategorySystem},
	KindUsageIncrementFailed:     {code: "USAGE_INCREMENT_FAILED", status: http.StatusServiceUnavailable, recoverable: true, category: CategorySystem},
	KindSessionCreationFailed:    {code: "SESSION_CREATION_FAILED", status: http.StatusServiceUnavailable, recoverable: true, category: CategorySystem},
	KindDatabaseError:            {code: "DATABASE_ERROR", status: http.StatusServiceUnavailable, recoverable: true, category: CategorySystem},
	KindConcurrentAccessConflict: {code: "CONCURRENT_ACCESS_CONFLICT", status: http.StatusConflict, recoverable: true, category: CategoryContention},
	KindRollbackFailed:           {code: "ROLLBACK_FAILED", status: http.StatusInternalServerError, category: CategoryConsistency},
}

// Code returns the stable machine code for the kind.
func (k ErrorKind) Code() string {
	if info, ok := kindTable[k]; ok {
		return info.code
	}
	return "UNKNOWN_ERROR"
}

// Status returns the HTTP status associated with the kind.
func (k ErrorKind) Status() int {
	if info, ok := kindTable[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Recoverable reports whether a retry or corrected input can succeed.
func (k ErrorKind) Recoverable() bool {
	return kindTable[k].recoverable
}

// Category returns the logging category of the kind.
func (k ErrorKind) Category() ErrorCategory {
	if info, ok := kindTable[k]; ok {
		return info.category
	}
	return CategorySystem
}

// ErrorDetails carries the typed context of a redemption failure. Internal
// identifiers are kept out of the JSON body and only reach the logs.
type ErrorDetails struct {
	CodeID       string     `json:"-"`
	SessionID    string     `json:"-"`
	Code         string     `json:"code,omitempty"`
	CurrentUsage *int       `json:"current_usage,omitempty"`
	MaxUsage     *int       `json:"max_usage,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Operation    string     `json:"operation,omitempty"`
	Attempts     int        `json:"attempts,omitempty"`
}

// Fields returns the details as a flat map suitable for structured logging.
func (d ErrorDetails) Fields() map[string]interface{} {
	fields := map[string]interface{}{}
	if d.CodeID != "" {
		fields["code_id"] = d.CodeID
	}
	if d.SessionID != "" {
		fields["session_id"] = d.SessionID
	}
	if d.Code != "" {
		fields["code"] = d.Code
	}
	if d.CurrentUsage != nil {
		fields["current_usage"] = *d.CurrentUsage
	}
	if d.MaxUsage != nil {
		fields["max_usage"] = *d.MaxUsage
	}
	if d.ExpiresAt != nil {
		fields["expires_at"] = d.ExpiresAt.UTC()
	}
	if d.Operation != "" {
		fields["operation"] = d.Operation
	}
	if d.Attempts > 0 {
		fields["attempts"] = d.Attempts
	}
	return fields
}

// RedemptionError is the typed failure returned by every redemption,
// lifecycle and ledger operation.
type RedemptionError struct {
	// Kind identifies the failure; it drives status, retry and logging.
	Kind ErrorKind `json:"-"`
	// Code is the stable machine code (e.g. "CAPACITY_EXCEEDED").
	Code string `json:"error"`
	// Message is the machine-oriented description.
	Message string `json:"message"`
	// UserMessage is safe to show to the person redeeming the code.
	UserMessage string `json:"user_message"`
	// Details holds typed context for logs and clients.
	Details ErrorDetails `json:"details"`
	// Recoverable tells clients whether trying again can succeed.
	Recoverable bool `json:"recoverable"`
	// StatusCode is the HTTP status code to return (excluded from JSON).
	StatusCode int `json:"-"`
	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

func newRedemptionError(kind ErrorKind, message, userMessage string, details ErrorDetails, cause error) *RedemptionError {
	return &RedemptionError{
		Kind:        kind,
		Code:        kind.Code(),
		Message:     message,
		UserMessage: userMessage,
		Details:     details,
		Recoverable: kind.Recoverable(),
		StatusCode:  kind.Status(),
		Err:         cause,
	}
}

// NewInvalidCodeError reports a code that does not exist or is inactive.
func NewInvalidCodeError(code string) *RedemptionError {
	return newRedemptionError(KindInvalid,
		"access code not found or inactive",
		"This access code isn't valid. Please check the code and try again.",
		ErrorDetails{Code: code}, nil)
}

// NewExpiredError reports a code whose expiry has passed.
func NewExpiredError(code string, expiresAt time.Time) *RedemptionError {
	expiry := expiresAt.UTC()
	return newRedemptionError(KindExpired,
		fmt.Sprintf("access code expired at %s", expiry.Format(time.RFC3339)),
		fmt.Sprintf("This access code expired on %s.", expiry.Format(expiryDateLayout)),
		ErrorDetails{Code: code, ExpiresAt: &expiry}, nil)
}

// NewCapacityExceededError reports a code with no remaining usage units.
func NewCapacityExceededError(code string, current, maxUsage int) *RedemptionError {
	return newRedemptionError(KindCapacityExceeded,
		fmt.Sprintf("access code capacity exceeded: %d/%d in use", current, maxUsage),
		fmt.Sprintf("This access code has reached its limit of %d users (%d/%d). Please try again later.",
			maxUsage, current, maxUsage),
		ErrorDetails{Code: code, CurrentUsage: &current, MaxUsage: &maxUsage}, nil)
}

// NewCapacityCheckFailedError reports a failed capacity read.
func NewCapacityCheckFailedError(codeID string, cause error) *RedemptionError {
	return newRedemptionError(KindCapacityCheckFailed,
		"capacity check failed", temporaryUserMessage,
		ErrorDetails{CodeID: codeID, Operation: "check_capacity"}, cause)
}

// NewUsageIncrementFailedError reports a failed increment. The increment may
// have been applied.
func NewUsageIncrementFailedError(codeID string, cause error) *RedemptionError {
	return newRedemptionError(KindUsageIncrementFailed,
		"usage increment failed", temporaryUserMessage,
		ErrorDetails{CodeID: codeID, Operation: "increment_usage"}, cause)
}

// NewSessionCreationFailedError reports a failed session insert.
func NewSessionCreationFailedError(codeID string, cause error) *RedemptionError {
	return newRedemptionError(KindSessionCreationFailed,
		"session creation failed", temporaryUserMessage,
		ErrorDetails{CodeID: codeID, Operation: "create_session"}, cause)
}

// NewDatabaseError reports a storage failure during the named operation.
func NewDatabaseError(operation string, cause error) *RedemptionError {
	return newRedemptionError(KindDatabaseError,
		fmt.Sprintf("database error during %s", operation), temporaryUserMessage,
		ErrorDetails{Operation: operation}, cause)
}

// NewConcurrentAccessConflictError reports a lost race that is worth retrying shortly.
func NewConcurrentAccessConflictError(operation string, cause error) *RedemptionError {
	return newRedemptionError(KindConcurrentAccessConflict,
		fmt.Sprintf("concurrent access conflict during %s", operation), temporaryUserMessage,
		ErrorDetails{Operation: operation}, cause)
}

// NewRollbackFailedError reports a usage unit that could not be released after
// a failed session creation. The ledger may now over-count by one.
func NewRollbackFailedError(codeID string, cause error) *RedemptionError {
	return newRedemptionError(KindRollbackFailed,
		"usage rollback failed after session creation failure",
		"We couldn't complete your request. Please contact support if this keeps happening.",
		ErrorDetails{CodeID: codeID, Operation: "decrement_usage"}, cause)
}

// Error returns a string representation of the redemption error.
func (e *RedemptionError) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RedemptionError) Unwrap() error {
	return e.Err
}

// Is matches any RedemptionError of the same kind, so callers can write
// errors.Is(err, models.ErrCapacityExceeded).
func (e *RedemptionError) Is(target error) bool {
	var other *RedemptionError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Category returns the logging category of the error.
func (e *RedemptionError) Category() ErrorCategory {
	return e.Kind.Category()
}

// WithCodeID records the internal code identifier and returns the error.
func (e *RedemptionError) WithCodeID(codeID string) *RedemptionError {
	e.Details.CodeID = codeID
	return e
}

// WithSessionID records the session identifier and returns the error.
func (e *RedemptionError) WithSessionID(sessionID string) *RedemptionError {
	e.Details.SessionID = sessionID
	return e
}

// WithAttempts records how many attempts were made and returns the error.
func (e *RedemptionError) WithAttempts(attempts int) *RedemptionError {
	e.Details.Attempts = attempts
	return e
}

// AsRedemptionError extracts a RedemptionError from err's chain.
func AsRedemptionError(err error) (*RedemptionError, bool) {
	var re *RedemptionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRecoverable reports whether err is a recoverable RedemptionError.
func IsRecoverable(err error) bool {
	re, ok := AsRedemptionError(err)
	return ok && re.Recoverable
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrInvalidCode              = &RedemptionError{Kind: KindInvalid, Code: KindInvalid.Code()}
	ErrExpired                  = &RedemptionError{Kind: KindExpired, Code: KindExpired.Code()}
	ErrCapacityExceeded         = &RedemptionError{Kind: KindCapacityExceeded, Code: KindCapacityExceeded.Code()}
	ErrCapacityCheckFailed      = &RedemptionError{Kind: KindCapacityCheckFailed, Code: KindCapacityCheckFailed.Code()}
	ErrUsageIncrementFailed     = &RedemptionError{Kind: KindUsageIncrementFailed, Code: KindUsageIncrementFailed.Code()}
	ErrSessionCreationFailed    = &RedemptionError{Kind: KindSessionCreationFailed, Code: KindSessionCreationFailed.Code()}
	ErrDatabase                 = &RedemptionError{Kind: KindDatabaseError, Code: KindDatabaseError.Code()}
	ErrConcurrentAccessConflict = &RedemptionError{Kind: KindConcurrentAccessConflict, Code: KindConcurrentAccessConflict.Code()}
	ErrRollbackFailed           = &RedemptionError{Kind: KindRollbackFailed, Code: KindRollbackFailed.Code()}
)

// APIError represents a non-redemption error response such as a malformed
// request or a failed admin authentication.
type APIError struct {
	// Code is the error code (e.g., "invalid_request", "unauthorized").
	Code string `json:"error"`
	// Description provides additional human-readable error information.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status code to return (excluded from JSON).
	StatusCode int `json:"-"`
}

// NewInvalidRequest creates an APIError for malformed input. Returns HTTP 400 Bad Request.
func NewInvalidRequest(description string) *APIError {
	return &APIError{Code: "invalid_request", Description: description, StatusCode: http.StatusBadRequest}
}

// NewUnauthorized creates an APIError for missing or invalid credentials. Returns HTTP 401.
func NewUnauthorized(description string) *APIError {
	return &APIError{Code: "unauthorized", Description: description, StatusCode: http.StatusUnauthorized}
}

// NewForbidden creates an APIError for insufficient scope. Returns HTTP 403.
func NewForbidden(description string) *APIError {
	return &APIError{Code: "forbidden", Description: description, StatusCode: http.StatusForbidden}
}

// NewNotFound creates an APIError for a missing resource. Returns HTTP 404.
func NewNotFound(description string) *APIError {
	return &APIError{Code: "not_found", Description: description, StatusCode: http.StatusNotFound}
}

// NewServerError creates an APIError for unexpected failures. Returns HTTP 500.
func NewServerError(description string) *APIError {
	return &APIError{Code: "server_error", Description: description, StatusCode: http.StatusInternalServerError}
}

// NewTemporarilyUnavailable creates an APIError for unavailable dependencies. Returns HTTP 503.
func NewTemporarilyUnavailable(description string) *APIError {
	return &APIError{Code: "temporarily_unavailable", Description: description, StatusCode: http.StatusServiceUnavailable}
}

// Error returns a string representation of the API error.
func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// ValidationError represents a single field validation error.
// It contains the field name that failed validation and a human-readable
// message describing the validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error returns a string representation of the validation error in the format
// "field: message". It implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a slice of ValidationError that represents multiple
// field validation errors.
type ValidationErrors []ValidationError

// Error returns a string representation of the validation errors.
// If there are no errors, it returns "validation failed".
// If there is one error, it returns that error's message.
// If there are multiple errors, it returns a summary with the count.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("validation failed with %d errors", len(e))
}

// HasErrors returns true if there are one or more validation errors in the collection.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
