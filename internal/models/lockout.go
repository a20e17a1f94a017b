package models

import "time"

// LockoutScope distinguishes identity-scoped from network-scoped counters
type LockoutScope string

const (
	ScopeUser LockoutScope = "user"
	ScopeIP   LockoutScope = "ip"
)

// LockoutRecord describes an active lockout for an identity or IP address.
// A permanent record has no LockedUntil and never expires on its own.
type LockoutRecord struct {
	Scope        LockoutScope `json:"scope"`
	Key          string       `json:"key"`
	LockedAt     time.Time    `json:"locked_at"`
	LockedUntil  *time.Time   `json:"locked_until,omitempty"`
	AttemptCount int64        `json:"attempt_count"`
	LockoutCount int64        `json:"lockout_count"`
	IsPermanent  bool         `json:"is_permanent"`
}

// AttemptResult is the outcome of recording a failed login attempt.
// Lockouts are expected outcomes, not errors.
type AttemptResult struct {
	UserAttempts int64
	IPAttempts   int64
	UserLocked   bool
	IPLocked     bool
	Lockout      *LockoutRecord
}

// LockoutStatus is what the admin API reports for a single identity or IP
type LockoutStatus struct {
	Key            string         `json:"key"`
	Locked         bool           `json:"locked"`
	FailedAttempts int64          `json:"failed_attempts"`
	LockoutCount   int64          `json:"lockout_count"`
	Record         *LockoutRecord `json:"record,omitempty"`
}
