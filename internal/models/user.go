package models

import (
	"time"
)

// Account statuses
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// DeactivatedByLockout is the deactivation reason recorded by a permanent lockout
const DeactivatedByLockout = "permanent lockout"

// User is an account in the directory. Identity is the login identifier
// (email or username) that lockout counters are keyed by.
type User struct {
	ID                string
	Identity          string
	Email             string
	PasswordHash      string
	Role              string // "user", "admin"
	Status            string
	DeactivatedReason *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive reports whether the account may log in
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
