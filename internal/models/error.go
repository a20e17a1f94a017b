package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Input validation errors; rejected before any store access
	ErrInvalidIdentity     = errors.New("invalid identity")
	ErrInvalidIPAddress    = errors.New("invalid ip address")
	ErrInvalidSessionToken = errors.New("invalid session token")
	ErrInvalidUserID       = errors.New("invalid user id")
	ErrInvalidEvent        = errors.New("invalid security event")

	// Policy outcomes surfaced to the HTTP layer
	ErrTooManyAttempts     = errors.New("too many failed login attempts")
	ErrAccountDisabled     = errors.New("account is disabled")
	ErrSessionInvalid      = errors.New("session is not valid")
	ErrSuspiciousParameter = errors.New("query parameter matches an injection pattern")

	// Store errors
	ErrStoreUnavailable = errors.New("counter store unavailable")
	ErrLockTimeout      = errors.New("timed out acquiring lock")
)
