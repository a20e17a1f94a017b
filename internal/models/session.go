package models

import "time"

// InvalidationReason records why a session left the ACTIVE state
type InvalidationReason string

const (
	ReasonTimeout           InvalidationReason = "timeout"
	ReasonIdleTimeout       InvalidationReason = "idle_timeout"
	ReasonIPMismatch        InvalidationReason = "ip_mismatch"
	ReasonUAMismatch        InvalidationReason = "ua_mismatch"
	ReasonInsecureTransport InvalidationReason = "insecure_transport"
	ReasonConcurrentLimit   InvalidationReason = "concurrent_limit"
	ReasonManual            InvalidationReason = "manual"
	ReasonLogout            InvalidationReason = "logout"
	ReasonRotated           InvalidationReason = "rotated"

	// Not stored on records; reported when a validation cannot be decided.
	ReasonNotFound         InvalidationReason = "not_found"
	ReasonInactive         InvalidationReason = "inactive"
	ReasonStoreUnavailable InvalidationReason = "store_unavailable"
)

// SessionRecord is the server-side state bound to a session token
type SessionRecord struct {
	UserID             string             `json:"user_id"`
	Token              string             `json:"token"`
	OriginIP           string             `json:"origin_ip"`
	OriginUserAgent    string             `json:"origin_user_agent"`
	CreatedAt          time.Time          `json:"created_at"`
	LastActivityAt     time.Time          `json:"last_activity_at"`
	TokenRotatedAt     time.Time          `json:"token_rotated_at"`
	IsActive           bool               `json:"is_active"`
	InvalidatedAt      *time.Time         `json:"invalidated_at,omitempty"`
	InvalidationReason InvalidationReason `json:"invalidation_reason,omitempty"`

	// Set on a pre-rotation record: the token that replaced it and how long
	// the old token is still honored.
	RotatedTo  string     `json:"rotated_to,omitempty"`
	GraceUntil *time.Time `json:"grace_until,omitempty"`
}

// SessionValidation is the result of validating a session token.
// Token is the token the caller must use from now on; it differs from the
// presented token when the session was rotated.
type SessionValidation struct {
	Valid   bool
	Reason  InvalidationReason
	Token   string
	Rotated bool
	Session *SessionRecord
}

// SessionSummary is the admin-facing view of a session. The token is truncated.
type SessionSummary struct {
	TokenPrefix    string    `json:"token_prefix"`
	OriginIP       string    `json:"origin_ip"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
