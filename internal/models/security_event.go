package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of security event
type EventType string

// Event types recorded by the security core
const (
	EventFailedLogin                  EventType = "failed_login"
	EventSuccessfulLoginAfterFailures EventType = "successful_login_after_failures"
	EventAccountLockout               EventType = "account_lockout"
	EventIPLockout                    EventType = "ip_lockout"
	EventAccountUnlocked              EventType = "account_unlocked"
	EventIPUnlocked                   EventType = "ip_unlocked"
	EventSessionAnomaly               EventType = "session_anomaly"
	EventSuspiciousQuery              EventType = "suspicious_query"
	EventUnparameterizedQuery         EventType = "unparameterized_query"
	EventSlowQuery                    EventType = "slow_query"
	EventSuspiciousParameter          EventType = "suspicious_parameter"
	EventRateLimitExceeded            EventType = "rate_limit_exceeded"
	EventPotentialAttack              EventType = "potential_attack"
	EventCoordinatedAttack            EventType = "coordinated_attack"
	EventSecurityAlert                EventType = "security_alert"
)

// IsDerived reports whether the event type is produced by alert evaluation itself.
// Derived events never re-enter threshold, burst or coordinated-attack checks.
func (t EventType) IsDerived() bool {
	switch t {
	case EventSecurityAlert, EventPotentialAttack, EventCoordinatedAttack:
		return true
	}
	return false
}

// Severity is the importance of a security event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SecurityEvent is an append-only audit record. It is never updated after creation.
type SecurityEvent struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	Type        EventType     `db:"event_type" json:"type"`
	Severity    Severity      `db:"severity" json:"severity"`
	Description string        `db:"description" json:"description"`
	IPAddress   string        `db:"ip_address" json:"ip_address"`
	UserAgent   string        `db:"user_agent" json:"user_agent"`
	UserID      *string       `db:"user_id" json:"user_id,omitempty"`
	Metadata    EventMetadata `db:"metadata" json:"metadata"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// EventInput carries what a caller knows about a new security event.
// Request supplies origin IP, user agent, user id and URL for enrichment.
type EventInput struct {
	Type        EventType
	Severity    Severity
	Description string
	Metadata    EventMetadata
	Request     RequestInfo
}

// EventMetadata holds structured context for security events (stored as JSONB)
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (em *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*em = make(EventMetadata)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*em = EventMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (em EventMetadata) Value() (driver.Value, error) {
	if em == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(em))
}

// Clone returns a shallow copy that is safe to enrich without touching the caller's map
func (em EventMetadata) Clone() EventMetadata {
	out := make(EventMetadata, len(em)+4)
	for k, v := range em {
		out[k] = v
	}
	return out
}

// EventFilter narrows event queries for the admin API
type EventFilter struct {
	Types      []EventType
	Severities []Severity
	IPAddress  string
	Since      time.Time
	Limit      int
}

// CountByKey is a generic aggregate row (event type, severity or IP)
type CountByKey struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// HealthStatus summarizes recent security activity
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// DashboardData aggregates security activity for the admin dashboard
type DashboardData struct {
	RecentEvents     []*SecurityEvent `json:"recent_events"`
	CountsByType     []CountByKey     `json:"counts_by_type"`
	CountsBySeverity []CountByKey     `json:"counts_by_severity"`
	TopIPs           []CountByKey     `json:"top_ips"`
	CriticalLastHour int64            `json:"critical_last_hour"`
	HighLastHour     int64            `json:"high_last_hour"`
	Health           HealthStatus     `json:"health"`
	GeneratedAt      time.Time        `json:"generated_at"`
}
