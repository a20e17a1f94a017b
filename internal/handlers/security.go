package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SecurityMonitor is the read side of the security event monitor
type SecurityMonitor interface {
	GetDashboardData(ctx context.Context) (*models.DashboardData, error)
	ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
}

// LockoutManager exposes lockout inspection and manual unlock
type LockoutManager interface {
	GetUserLockoutInfo(ctx context.Context, identity string) (*models.LockoutStatus, error)
	GetIPLockoutInfo(ctx context.Context, ip string) (*models.LockoutStatus, error)
	UnlockUser(ctx context.Context, identity string, req models.RequestInfo) error
	UnlockIP(ctx context.Context, ip string, req models.RequestInfo) error
}

// SessionManager exposes session listing and forced termination
type SessionManager interface {
	ListActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error)
	InvalidateAllUserSessions(ctx context.Context, userID string, reason models.InvalidationReason) (int, error)
}

// ParameterChecker screens values bound for SQL parameters
type ParameterChecker interface {
	CheckQueryParameters(ctx context.Context, values []any, req models.RequestInfo) error
}

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
)

// SecurityHandler serves the admin security API
type SecurityHandler struct {
	monitor  SecurityMonitor
	lockout  LockoutManager
	sessions SessionManager
	params   ParameterChecker
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(monitor SecurityMonitor, lockout LockoutManager, sessions SessionManager, params ParameterChecker) *SecurityHandler {
	return &SecurityHandler{
		monitor:  monitor,
		lockout:  lockout,
		sessions: sessions,
		params:   params,
	}
}

// RegisterRoutes registers the security routes with the chi router
func (h *SecurityHandler) RegisterRoutes(router chi.Router) {
	router.Route("/security", func(r chi.Router) {
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/events", h.ListEvents)

		r.Get("/lockouts/users/{identity}", h.GetUserLockout)
		r.Post("/lockouts/users/{identity}/unlock", h.UnlockUser)
		r.Get("/lockouts/ips/{ip}", h.GetIPLockout)
		r.Post("/lockouts/ips/{ip}/unlock", h.UnlockIP)

		r.Get("/sessions/{userID}", h.ListSessions)
		r.Delete("/sessions/{userID}", h.InvalidateSessions)

		r.Post("/query/validate", h.ValidateParameters)
	})
}

// GetDashboard handles GET /admin/security/dashboard
func (h *SecurityHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	data, err := h.monitor.GetDashboardData(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to build security dashboard")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, data)
}

// EventsResponse is a page of security events
type EventsResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Count  int                     `json:"count"`
}

// ListEvents handles GET /admin/security/events.
// Filters: type and severity (repeatable), ip, since (RFC3339 or a duration such as 24h), limit.
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r.URL.Query(), time.Now())
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.monitor.ListEvents(r.Context(), filter)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list security events")
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

func parseEventFilter(q url.Values, now time.Time) (models.EventFilter, error) {
	filter := models.EventFilter{Limit: defaultEventLimit}

	for _, t := range q["type"] {
		filter.Types = append(filter.Types, models.EventType(strings.TrimSpace(t)))
	}
	for _, s := range q["severity"] {
		sev := models.Severity(strings.ToLower(strings.TrimSpace(s)))
		if !sev.Valid() {
			return filter, errors.New("invalid severity")
		}
		filter.Severities = append(filter.Severities, sev)
	}
	if ip := q.Get("ip"); ip != "" {
		normalized := pkghttp.NormalizeIP(ip)
		if normalized == "" {
			return filter, errors.New("invalid ip")
		}
		filter.IPAddress = normalized
	}
	if since := q.Get("since"); since != "" {
		if d, err := time.ParseDuration(since); err == nil && d > 0 {
			filter.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		} else {
			return filter, errors.New("invalid since")
		}
	}
	if l := q.Get("limit"); l != "" {
		if err := parseIntParam(l, &filter.Limit, 1, maxEventLimit); err != nil {
			return filter, errors.New("invalid limit")
		}
	}
	return filter, nil
}

// GetUserLockout handles GET /admin/security/lockouts/users/{identity}
func (h *SecurityHandler) GetUserLockout(w http.ResponseWriter, r *http.Request) {
	status, err := h.lockout.GetUserLockoutInfo(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		writeSecurityError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// GetIPLockout handles GET /admin/security/lockouts/ips/{ip}
func (h *SecurityHandler) GetIPLockout(w http.ResponseWriter, r *http.Request) {
	status, err := h.lockout.GetIPLockoutInfo(r.Context(), chi.URLParam(r, "ip"))
	if err != nil {
		writeSecurityError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// UnlockResponse confirms a manual unlock
type UnlockResponse struct {
	Key      string `json:"key"`
	Unlocked bool   `json:"unlocked"`
}

// UnlockUser handles POST /admin/security/lockouts/users/{identity}/unlock
func (h *SecurityHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if err := h.lockout.UnlockUser(r.Context(), identity, middleware.GetRequestInfo(r)); err != nil {
		writeSecurityError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, UnlockResponse{Key: identity, Unlocked: true})
}

// UnlockIP handles POST /admin/security/lockouts/ips/{ip}/unlock
func (h *SecurityHandler) UnlockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if err := h.lockout.UnlockIP(r.Context(), ip, middleware.GetRequestInfo(r)); err != nil {
		writeSecurityError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, UnlockResponse{Key: ip, Unlocked: true})
}

// SessionsResponse lists a user's active sessions
type SessionsResponse struct {
	UserID   string                  `json:"user_id"`
	Sessions []models.SessionSummary `json:"sessions"`
}

// ListSessions handles GET /admin/security/sessions/{userID}
func (h *SecurityHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sessions, err := h.sessions.ListActiveSessions(r.Context(), userID)
	if err != nil {
		writeSecurityError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{UserID: userID, Sessions: sessions})
}

// InvalidateSessions handles DELETE /admin/security/sessions/{userID}
func (h *SecurityHandler) InvalidateSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	n, err := h.sessions.InvalidateAllUserSessions(r.Context(), userID, models.ReasonManual)
	if err != nil {
		writeSecurityError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "invalidated": n})
}

// ValidateParametersRequest carries values to screen
type ValidateParametersRequest struct {
	Parameters []string `json:"parameters" validate:"required,min=1,max=100"`
}

// ValidateParametersResponse reports whether every value passed
type ValidateParametersResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// ValidateParameters handles POST /admin/security/query/validate
func (h *SecurityHandler) ValidateParameters(w http.ResponseWriter, r *http.Request) {
	var req ValidateParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	values := make([]any, len(req.Parameters))
	for i, p := range req.Parameters {
		values[i] = p
	}

	err := h.params.CheckQueryParameters(r.Context(), values, middleware.GetRequestInfo(r))
	switch {
	case err == nil:
		pkghttp.WriteJSON(w, http.StatusOK, ValidateParametersResponse{Valid: true})
	case errors.Is(err, models.ErrSuspiciousParameter):
		pkghttp.WriteJSON(w, http.StatusOK, ValidateParametersResponse{Valid: false, Message: err.Error()})
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// writeSecurityError maps security core errors to HTTP responses
func writeSecurityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidIdentity):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "invalid_identity", "Invalid identity", err.Error())
	case errors.Is(err, models.ErrInvalidIPAddress):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "invalid_ip", "Invalid IP address", err.Error())
	case errors.Is(err, models.ErrInvalidUserID):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "invalid_user_id", "Invalid user id", err.Error())
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrLockTimeout):
		pkghttp.WriteServiceUnavailable(w, "Security store unavailable")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
