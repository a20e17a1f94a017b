package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext attaches an authenticated session as RequireSession would
func WithSessionContext(req *http.Request, userID, token string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.SessionContextKey, &middleware.SessionContext{UserID: userID, Token: token})
	return req.WithContext(ctx)
}

// WithURLParams sets chi route parameters on req
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc  func(ctx context.Context, identity, password string, req models.RequestInfo) (*services.LoginResult, error)
	LogoutFunc func(ctx context.Context, userID, token string) error
}

func (m *MockAuthService) Login(ctx context.Context, identity, password string, req models.RequestInfo) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, identity, password, req)
}

func (m *MockAuthService) Logout(ctx context.Context, userID, token string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, userID, token)
}

// MockUserService implements UserService for testing
type MockUserService struct {
	GetUserByIDFunc func(ctx context.Context, id string) (*models.User, error)
	ListUsersFunc   func(ctx context.Context, limit, offset int) ([]*models.User, error)
	CreateUserFunc  func(ctx context.Context, identity, email, password, role string) (*models.User, error)
}

func (m *MockUserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetUserByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetUserByIDFunc(ctx, id)
}

func (m *MockUserService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListUsersFunc == nil {
		return []*models.User{}, nil
	}
	return m.ListUsersFunc(ctx, limit, offset)
}

func (m *MockUserService) CreateUser(ctx context.Context, identity, email, password, role string) (*models.User, error) {
	if m.CreateUserFunc == nil {
		return nil, models.ErrConflict
	}
	return m.CreateUserFunc(ctx, identity, email, password, role)
}

// MockSecurityMonitor implements SecurityMonitor for testing
type MockSecurityMonitor struct {
	GetDashboardDataFunc func(ctx context.Context) (*models.DashboardData, error)
	ListEventsFunc       func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityMonitor) GetDashboardData(ctx context.Context) (*models.DashboardData, error) {
	if m.GetDashboardDataFunc == nil {
		return &models.DashboardData{Health: models.HealthHealthy}, nil
	}
	return m.GetDashboardDataFunc(ctx)
}

func (m *MockSecurityMonitor) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if m.ListEventsFunc == nil {
		return nil, nil
	}
	return m.ListEventsFunc(ctx, filter)
}

// MockLockoutManager implements LockoutManager for testing
type MockLockoutManager struct {
	GetUserLockoutInfoFunc func(ctx context.Context, identity string) (*models.LockoutStatus, error)
	GetIPLockoutInfoFunc   func(ctx context.Context, ip string) (*models.LockoutStatus, error)
	UnlockUserFunc         func(ctx context.Context, identity string, req models.RequestInfo) error
	UnlockIPFunc           func(ctx context.Context, ip string, req models.RequestInfo) error
}

func (m *MockLockoutManager) GetUserLockoutInfo(ctx context.Context, identity string) (*models.LockoutStatus, error) {
	if m.GetUserLockoutInfoFunc == nil {
		return &models.LockoutStatus{Key: identity}, nil
	}
	return m.GetUserLockoutInfoFunc(ctx, identity)
}

func (m *MockLockoutManager) GetIPLockoutInfo(ctx context.Context, ip string) (*models.LockoutStatus, error) {
	if m.GetIPLockoutInfoFunc == nil {
		return &models.LockoutStatus{Key: ip}, nil
	}
	return m.GetIPLockoutInfoFunc(ctx, ip)
}

func (m *MockLockoutManager) UnlockUser(ctx context.Context, identity string, req models.RequestInfo) error {
	if m.UnlockUserFunc == nil {
		return nil
	}
	return m.UnlockUserFunc(ctx, identity, req)
}

func (m *MockLockoutManager) UnlockIP(ctx context.Context, ip string, req models.RequestInfo) error {
	if m.UnlockIPFunc == nil {
		return nil
	}
	return m.UnlockIPFunc(ctx, ip, req)
}

// MockSessionManager implements SessionManager for testing
type MockSessionManager struct {
	ListActiveSessionsFunc        func(ctx context.Context, userID string) ([]models.SessionSummary, error)
	InvalidateAllUserSessionsFunc func(ctx context.Context, userID string, reason models.InvalidationReason) (int, error)
}

func (m *MockSessionManager) ListActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	if m.ListActiveSessionsFunc == nil {
		return nil, nil
	}
	return m.ListActiveSessionsFunc(ctx, userID)
}

func (m *MockSessionManager) InvalidateAllUserSessions(ctx context.Context, userID string, reason models.InvalidationReason) (int, error) {
	if m.InvalidateAllUserSessionsFunc == nil {
		return 0, nil
	}
	return m.InvalidateAllUserSessionsFunc(ctx, userID, reason)
}

// MockParameterChecker implements ParameterChecker for testing
type MockParameterChecker struct {
	CheckQueryParametersFunc func(ctx context.Context, values []any, req models.RequestInfo) error
}

func (m *MockParameterChecker) CheckQueryParameters(ctx context.Context, values []any, req models.RequestInfo) error {
	if m.CheckQueryParametersFunc == nil {
		return nil
	}
	return m.CheckQueryParametersFunc(ctx, values, req)
}
