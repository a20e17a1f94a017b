package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler_Login_Success(t *testing.T) {
	created := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	var gotIdentity string
	var gotInfo models.RequestInfo
	mockService := &MockAuthService{
		LoginFunc: func(ctx context.Context, identity, password string, req models.RequestInfo) (*services.LoginResult, error) {
			gotIdentity, gotInfo = identity, req
			return &services.LoginResult{
				User:    &models.User{ID: "user-1", Role: "admin"},
				Session: &models.SessionRecord{UserID: "user-1", Token: "tok", CreatedAt: created},
			}, nil
		},
	}
	handler := NewAuthHandler(mockService)

	req := NewTestRequest(t, http.MethodPost, "/auth/login", LoginRequest{Identity: "alice", Password: "secret"})
	req.RemoteAddr = "192.0.2.4:1000"
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp LoginResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "admin", resp.Role)
	assert.Equal(t, "tok", resp.SessionToken)
	assert.True(t, created.Equal(resp.CreatedAt))
	assert.Equal(t, "alice", gotIdentity)
	assert.Equal(t, "192.0.2.4", gotInfo.IPAddress)
	assert.Equal(t, "test-agent", gotInfo.UserAgent)
}

func TestAuthHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad credentials", models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"disabled account looks like bad credentials", models.ErrAccountDisabled, http.StatusUnauthorized, "unauthorized"},
		{"locked out", models.ErrTooManyAttempts, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"internal", models.ErrInternalServer, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthHandler(&MockAuthService{
				LoginFunc: func(ctx context.Context, identity, password string, req models.RequestInfo) (*services.LoginResult, error) {
					return nil, tt.err
				},
			})

			req := NewTestRequest(t, http.MethodPost, "/auth/login", LoginRequest{Identity: "alice", Password: "secret"})
			w := httptest.NewRecorder()
			handler.Login(w, req)

			AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestAuthHandler_Login_DisabledAndWrongPasswordIndistinguishable(t *testing.T) {
	respond := func(err error) string {
		handler := NewAuthHandler(&MockAuthService{
			LoginFunc: func(ctx context.Context, identity, password string, req models.RequestInfo) (*services.LoginResult, error) {
				return nil, err
			},
		})
		w := httptest.NewRecorder()
		handler.Login(w, NewTestRequest(t, http.MethodPost, "/auth/login", LoginRequest{Identity: "alice", Password: "x"}))
		return w.Body.String()
	}

	assert.Equal(t, respond(models.ErrUnauthorized), respond(models.ErrAccountDisabled))
}

func TestAuthHandler_Login_InvalidBody(t *testing.T) {
	handler := NewAuthHandler(&MockAuthService{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", "{"},
		{"missing password", `{"identity":"alice"}`},
		{"missing identity", `{"password":"secret"}`},
		{"oversized password", `{"identity":"alice","password":"` + strings.Repeat("a", 73) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.Login(w, req)

			AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	var gotUser, gotToken string
	handler := NewAuthHandler(&MockAuthService{
		LogoutFunc: func(ctx context.Context, userID, token string) error {
			gotUser, gotToken = userID, token
			return nil
		},
	})

	req := WithSessionContext(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), "user-1", "tok")
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "user-1", gotUser)
	assert.Equal(t, "tok", gotToken)
}

func TestAuthHandler_Logout_RequiresSession(t *testing.T) {
	handler := NewAuthHandler(&MockAuthService{})

	w := httptest.NewRecorder()
	handler.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestAuthHandler_Logout_Failure(t *testing.T) {
	handler := NewAuthHandler(&MockAuthService{
		LogoutFunc: func(ctx context.Context, userID, token string) error {
			return models.ErrStoreUnavailable
		},
	})

	req := WithSessionContext(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), "user-1", "tok")
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}
