package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, identity, password string, req models.RequestInfo) (*services.LoginResult, error)
	Logout(ctx context.Context, userID, token string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Identity string `json:"identity" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// LoginResponse carries the new session. Clients send the token back as
// "Authorization: Session <token>" together with X-User-ID.
type LoginResponse struct {
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	SessionToken string    `json:"session_token"`
	CreatedAt    time.Time `json:"created_at"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), req.Identity, req.Password, middleware.GetRequestInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTooManyAttempts):
			pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.")
		case errors.Is(err, models.ErrUnauthorized),
			errors.Is(err, models.ErrAccountDisabled):
			// Same response for every credential or account problem to prevent enumeration
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		UserID:       result.User.ID,
		Role:         result.User.Role,
		SessionToken: result.Session.Token,
		CreatedAt:    result.Session.CreatedAt,
	})
}

// Logout handles POST /auth/logout. Requires middleware.RequireSession.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), session.UserID, session.Token); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
