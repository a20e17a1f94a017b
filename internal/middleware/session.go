package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

type contextKey string

// SessionContextKey is the key for storing the validated session in context
const SessionContextKey contextKey = "session"

// Header names used by session authentication
const (
	UserIDHeader       = "X-User-ID"
	SessionTokenHeader = "X-Session-Token"
	sessionScheme      = "Session"
)

// SessionValidator validates a presented session token
type SessionValidator interface {
	ValidateSession(ctx context.Context, userID, token string, req models.RequestInfo) (*models.SessionValidation, error)
}

// UserLookup fetches the current account for role checks
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// SessionContext is the authenticated caller
type SessionContext struct {
	UserID string
	Token  string
}

// RequireSession authenticates requests carrying "Authorization: Session <token>"
// and X-User-ID. When the session is rotated the replacement token is returned
// in X-Session-Token. An unreachable session store denies access.
func RequireSession(sessions SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := sessionToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing session credentials")
				return
			}
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				pkghttp.WriteUnauthorized(w, "missing session credentials")
				return
			}

			info := GetRequestInfo(r)
			result, err := sessions.ValidateSession(r.Context(), userID, token, info)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid session")
				return
			}
			if !result.Valid {
				if result.Reason == models.ReasonStoreUnavailable {
					logger.Error("session store unavailable; denying request",
						slog.String("path", r.URL.Path))
					pkghttp.WriteServiceUnavailable(w, "unable to verify session")
					return
				}
				pkghttp.WriteUnauthorized(w, "invalid session")
				return
			}

			if result.Rotated {
				w.Header().Set(SessionTokenHeader, result.Token)
			}

			info.UserID = userID
			ctx := models.WithRequestInfo(r.Context(), info)
			ctx = context.WithValue(ctx, SessionContextKey, &SessionContext{UserID: userID, Token: result.Token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != sessionScheme {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// RequireRole enforces role-based access control. Must run after RequireSession.
func RequireRole(users UserLookup, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetSessionFromContext(r)
			if session == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			user, err := users.GetUserByID(r.Context(), session.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "user not found")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if user.Role != role || !user.IsActive() {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetSessionFromContext returns the session set by RequireSession, or nil
func GetSessionFromContext(r *http.Request) *SessionContext {
	session, ok := r.Context().Value(SessionContextKey).(*SessionContext)
	if !ok {
		return nil
	}
	return session
}
