package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/auth"
	"github.com/BradenHooton/bastion/pkg/logger"
)

// LoginResult is a successful login: the account and its new session
type LoginResult struct {
	User    *models.User
	Session *models.SessionRecord
}

// AuthService runs password logins through the lockout engine and issues
// sessions. Locked-out callers get models.ErrTooManyAttempts whatever the
// credentials were.
type AuthService struct {
	users    UserRepository
	lockout  *LockoutService
	sessions *SessionService
	delay    *auth.FailureDelay
	logger   *slog.Logger
}

func NewAuthService(users UserRepository, lockout *LockoutService, sessions *SessionService, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		lockout:  lockout,
		sessions: sessions,
		logger:   logger,
	}
}

// WithFailureDelay pads every rejected login to the delay's floor
func (s *AuthService) WithFailureDelay(delay *auth.FailureDelay) *AuthService {
	s.delay = delay
	return s
}

// Login authenticates identity and returns a new session
func (s *AuthService) Login(ctx context.Context, identity, password string, req models.RequestInfo) (*LoginResult, error) {
	start := time.Now()
	result, err := s.login(ctx, identity, password, req)
	if err != nil {
		s.delay.WaitFrom(ctx, start)
	}
	return result, err
}

func (s *AuthService) login(ctx context.Context, identity, password string, req models.RequestInfo) (*LoginResult, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	if locked, _ := s.lockout.IsUserLockedOut(ctx, identity); locked {
		s.logger.Info("login blocked: identity locked out",
			slog.String("identity", logger.SanitizedIdentity(identity)))
		return nil, models.ErrTooManyAttempts
	}
	if req.IPAddress != "" {
		if locked, _ := s.lockout.IsIPLockedOut(ctx, req.IPAddress); locked {
			s.logger.Info("login blocked: ip locked out", slog.String("ip_address", req.IPAddress))
			return nil, models.ErrTooManyAttempts
		}
	}

	user, err := s.users.GetByIdentity(ctx, identity)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get user by identity", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		auth.EqualizeTiming(password)
		return nil, s.failed(ctx, identity, req)
	}

	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("failed to verify password", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return nil, s.failed(ctx, identity, req)
	}

	if !user.IsActive() {
		s.logger.Info("login blocked: account disabled", slog.String("user_id", user.ID))
		return nil, models.ErrAccountDisabled
	}

	if err := s.lockout.RecordSuccessfulLogin(ctx, identity, req); err != nil {
		s.logger.Warn("failed to record successful login", slog.Any("error", err))
	}

	req.UserID = user.ID
	session, err := s.sessions.InitializeSession(ctx, user.ID, req)
	if err != nil {
		s.logger.Error("failed to initialize session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("login succeeded", slog.String("user_id", user.ID))
	return &LoginResult{User: user, Session: session}, nil
}

// failed records the attempt and picks the error the caller sees
func (s *AuthService) failed(ctx context.Context, identity string, req models.RequestInfo) error {
	result, err := s.lockout.RecordFailedAttempt(ctx, identity, req)
	if err != nil {
		s.logger.Warn("failed to record failed attempt", slog.Any("error", err))
		return models.ErrUnauthorized
	}
	if result.UserLocked || result.IPLocked {
		return models.ErrTooManyAttempts
	}
	return models.ErrUnauthorized
}

// Logout terminates the session
func (s *AuthService) Logout(ctx context.Context, userID, token string) error {
	return s.sessions.InvalidateSession(ctx, userID, token, models.ReasonLogout)
}
