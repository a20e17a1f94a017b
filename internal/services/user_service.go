package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/auth"
	"github.com/BradenHooton/bastion/pkg/logger"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIdentity(ctx context.Context, identity string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Deactivate(ctx context.Context, identity, reason string) (bool, error)
	Activate(ctx context.Context, identity, reason string) (bool, error)
}

// UserService handles account directory operations for administrators
type UserService struct {
	repo   UserRepository
	logger *slog.Logger
}

func NewUserService(repo UserRepository, logger *slog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		logger: logger,
	}
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}

// ListUsers retrieves a page of users
func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	users, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list users", slog.Int("limit", limit), slog.Int("offset", offset), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return users, nil
}

// CreateUser hashes password and stores a new active account
func (s *UserService) CreateUser(ctx context.Context, identity, email, password, role string) (*models.User, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = "user"
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	user, err := s.repo.Create(ctx, &models.User{
		Identity:     identity,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       models.UserStatusActive,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("identity", logger.SanitizedIdentity(identity)),
		slog.String("role", role))
	return user, nil
}

// EnsureUser creates the account unless the identity already exists
func (s *UserService) EnsureUser(ctx context.Context, identity, email, password, role string) (*models.User, bool, error) {
	normalized, err := normalizeIdentity(identity)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.repo.GetByIdentity(ctx, normalized)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("look up user: %w", err)
	}
	user, err := s.CreateUser(ctx, normalized, email, password, role)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}
