package services

import (
	"context"
	"log/slog"
	"testing"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_GetUserByID_Success(t *testing.T) {
	user := NewTestUser("user123", "alice@example.com", "")

	mockUserRepo := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}

	svc := NewUserService(mockUserRepo, slog.Default())

	result, err := svc.GetUserByID(context.Background(), "user123")

	assert.NoError(t, err)
	assert.Equal(t, "user123", result.ID)
	assert.Equal(t, "alice@example.com", result.Identity)
}

func TestUserService_GetUserByID_NotFound(t *testing.T) {
	svc := NewUserService(&MockUserRepository{}, slog.Default())

	result, err := svc.GetUserByID(context.Background(), "nonexistent")

	assert.Nil(t, result)
	assert.Equal(t, models.ErrNotFound, err)
}

func TestUserService_GetUserByID_DatabaseError(t *testing.T) {
	mockUserRepo := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return nil, assert.AnError
		},
	}

	svc := NewUserService(mockUserRepo, slog.Default())

	result, err := svc.GetUserByID(context.Background(), "user123")

	assert.Nil(t, result)
	assert.Equal(t, models.ErrInternalServer, err)
}

func TestUserService_ListUsers(t *testing.T) {
	users := []*models.User{
		NewTestUser("user1", "one@example.com", ""),
		NewTestUser("user2", "two@example.com", ""),
	}

	var gotLimit, gotOffset int
	mockUserRepo := &MockUserRepository{
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.User, error) {
			gotLimit, gotOffset = limit, offset
			return users, nil
		},
	}

	svc := NewUserService(mockUserRepo, slog.Default())

	result, err := svc.ListUsers(context.Background(), 10, 20)

	assert.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, 10, gotLimit)
	assert.Equal(t, 20, gotOffset)
}

func TestUserService_CreateUser(t *testing.T) {
	var created *models.User
	mockUserRepo := &MockUserRepository{
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			created = user
			user.ID = "new-id"
			return user, nil
		},
	}

	svc := NewUserService(mockUserRepo, slog.Default())

	user, err := svc.CreateUser(context.Background(), " Editor@Example.com ", "editor@example.com", "long enough password", "")

	require.NoError(t, err)
	assert.Equal(t, "new-id", user.ID)
	assert.Equal(t, "editor@example.com", created.Identity)
	assert.Equal(t, "user", created.Role)
	assert.Equal(t, models.UserStatusActive, created.Status)
	assert.NoError(t, auth.ComparePassword(created.PasswordHash, "long enough password"))
}

func TestUserService_CreateUser_Conflict(t *testing.T) {
	mockUserRepo := &MockUserRepository{
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			return nil, models.ErrConflict
		},
	}

	svc := NewUserService(mockUserRepo, slog.Default())

	_, err := svc.CreateUser(context.Background(), "alice", "alice@example.com", "password", "admin")

	assert.Equal(t, models.ErrConflict, err)
}

func TestUserService_CreateUser_RejectsEmptyPassword(t *testing.T) {
	svc := NewUserService(&MockUserRepository{}, slog.Default())

	_, err := svc.CreateUser(context.Background(), "alice", "alice@example.com", "", "user")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestUserService_EnsureUser_Existing(t *testing.T) {
	existing := NewTestUser("user1", "admin", "")
	mockUserRepo := &MockUserRepository{
		GetByIdentityFunc: func(ctx context.Context, identity string) (*models.User, error) {
			return existing, nil
		},
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			t.Fatal("create must not be called for an existing identity")
			return nil, nil
		},
	}

	svc := NewUserService(mockUserRepo, slog.Default())

	user, created, err := svc.EnsureUser(context.Background(), "admin", "", "password", "admin")

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "user1", user.ID)
}
