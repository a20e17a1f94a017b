package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc       func(ctx context.Context, id string) (*models.User, error)
	GetByIdentityFunc func(ctx context.Context, identity string) (*models.User, error)
	ListFunc          func(ctx context.Context, limit, offset int) ([]*models.User, error)
	CreateFunc        func(ctx context.Context, user *models.User) (*models.User, error)
	DeactivateFunc    func(ctx context.Context, identity, reason string) (bool, error)
	ActivateFunc      func(ctx context.Context, identity, reason string) (bool, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByIdentity(ctx context.Context, identity string) (*models.User, error) {
	if m.GetByIdentityFunc != nil {
		return m.GetByIdentityFunc(ctx, identity)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) Deactivate(ctx context.Context, identity, reason string) (bool, error) {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, identity, reason)
	}
	return true, nil
}

func (m *MockUserRepository) Activate(ctx context.Context, identity, reason string) (bool, error) {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, identity, reason)
	}
	return true, nil
}

// MockEventRecorder records every event it is given
type MockEventRecorder struct {
	LogSecurityEventFunc func(ctx context.Context, in models.EventInput) (*models.SecurityEvent, error)

	mu     sync.Mutex
	inputs []models.EventInput
}

func (m *MockEventRecorder) LogSecurityEvent(ctx context.Context, in models.EventInput) (*models.SecurityEvent, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()

	if m.LogSecurityEventFunc != nil {
		return m.LogSecurityEventFunc(ctx, in)
	}
	return &models.SecurityEvent{Type: in.Type, Severity: in.Severity, Description: in.Description}, nil
}

// Inputs returns the recorded events in order
func (m *MockEventRecorder) Inputs() []models.EventInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.EventInput(nil), m.inputs...)
}

// OfType returns the recorded events of type t
func (m *MockEventRecorder) OfType(t models.EventType) []models.EventInput {
	var out []models.EventInput
	for _, in := range m.Inputs() {
		if in.Type == t {
			out = append(out, in)
		}
	}
	return out
}

// MockNotifier records alerts
type MockNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (m *MockNotifier) Notify(ctx context.Context, alert Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
}

func (m *MockNotifier) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// NewTestUser builds an active user
func NewTestUser(id, identity, passwordHash string) *models.User {
	now := time.Now()
	return &models.User{
		ID:           id,
		Identity:     identity,
		Email:        identity,
		PasswordHash: passwordHash,
		Role:         "user",
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestUserWithStatus builds a user with the given status
func NewTestUserWithStatus(id, identity, passwordHash, status string) *models.User {
	user := NewTestUser(id, identity, passwordHash)
	user.Status = status
	return user
}
