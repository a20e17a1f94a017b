//go:build integration

package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEvent(t *testing.T, repo *repositories.SecurityEventRepository, eventType models.EventType, severity models.Severity, ip string, at time.Time) {
	t.Helper()
	_, err := repo.Create(context.Background(), &models.SecurityEvent{
		Type:        eventType,
		Severity:    severity,
		Description: "seeded",
		IPAddress:   ip,
		Metadata:    models.EventMetadata{"source": "test"},
		CreatedAt:   at,
	})
	require.NoError(t, err)
}

func TestSecurityEventRepository_CreateAndList(t *testing.T) {
	truncate(t, "security_events")
	repo := repositories.NewSecurityEventRepository(testDB)
	ctx := context.Background()

	userID := "42"
	created, err := repo.Create(ctx, &models.SecurityEvent{
		Type:        models.EventFailedLogin,
		Severity:    models.SeverityMedium,
		Description: "Failed login attempt",
		IPAddress:   "203.0.113.9",
		UserAgent:   "curl/8",
		UserID:      &userID,
		Metadata:    models.EventMetadata{"identity": "a****"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "a****", created.Metadata["identity"])

	events, err := repo.List(ctx, models.EventFilter{
		Types: []models.EventType{models.EventFailedLogin},
		Since: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, created.ID, events[0].ID)
	require.NotNil(t, events[0].UserID)
	assert.Equal(t, "42", *events[0].UserID)

	none, err := repo.List(ctx, models.EventFilter{
		Severities: []models.Severity{models.SeverityCritical},
		Since:      time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSecurityEventRepository_Counts(t *testing.T) {
	truncate(t, "security_events")
	repo := repositories.NewSecurityEventRepository(testDB)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		seedEvent(t, repo, models.EventFailedLogin, models.SeverityMedium, "198.51.100.1", now.Add(-time.Minute))
	}
	seedEvent(t, repo, models.EventFailedLogin, models.SeverityMedium, "198.51.100.2", now.Add(-time.Minute))
	seedEvent(t, repo, models.EventSuspiciousQuery, models.SeverityHigh, "198.51.100.1", now.Add(-time.Minute))
	seedEvent(t, repo, models.EventFailedLogin, models.SeverityMedium, "198.51.100.3", now.Add(-2*time.Hour))

	since := now.Add(-10 * time.Minute)

	byIP, err := repo.CountByIPSince(ctx, "198.51.100.1", since)
	require.NoError(t, err)
	assert.Equal(t, int64(4), byIP)

	distinct, err := repo.CountDistinctIPsByTypeSince(ctx, models.EventFailedLogin, since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), distinct)

	high, err := repo.CountBySeveritySince(ctx, models.SeverityHigh, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), high)

	byType, err := repo.CountsByTypeSince(ctx, since)
	require.NoError(t, err)
	require.Len(t, byType, 2)
	assert.Equal(t, models.CountByKey{Key: "failed_login", Count: 4}, byType[0])

	top, err := repo.TopIPsSince(ctx, since, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "198.51.100.1", top[0].Key)
}

func TestSecurityEventRepository_DeleteOlderThan(t *testing.T) {
	truncate(t, "security_events")
	repo := repositories.NewSecurityEventRepository(testDB)
	ctx := context.Background()
	now := time.Now().UTC()

	seedEvent(t, repo, models.EventSlowQuery, models.SeverityLow, "", now.Add(-100*24*time.Hour))
	seedEvent(t, repo, models.EventSlowQuery, models.SeverityLow, "", now)

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.List(ctx, models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
