package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	up := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     map[string]HealthCheckFunc
		wantStatus int
		wantBody   HealthResponse
	}{
		{
			name:       "all up",
			checks:     map[string]HealthCheckFunc{"database": up, "store": up},
			wantStatus: http.StatusOK,
			wantBody:   HealthResponse{Status: "healthy", Components: map[string]string{"database": "up", "store": "up"}},
		},
		{
			name:       "store down",
			checks:     map[string]HealthCheckFunc{"database": up, "store": down},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   HealthResponse{Status: "unhealthy", Components: map[string]string{"database": "up", "store": "down"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.checks, 0).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			var resp HealthResponse
			AssertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.Equal(t, tt.wantBody, resp)
		})
	}
}
