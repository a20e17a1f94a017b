package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	mu     sync.Mutex
	inputs []models.EventInput
}

func (r *recordedEvents) LogSecurityEvent(ctx context.Context, in models.EventInput) (*models.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return &models.SecurityEvent{Type: in.Type}, nil
}

func TestRateLimitByIP_RejectsAndRecords(t *testing.T) {
	events := &recordedEvents{}
	handler := RequestInfo(nil)(RateLimitByIP(RateLimitConfig{RequestsPerMinute: 2}, events, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.50:1").Code)
	assert.Equal(t, http.StatusOK, send("192.0.2.50:2").Code)

	w := send("192.0.2.50:3")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp.Error)

	require.Len(t, events.inputs, 1)
	assert.Equal(t, models.EventRateLimitExceeded, events.inputs[0].Type)
	assert.Equal(t, "192.0.2.50", events.inputs[0].Request.IPAddress)
	assert.Equal(t, "/auth/login", events.inputs[0].Metadata["path"])

	// Other clients have their own bucket
	assert.Equal(t, http.StatusOK, send("192.0.2.51:1").Code)
}

func TestRateLimitByIP_NilRecorder(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1}, nil, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.60:1"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, "request %d", i+1)
	}
}
