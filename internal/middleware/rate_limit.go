package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns default rate limit config for auth endpoints (5 requests per minute)
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 5,
	}
}

// EventRecorder receives rate limit hits as security events
type EventRecorder interface {
	LogSecurityEvent(ctx context.Context, in models.EventInput) (*models.SecurityEvent, error)
}

// RateLimitByIP limits requests per client IP. Each rejected request is
// recorded as a rate_limit_exceeded event when events is non-nil.
func RateLimitByIP(config RateLimitConfig, events EventRecorder, logger *slog.Logger) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return GetRequestInfo(r).IPAddress, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if events != nil {
				info := GetRequestInfo(r)
				_, err := events.LogSecurityEvent(r.Context(), models.EventInput{
					Type:        models.EventRateLimitExceeded,
					Severity:    models.SeverityMedium,
					Description: "Rate limit exceeded",
					Metadata: models.EventMetadata{
						"limit_per_minute": config.RequestsPerMinute,
						"path":             r.URL.Path,
					},
					Request: info,
				})
				if err != nil {
					logger.Warn("failed to record rate limit event", slog.Any("error", err))
				}
			}
			pkghttp.WriteTooManyRequests(w, "Too many requests")
		}),
	)
}
