package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// Clock returns the current time. Services default to time.Now; tests inject a fake.
type Clock func() time.Time

// EventRecorder is the sink every security component reports into
type EventRecorder interface {
	LogSecurityEvent(ctx context.Context, in models.EventInput) (*models.SecurityEvent, error)
}

// AccountDirectory is the slice of the user store the lockout engine needs
// for permanent lockouts. Deactivate and Activate are idempotent and return
// models.ErrNotFound for unknown identities. Activate only re-enables an
// account that was disabled with the given reason.
type AccountDirectory interface {
	Deactivate(ctx context.Context, identity, reason string) (bool, error)
	Activate(ctx context.Context, identity, reason string) (bool, error)
}

// emit records an event and logs, rather than returns, any failure.
// Event persistence is best-effort from the caller's point of view.
func emit(ctx context.Context, events EventRecorder, logger *slog.Logger, in models.EventInput) {
	if events == nil {
		return
	}
	if _, err := events.LogSecurityEvent(ctx, in); err != nil {
		logger.Warn("failed to record security event",
			slog.String("event_type", string(in.Type)),
			slog.Any("error", err))
	}
}

// normalizeIdentity lowercases and trims a login identity
func normalizeIdentity(identity string) (string, error) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" || len(identity) > 255 {
		return "", models.ErrInvalidIdentity
	}
	return identity, nil
}

// normalizeIP returns the canonical form of ip
func normalizeIP(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", models.ErrInvalidIPAddress
	}
	return parsed.String(), nil
}

func jsonString(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return string(raw), nil
}
