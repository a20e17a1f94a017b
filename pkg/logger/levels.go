package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// LevelCritical sits above slog.LevelError for events that page someone
const LevelCritical = slog.Level(12)

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// SeverityLevel maps a security event severity to the level it is logged at
func SeverityLevel(severity string) slog.Level {
	switch severity {
	case "low":
		return slog.LevelInfo
	case "medium":
		return slog.LevelWarn
	case "high":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// New builds the JSON logger used across the service. Critical records
// render as "CRITICAL" rather than "ERROR+4".
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
					a.Value = slog.StringValue("CRITICAL")
				}
			}
			return a
		},
	}))
}

// Critical logs msg at LevelCritical
func Critical(ctx context.Context, l *slog.Logger, msg string, args ...any) {
	l.Log(ctx, LevelCritical, msg, args...)
}
