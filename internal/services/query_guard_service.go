package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// QueryGuardConfig holds the query anomaly detector settings
type QueryGuardConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration
}

func DefaultQueryGuardConfig() QueryGuardConfig {
	return QueryGuardConfig{Enabled: true, SlowQueryThreshold: 5 * time.Second}
}

const (
	maxRecordedQueryLen = 1000
	maxRecordedParamLen = 200
	maxRecordedParams   = 20
)

type queryPattern struct {
	name string
	re   *regexp.Regexp
}

// injectionPatterns is the fixed classifier set. All patterns are case-insensitive.
var injectionPatterns = []queryPattern{
	{"union_select", regexp.MustCompile(`(?i)\bunion\b(\s+all)?\s+select\b`)},
	{"stacked_statement", regexp.MustCompile(`(?i);\s*(select|insert|update|delete|drop|create|alter|truncate|grant|revoke|exec|execute|shutdown)\b`)},
	{"comment_marker", regexp.MustCompile(`--|/\*|\*/|#\s*$`)},
	{"schema_introspection", regexp.MustCompile(`(?i)\b(information_schema|pg_catalog|pg_tables|pg_user|pg_shadow|pg_authid|sqlite_master|sysobjects|syscolumns|mysql\.user)\b`)},
	{"time_based", regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\b`)},
	{"file_access", regexp.MustCompile(`(?i)\b(load_file|pg_read_file|pg_read_binary_file|pg_ls_dir|lo_import|lo_export)\s*\(|\binto\s+(outfile|dumpfile)\b|\bcopy\b.*\b(from|to)\s+program\b`)},
	{"tautology", regexp.MustCompile(`(?i)\bor\s+['"]?(\d+)['"]?\s*=\s*['"]?\d+['"]?`)},
}

// concatPatterns flag statements assembled by gluing strings together
var concatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bconcat\s*\([^)]*'`),
	regexp.MustCompile(`'\s*\|\||\|\|\s*'`),
	regexp.MustCompile(`'\s*\+|\+\s*'`),
}

// QueryAnalysis is the classification of a single statement
type QueryAnalysis struct {
	Suspicious      bool
	Patterns        []string
	Unparameterized bool
}

// QueryGuardService observes outgoing SQL and reports injection idioms,
// string-built statements and slow queries. It only observes: the traced
// statement has already run by the time it is inspected.
type QueryGuardService struct {
	events EventRecorder
	config QueryGuardConfig
	logger *slog.Logger
}

func NewQueryGuardService(events EventRecorder, config QueryGuardConfig, logger *slog.Logger) *QueryGuardService {
	return &QueryGuardService{
		events: events,
		config: config,
		logger: logger,
	}
}

// Analyze classifies sql without recording anything
func (s *QueryGuardService) Analyze(sql string) QueryAnalysis {
	var analysis QueryAnalysis
	for _, p := range injectionPatterns {
		if p.re.MatchString(sql) {
			analysis.Patterns = append(analysis.Patterns, p.name)
		}
	}
	analysis.Suspicious = len(analysis.Patterns) > 0

	for _, re := range concatPatterns {
		if re.MatchString(sql) {
			analysis.Unparameterized = true
			break
		}
	}
	return analysis
}

// InspectQuery is the database tracer hook. A pattern match is reported as
// suspicious_query; otherwise string-built statements and slow queries are
// reported with lower severity.
func (s *QueryGuardService) InspectQuery(ctx context.Context, sql string, args []any, duration time.Duration, info models.RequestInfo) {
	if !s.config.Enabled {
		return
	}

	analysis := s.Analyze(sql)
	slow := s.config.SlowQueryThreshold > 0 && duration >= s.config.SlowQueryThreshold

	if !analysis.Suspicious && !analysis.Unparameterized && !slow {
		return
	}

	metadata := models.EventMetadata{
		"query":             truncate(sql, maxRecordedQueryLen),
		"parameters":        recordableParams(args),
		"execution_time_ms": duration.Milliseconds(),
	}
	if info.UserID != "" {
		metadata["user_id"] = info.UserID
	}

	switch {
	case analysis.Suspicious:
		metadata["patterns"] = analysis.Patterns
		s.logger.Warn("suspicious query detected",
			slog.Any("patterns", analysis.Patterns),
			slog.String("ip_address", info.IPAddress),
			slog.Duration("duration", duration))
		emit(ctx, s.events, s.logger, models.EventInput{
			Type:        models.EventSuspiciousQuery,
			Severity:    models.SeverityHigh,
			Description: "Query matched injection patterns",
			Metadata:    metadata,
			Request:     info,
		})
	case analysis.Unparameterized:
		s.logger.Warn("unparameterized query detected",
			slog.String("ip_address", info.IPAddress))
		emit(ctx, s.events, s.logger, models.EventInput{
			Type:        models.EventUnparameterizedQuery,
			Severity:    models.SeverityMedium,
			Description: "Query appears to be built by string concatenation",
			Metadata:    metadata,
			Request:     info,
		})
	}

	if slow {
		s.logger.Info("slow query detected",
			slog.Duration("duration", duration),
			slog.Duration("threshold", s.config.SlowQueryThreshold))
		slowMeta := metadata.Clone()
		slowMeta["threshold_ms"] = s.config.SlowQueryThreshold.Milliseconds()
		emit(ctx, s.events, s.logger, models.EventInput{
			Type:        models.EventSlowQuery,
			Severity:    models.SeverityLow,
			Description: "Query exceeded slow query threshold",
			Metadata:    slowMeta,
			Request:     info,
		})
	}
}

// ValidateQueryParameters rejects values that match the injection pattern set.
// Only string-like values are checked.
func (s *QueryGuardService) ValidateQueryParameters(values ...any) error {
	for i, v := range values {
		str, ok := stringValue(v)
		if !ok {
			continue
		}
		for _, p := range injectionPatterns {
			if p.re.MatchString(str) {
				return fmt.Errorf("%w: parameter %d matches %s", models.ErrSuspiciousParameter, i, p.name)
			}
		}
	}
	return nil
}

// CheckQueryParameters validates values before a statement is executed and
// records a suspicious_parameter event when one is rejected.
func (s *QueryGuardService) CheckQueryParameters(ctx context.Context, values []any, req models.RequestInfo) error {
	err := s.ValidateQueryParameters(values...)
	if err == nil {
		return nil
	}

	s.logger.Warn("suspicious query parameter rejected",
		slog.String("ip_address", req.IPAddress),
		slog.Any("error", err))
	emit(ctx, s.events, s.logger, models.EventInput{
		Type:        models.EventSuspiciousParameter,
		Severity:    models.SeverityHigh,
		Description: "Query parameter rejected before execution",
		Metadata: models.EventMetadata{
			"parameters": recordableParams(values),
			"reason":     err.Error(),
		},
		Request: req,
	})
	return err
}

func stringValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case *string:
		if val == nil {
			return "", false
		}
		return *val, true
	case []byte:
		return string(val), true
	case fmt.Stringer:
		return val.String(), true
	}
	return "", false
}

func recordableParams(args []any) []string {
	n := len(args)
	if n > maxRecordedParams {
		n = maxRecordedParams
	}
	out := make([]string, 0, n)
	for _, a := range args[:n] {
		str, ok := stringValue(a)
		if !ok {
			str = fmt.Sprint(a)
		}
		out = append(out, truncate(str, maxRecordedParamLen))
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
