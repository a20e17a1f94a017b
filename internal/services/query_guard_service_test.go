package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueryGuard() (*services.QueryGuardService, *services.MockEventRecorder) {
	events := &services.MockEventRecorder{}
	return services.NewQueryGuardService(events, services.DefaultQueryGuardConfig(), testLogger()), events
}

func TestQueryGuard_Analyze(t *testing.T) {
	guard, _ := newQueryGuard()

	tests := []struct {
		name            string
		sql             string
		pattern         string
		unparameterized bool
	}{
		{name: "parameterized select", sql: "SELECT id, identity FROM users WHERE identity = $1"},
		{name: "parameterized update", sql: "UPDATE users SET status = $1, updated_at = NOW() WHERE identity = $2 AND status <> $1"},
		{name: "union select", sql: "SELECT name FROM pages WHERE id = 1 UNION SELECT password_hash FROM users", pattern: "union_select"},
		{name: "union all select", sql: "select 1 union   all select 2", pattern: "union_select"},
		{name: "stacked drop", sql: "SELECT * FROM pages WHERE id = 1; DROP TABLE users", pattern: "stacked_statement"},
		{name: "line comment", sql: "SELECT * FROM users WHERE identity = 'admin'--' AND password = ''", pattern: "comment_marker"},
		{name: "block comment", sql: "SELECT/**/password_hash FROM users", pattern: "comment_marker"},
		{name: "schema introspection", sql: "SELECT table_name FROM information_schema.tables", pattern: "schema_introspection"},
		{name: "pg catalog", sql: "SELECT usename FROM PG_USER", pattern: "schema_introspection"},
		{name: "sleep", sql: "SELECT * FROM pages WHERE id = 1 AND SLEEP(5)", pattern: "time_based"},
		{name: "pg_sleep", sql: "SELECT pg_sleep (10)", pattern: "time_based"},
		{name: "waitfor", sql: "SELECT 1 WAITFOR DELAY '0:0:5'", pattern: "time_based"},
		{name: "benchmark", sql: "SELECT BENCHMARK(1000000, MD5('x'))", pattern: "time_based"},
		{name: "outfile", sql: "SELECT * FROM users INTO OUTFILE '/tmp/users'", pattern: "file_access"},
		{name: "pg_read_file", sql: "SELECT pg_read_file('/etc/passwd')", pattern: "file_access"},
		{name: "copy to program", sql: "COPY users TO PROGRAM 'curl evil'", pattern: "file_access"},
		{name: "tautology", sql: "SELECT * FROM users WHERE name = '' OR 1=1", pattern: "tautology"},
		{name: "concat with quote", sql: "SELECT * FROM users WHERE name = CONCAT('a', name)", unparameterized: true},
		{name: "pipe concat", sql: "SELECT * FROM users WHERE name = 'a' || name", unparameterized: true},
		{name: "plus concat", sql: "SELECT * FROM users WHERE name = 'a' + name", unparameterized: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis := guard.Analyze(tt.sql)
			if tt.pattern == "" {
				assert.False(t, analysis.Suspicious, "patterns: %v", analysis.Patterns)
			} else {
				assert.True(t, analysis.Suspicious)
				assert.Contains(t, analysis.Patterns, tt.pattern)
			}
			assert.Equal(t, tt.unparameterized, analysis.Unparameterized)
		})
	}
}

func TestQueryGuard_InspectSuspiciousQuery(t *testing.T) {
	guard, events := newQueryGuard()
	info := models.RequestInfo{IPAddress: "203.0.113.9", UserID: "user-7"}

	guard.InspectQuery(context.Background(),
		"SELECT * FROM pages WHERE slug = 'x' UNION SELECT password_hash FROM users",
		[]any{"x", 42}, 120*time.Millisecond, info)

	recorded := events.Inputs()
	require.Len(t, recorded, 1)
	event := recorded[0]
	assert.Equal(t, models.EventSuspiciousQuery, event.Type)
	assert.Equal(t, models.SeverityHigh, event.Severity)
	assert.Equal(t, info, event.Request)
	assert.Equal(t, []string{"x", "42"}, event.Metadata["parameters"])
	assert.Equal(t, int64(120), event.Metadata["execution_time_ms"])
	assert.Equal(t, "user-7", event.Metadata["user_id"])
	assert.Contains(t, event.Metadata["patterns"], "union_select")
}

func TestQueryGuard_InspectUnparameterizedQuery(t *testing.T) {
	guard, events := newQueryGuard()

	guard.InspectQuery(context.Background(), "SELECT * FROM users WHERE name = 'a' || name", nil, time.Millisecond, models.RequestInfo{})

	recorded := events.Inputs()
	require.Len(t, recorded, 1)
	assert.Equal(t, models.EventUnparameterizedQuery, recorded[0].Type)
	assert.Equal(t, models.SeverityMedium, recorded[0].Severity)
}

func TestQueryGuard_InspectSlowQuery(t *testing.T) {
	guard, events := newQueryGuard()

	guard.InspectQuery(context.Background(), "SELECT * FROM security_events WHERE created_at >= $1", []any{"2024-01-01"}, 6*time.Second, models.RequestInfo{})

	recorded := events.Inputs()
	require.Len(t, recorded, 1)
	assert.Equal(t, models.EventSlowQuery, recorded[0].Type)
	assert.Equal(t, models.SeverityLow, recorded[0].Severity)
	assert.Equal(t, int64(6000), recorded[0].Metadata["execution_time_ms"])
}

func TestQueryGuard_SlowAndSuspiciousRecordsBoth(t *testing.T) {
	guard, events := newQueryGuard()

	guard.InspectQuery(context.Background(), "SELECT pg_sleep(6)", nil, 6*time.Second, models.RequestInfo{})

	assert.Len(t, events.OfType(models.EventSuspiciousQuery), 1)
	assert.Len(t, events.OfType(models.EventSlowQuery), 1)
}

func TestQueryGuard_CleanQueryRecordsNothing(t *testing.T) {
	guard, events := newQueryGuard()

	guard.InspectQuery(context.Background(), "SELECT id FROM users WHERE id = $1", []any{"' OR 1=1 --"}, time.Millisecond, models.RequestInfo{})

	assert.Empty(t, events.Inputs())
}

func TestQueryGuard_Disabled(t *testing.T) {
	events := &services.MockEventRecorder{}
	guard := services.NewQueryGuardService(events, services.QueryGuardConfig{Enabled: false, SlowQueryThreshold: time.Second}, testLogger())

	guard.InspectQuery(context.Background(), "SELECT 1 UNION SELECT 2", nil, time.Minute, models.RequestInfo{})

	assert.Empty(t, events.Inputs())
}

func TestQueryGuard_TruncatesRecordedQuery(t *testing.T) {
	guard, events := newQueryGuard()

	long := "SELECT 1 UNION SELECT 2 FROM t WHERE c IN ("
	for len(long) < 3000 {
		long += "1,"
	}

	guard.InspectQuery(context.Background(), long, nil, time.Millisecond, models.RequestInfo{})

	recorded := events.Inputs()
	require.Len(t, recorded, 1)
	assert.Len(t, recorded[0].Metadata["query"], 1003)
}

func TestValidateQueryParameters(t *testing.T) {
	guard, _ := newQueryGuard()

	require.NoError(t, guard.ValidateQueryParameters("about-us", 42, nil, "o'brien", []byte("plain")))

	bad := "1; DROP TABLE users"
	tests := []struct {
		name  string
		value any
	}{
		{name: "string", value: "' UNION SELECT password_hash FROM users"},
		{name: "pointer", value: &bad},
		{name: "bytes", value: []byte("x' OR 1=1 --")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateQueryParameters("ok", tt.value)
			assert.ErrorIs(t, err, models.ErrSuspiciousParameter)
		})
	}
}

func TestCheckQueryParameters_RecordsRejection(t *testing.T) {
	guard, events := newQueryGuard()
	req := models.RequestInfo{IPAddress: "203.0.113.9"}

	err := guard.CheckQueryParameters(context.Background(), []any{"SLEEP(10)"}, req)
	require.ErrorIs(t, err, models.ErrSuspiciousParameter)

	recorded := events.OfType(models.EventSuspiciousParameter)
	require.Len(t, recorded, 1)
	assert.Equal(t, req, recorded[0].Request)

	require.NoError(t, guard.CheckQueryParameters(context.Background(), []any{"hello"}, req))
	assert.Len(t, events.Inputs(), 1)
}
