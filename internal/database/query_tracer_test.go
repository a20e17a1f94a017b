package database

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedQuery struct {
	sql      string
	args     []any
	duration time.Duration
	info     models.RequestInfo
}

type recordingInspector struct {
	queries []recordedQuery
}

func (r *recordingInspector) InspectQuery(_ context.Context, sql string, args []any, d time.Duration, info models.RequestInfo) {
	r.queries = append(r.queries, recordedQuery{sql: sql, args: args, duration: d, info: info})
}

func newSyncTracer(clock *time.Time) *QueryInspectionTracer {
	tr := NewQueryInspectionTracer(false)
	tr.now = func() time.Time { return *clock }
	return tr
}

func TestQueryInspectionTracer_ReportsDurationAndRequest(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := newSyncTracer(&clock)
	rec := &recordingInspector{}
	tr.SetInspector(rec)

	ctx := models.WithRequestInfo(context.Background(), models.RequestInfo{IPAddress: "203.0.113.5", URL: "/posts"})
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1 WHERE id = $1", Args: []any{7}})
	clock = clock.Add(6 * time.Second)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	require.Len(t, rec.queries, 1)
	q := rec.queries[0]
	assert.Equal(t, "SELECT 1 WHERE id = $1", q.sql)
	assert.Equal(t, []any{7}, q.args)
	assert.Equal(t, 6*time.Second, q.duration)
	assert.Equal(t, "203.0.113.5", q.info.IPAddress)
}

func TestQueryInspectionTracer_SkipsMarkedContext(t *testing.T) {
	clock := time.Now()
	tr := newSyncTracer(&clock)
	rec := &recordingInspector{}
	tr.SetInspector(rec)

	ctx := WithoutInspection(context.Background())
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "INSERT INTO security_events"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	assert.Empty(t, rec.queries)
}

func TestQueryInspectionTracer_NoInspectorIsNoop(t *testing.T) {
	clock := time.Now()
	tr := newSyncTracer(&clock)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	assert.NotPanics(t, func() { tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{}) })
}
