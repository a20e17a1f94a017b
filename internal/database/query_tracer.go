package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

// QueryInspector receives every completed query seen by the tracer
type QueryInspector interface {
	InspectQuery(ctx context.Context, sql string, args []any, duration time.Duration, info models.RequestInfo)
}

type skipInspectionKey struct{}

// WithoutInspection marks ctx so the tracer ignores queries run under it.
// The security event repository uses it so recording a query event never
// triggers another inspection.
func WithoutInspection(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipInspectionKey{}, true)
}

func inspectionSkipped(ctx context.Context) bool {
	skip, _ := ctx.Value(skipInspectionKey{}).(bool)
	return skip
}

type traceKey struct{}

type traceData struct {
	sql   string
	args  []any
	start time.Time
}

// QueryInspectionTracer implements pgx.QueryTracer. The inspector is attached
// after construction because it depends on repositories built on this pool.
type QueryInspectionTracer struct {
	inspector atomic.Pointer[QueryInspector]
	async     bool
	now       func() time.Time
}

// NewQueryInspectionTracer creates a tracer. With async set, inspection runs
// on its own goroutine so event persistence never holds a pooled connection
// that the traced query is still using.
func NewQueryInspectionTracer(async bool) *QueryInspectionTracer {
	return &QueryInspectionTracer{async: async, now: time.Now}
}

func (t *QueryInspectionTracer) SetInspector(inspector QueryInspector) {
	if inspector == nil {
		t.inspector.Store(nil)
		return
	}
	t.inspector.Store(&inspector)
}

func (t *QueryInspectionTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if inspectionSkipped(ctx) || t.inspector.Load() == nil {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, &traceData{sql: data.SQL, args: data.Args, start: t.now()})
}

func (t *QueryInspectionTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	td, ok := ctx.Value(traceKey{}).(*traceData)
	if !ok {
		return
	}
	p := t.inspector.Load()
	if p == nil {
		return
	}
	inspector := *p

	duration := t.now().Sub(td.start)
	info, _ := models.RequestInfoFromContext(ctx)

	if t.async {
		go inspector.InspectQuery(context.WithoutCancel(ctx), td.sql, td.args, duration, info)
		return
	}
	inspector.InspectQuery(ctx, td.sql, td.args, duration, info)
}
