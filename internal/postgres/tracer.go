package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// slowQuery is the duration above which a successful query is logged as a warning.
const slowQuery = 250 * time.Millisecond

type queryStartKey struct{}

// queryStart is carried from TraceQueryStart to TraceQueryEnd.
type queryStart struct {
	sql       string
	nargs     int
	at        time.Time
	operation string // store method issuing the query
	caller    string // first frame above the store, usually a triage.Service method
}

// queryTracer wraps another pgx.QueryTracer (otelpgx) and adds a structured
// log line, request stats and the metrics observer for every query.
// Arguments are never logged; workflow rows carry message bodies and drafts.
type queryTracer struct {
	inner pgx.QueryTracer
}

// wrapQueryTracer wraps inner, which may be nil.
func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return queryTracer{inner: inner}
}

func (t queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := &queryStart{sql: data.SQL, nargs: len(data.Args), at: time.Now()}
	qs.operation, qs.caller = findStoreFrames()

	// otelpgx creates the span first so we can annotate it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, 2)
		if qs.operation != "" {
			attrs = append(attrs, attribute.String("triageflow.store.operation", qs.operation))
		}
		if qs.caller != "" {
			attrs = append(attrs, attribute.String("triageflow.store.caller", qs.caller))
		}
		span.SetAttributes(attrs...)
	}

	return context.WithValue(ctx, queryStartKey{}, qs)
}

func (t queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// inner first so the span is finished correctly
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, ok := ctx.Value(queryStartKey{}).(*queryStart)
	if !ok {
		return
	}
	dur := time.Since(qs.at)

	if st, ok := RequestStatsFrom(ctx); ok {
		st.add(dur, data.Err)
	}

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := getQueryObserver(); obs != nil {
		op := qs.operation
		if op == "" {
			op = "none"
		}
		obs.ObserveQuery(ctx, Query{
			Method:    methodFrom(ctx),
			Route:     routeFrom(ctx),
			Operation: op,
			Outcome:   outcome,
			Duration:  dur,
		})
	}

	fields := []any{
		"db.statement", compactSQL(qs.sql),
		"db.args_count", qs.nargs,
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields,
			"db.operation.name", strings.ToUpper(strings.Fields(tag)[0]),
			"db.rows", data.CommandTag.RowsAffected(),
		)
	}
	if qs.operation != "" {
		fields = append(fields, "store.operation", qs.operation)
	}
	if qs.caller != "" {
		fields = append(fields, "store.caller", qs.caller)
	}

	L := log.FromContext(ctx)
	switch {
	case data.Err != nil:
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
	case dur >= slowQuery:
		L.Warn(ctx, "slow db query", fields...)
	default:
		L.Info(ctx, "db query", fields...)
	}
}

// compactSQL folds whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// storePackages only issue queries on behalf of a caller further up the stack.
var storePackages = []string{
	"github.com/linnemanlabs/triageflow/internal/postgres.",
	"github.com/linnemanlabs/triageflow/internal/triage/pgstore.",
}

// findStoreFrames walks the stack for the store method issuing the query and
// the first non-store frame above it.
func findStoreFrames() (operation, caller string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		switch {
		case fn == "" || isNoiseFrame(fn):
		case operation == "":
			operation = shortenFuncName(fn)
		case !isStoreFrame(fn):
			return operation, shortenFuncName(fn)
		}
		if !more {
			return operation, caller
		}
	}
}

// isNoiseFrame skips runtime, pgx internals, otelpgx and the tracer itself.
func isNoiseFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "queryTracer.TraceQuery")
}

func isStoreFrame(fn string) bool {
	for _, p := range storePackages {
		if strings.Contains(fn, p) {
			return true
		}
	}
	return false
}

// shortenFuncName trims the import path and package, keeping receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
