package postgres

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Query describes one finished query for metrics. Labels fall back to
// "none" when the query did not come from an API request.
type Query struct {
	Method    string
	Route     string
	Operation string // store method that issued it, e.g. "(*Store).Put"
	Outcome   string // "ok" or "error"
	Duration  time.Duration
}

// QueryObserver receives every finished query (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, q Query)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, q Query)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, q Query) {
	f(ctx, q)
}

type queryObserverHolder struct{ QueryObserver }

var queryObserver atomic.Pointer[queryObserverHolder]

// SetQueryObserver sets the global query observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// RequestStats accumulates the queries issued while serving one request.
type RequestStats struct {
	mu      sync.Mutex
	queries int
	errors  int
	total   time.Duration
}

func (s *RequestStats) add(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	s.total += dur
	if err != nil {
		s.errors++
	}
}

// Snapshot returns the counts recorded so far.
func (s *RequestStats) Snapshot() (queries, errors int, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries, s.errors, s.total
}

type requestKey struct{}

type requestInfo struct {
	method string
	stats  *RequestStats
}

// WithRequest attaches an empty RequestStats and the HTTP method to ctx.
func WithRequest(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, requestKey{}, &requestInfo{method: method, stats: &RequestStats{}})
}

// RequestStatsFrom returns the stats attached by WithRequest.
func RequestStatsFrom(ctx context.Context) (*RequestStats, bool) {
	ri, ok := ctx.Value(requestKey{}).(*requestInfo)
	if !ok {
		return nil, false
	}
	return ri.stats, true
}

func methodFrom(ctx context.Context) string {
	if ri, ok := ctx.Value(requestKey{}).(*requestInfo); ok && ri.method != "" {
		return ri.method
	}
	return "none"
}

func routeFrom(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "none"
}

// TrackRequests counts the queries each request issues and records the
// totals on the request span.
func TrackRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithRequest(r.Context(), r.Method)
		next.ServeHTTP(w, r.WithContext(ctx))

		st, _ := RequestStatsFrom(ctx)
		queries, errs, total := st.Snapshot()
		if queries == 0 {
			return
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("db.query_count", queries),
			attribute.Int("db.error_count", errs),
			attribute.Float64("db.total_duration_ms", float64(total.Microseconds())/1000),
		)
	})
}
