package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/triageflow/internal/authmw"
	vc "github.com/linnemanlabs/triageflow/internal/cfg"
	"github.com/linnemanlabs/triageflow/internal/inbox"
	"github.com/linnemanlabs/triageflow/internal/knowledge"
	"github.com/linnemanlabs/triageflow/internal/llm"
	"github.com/linnemanlabs/triageflow/internal/llm/claude"
	"github.com/linnemanlabs/triageflow/internal/postgres"
	"github.com/linnemanlabs/triageflow/internal/triage"
	"github.com/linnemanlabs/triageflow/internal/triage/memstore"
	"github.com/linnemanlabs/triageflow/internal/triage/pgstore"
	"github.com/linnemanlabs/triageflow/internal/triage/sqlitestore"
	"github.com/linnemanlabs/triageflow/internal/triageapi"
)

// maxRequestBody caps API request bodies; feedback and actions are small.
const maxRequestBody = 64 * 1024

// loadInputs reads the inbox and the optional knowledge base and marker
// files. A zero knowledge year means the year of now.
func loadInputs(c *vc.Config, now time.Time) ([]inbox.Item, *knowledge.Base, triage.Markers, error) {
	items, err := inbox.Load(c.InboxPath)
	if err != nil {
		return nil, nil, triage.Markers{}, fmt.Errorf("inbox: %w", err)
	}

	year := c.KnowledgeYear
	if year == 0 {
		year = now.Year()
	}
	kb := knowledge.Default(year)
	if c.KnowledgeBasePath != "" {
		if kb, err = knowledge.Load(c.KnowledgeBasePath, year); err != nil {
			return nil, nil, triage.Markers{}, fmt.Errorf("knowledge base: %w", err)
		}
	}

	markers := triage.DefaultMarkers()
	if c.MarkersPath != "" {
		if markers, err = triage.LoadMarkers(c.MarkersPath); err != nil {
			return nil, nil, triage.Markers{}, fmt.Errorf("markers: %w", err)
		}
	}
	return items, kb, markers, nil
}

// openStore picks the workflow store: postgres, then sqlite, then memory.
// The returned close func is never nil.
func openStore(ctx context.Context, c *vc.Config, L log.Logger) (triage.Store, func(), error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return st, pool.Close, nil
	case c.SQLitePath != "":
		st, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", c.SQLitePath)
		return st, func() { _ = st.Close() }, nil
	default:
		L.Info(ctx, "using in-memory store (no database-url or sqlite-path configured)")
		return memstore.New(), func() {}, nil
	}
}

// newInvoker returns the Claude invoker, or llm.Unconfigured in fallback mode.
func newInvoker(c *vc.Config, onTokens func(in, out int)) llm.Invoker {
	if c.Fallback() {
		return llm.Unconfigured{}
	}
	return claude.New(c.ClaudeAPIKey, c.ClaudeModel,
		claude.WithTimeout(time.Duration(c.ClaudeTimeoutSeconds)*time.Second),
		claude.WithCallHook(func(_ string, in, out int, _ float64, _ error) {
			if onTokens != nil {
				onTokens(in, out)
			}
		}),
	)
}

// observeDBQueries registers the per-query histogram and installs it as the
// postgres query observer.
func observeDBQueries(reg prometheus.Registerer) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triageflow_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "operation", "outcome"})
	reg.MustRegister(hist)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(func(_ context.Context, q postgres.Query) {
		hist.WithLabelValues(q.Method, q.Route, q.Operation, q.Outcome).Observe(q.Duration.Seconds())
	}))
}

// apiMiddleware guards /api with a bearer token when one is configured.
func apiMiddleware(c *vc.Config, realm string, L log.Logger) []func(http.Handler) http.Handler {
	if c.APIToken == "" {
		return nil
	}
	return []func(http.Handler) http.Handler{
		authmw.New(authmw.Options{
			Token: c.APIToken,
			Realm: realm,
			OnReject: func(r *http.Request, reason string) {
				L.Warn(r.Context(), "api request rejected", "reason", reason, "path", r.URL.Path)
			},
		}),
	}
}

// newRouter builds the chi router with the per-route middleware and the
// triage API. Callers add any extra routes (health) to the result.
func newRouter(L log.Logger, svc triageapi.TriageService, apiMW []func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// JSON only
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Per-request DB query counts for metrics labels and the request span
	r.Use(postgres.TrackRequests)

	r.Use(httpmw.AccessLog())

	// 413 above the limit
	r.Use(httpmw.MaxBody(maxRequestBody))

	triageapi.New(L, svc).RegisterRoutes(r, apiMW...)
	return r
}

// isProbe reports whether r is a health or readiness check.
func isProbe(r *http.Request) bool {
	return r.URL.Path == "/-/healthy" || r.URL.Path == "/-/ready"
}

// wrapHandler applies the listener-wide middleware. Order matters: the last
// wrapper applied sees the raw request first and the response last.
func wrapHandler(h http.Handler, L log.Logger, clientIP httpmw.ClientIPOptions, instrument func(http.Handler) http.Handler) http.Handler {
	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// probes are not traced; AnnotateHTTPRoute renames the span to the route pattern
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return !isProbe(r) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)

	if instrument != nil {
		h = instrument(h)
	}

	// client ip resolved before anything downstream reads it
	h = httpmw.ClientIPWithOptions(clientIP)(h)

	h = httpmw.RequestID("X-Request-Id")(h)

	// catches panics from every inner layer
	h = httpmw.Recover(L, nil)(h)

	// outermost so every response carries them
	return httpmw.SecurityHeaders(h)
}
