// Package triageapi exposes the triage service over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triageflow/internal/inbox"
	"github.com/linnemanlabs/triageflow/internal/triage"
)

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Item(id string) (inbox.Item, bool)
	Summaries(ctx context.Context) ([]triage.ItemSummary, error)
	State(ctx context.Context, id string) (*triage.WorkflowState, error)
	Analyze(ctx context.Context, id string) (*triage.WorkflowState, error)
	Refine(ctx context.Context, id, feedback string) (*triage.WorkflowState, error)
	Complete(ctx context.Context, id string, action triage.ActionKind) (*triage.ActionReport, error)
	Undo(ctx context.Context, id string) (*triage.WorkflowState, error)
	ScanStep(ctx context.Context) (triage.StepResult, error)
	Scan(ctx context.Context) (triage.StepResult, error)
	Cursor() triage.Cursor
	Reset(ctx context.Context) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. Extra middleware
// (authentication) applies to every API route.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)

		r.Get("/items", a.handleListItems)
		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetItem)
			r.Post("/analyze", a.handleAnalyze)
			r.Post("/refine", a.handleRefine)
			r.Post("/complete", a.handleComplete)
			r.Post("/undo", a.handleUndo)
		})

		r.Get("/scan", a.handleGetScan)
		r.Post("/scan/step", a.handleScanStep)
		r.Post("/scan/run", a.handleScanRun)
		r.Post("/scan/reset", a.handleReset)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, triage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, triage.ErrTransitionInProgress), errors.Is(err, triage.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, triage.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, triage.ErrClassificationFailed),
		errors.Is(err, triage.ErrDraftingFailed),
		errors.Is(err, triage.ErrRefinementFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes the mapped status.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	status := statusFor(err)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("triageflow.error.status", status))

	body := errorBody{Error: err.Error()}
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, kv...)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func annotateItem(r *http.Request, id string) {
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("triageflow.item.id", id))
}

func annotateState(r *http.Request, st *triage.WorkflowState) {
	if st == nil {
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("triageflow.item.status", string(st.Status)),
		attribute.String("triageflow.item.category", st.Category),
		attribute.Int("triageflow.item.draft_version", st.DraftVersion),
	)
}
