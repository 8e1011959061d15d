package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triageflow/internal/authmw"
	"github.com/linnemanlabs/triageflow/internal/inbox"
	"github.com/linnemanlabs/triageflow/internal/knowledge"
	"github.com/linnemanlabs/triageflow/internal/llm"
	"github.com/linnemanlabs/triageflow/internal/triage"
	"github.com/linnemanlabs/triageflow/internal/triage/memstore"
)

var testItems = []inbox.Item{
	{ID: "1", Sender: "promo@x.example", Subject: "Win", Body: "Free prize"},
	{ID: "2", Sender: "hr@x.example", Subject: "News", Body: "Newsletter"},
	{ID: "3", Sender: "pm@x.example", Subject: "Alpha", Body: "Is Project Alpha on track?"},
}

// fakeModel is a scripted model keyed by template and subject.
type fakeModel struct {
	mu      sync.Mutex
	labels  map[string]string
	failing map[string]bool
}

func (f *fakeModel) Invoke(_ context.Context, templateID string, b map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[templateID] {
		return "", errors.New("model unavailable")
	}
	switch templateID {
	case llm.TemplateClassify:
		return f.labels[b["subject"]], nil
	case llm.TemplateDraft:
		return "Draft reply.", nil
	case llm.TemplateExtractTask:
		return "Task: follow up", nil
	case llm.TemplateRefine:
		return "Refined: " + b["feedback"], nil
	}
	return "", fmt.Errorf("unknown template %s", templateID)
}

func newTestRouter(t *testing.T, model llm.Invoker, mw ...func(http.Handler) http.Handler) chi.Router {
	t.Helper()
	svc, err := triage.NewService(context.Background(), triage.Deps{
		Items:     testItems,
		Store:     memstore.New(),
		Invoker:   model,
		Knowledge: knowledge.Default(2026),
		Logger:    log.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	r := chi.NewRouter()
	New(nil, svc).RegisterRoutes(r, mw...)
	return r
}

func defaultModel() *fakeModel {
	return &fakeModel{
		labels:  map[string]string{"Win": "Spam", "News": "FYI", "Alpha": "Actionable"},
		failing: map[string]bool{},
	}
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	svc, _ := triage.NewService(context.Background(), triage.Deps{Store: memstore.New(), Knowledge: knowledge.Default(0)})
	api := New(nil, svc)
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, defaultModel())

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/api/v1/items", http.StatusOK},
		{http.MethodPost, "/api/v1/items", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/items/1", http.StatusOK},
		{http.MethodDelete, "/api/v1/items/1", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/items/1/analyze", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/scan", http.StatusOK},
		{http.MethodGet, "/api/v1/scan/step", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_AuthMiddleware(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, defaultModel(), authmw.BearerToken("s3cret"))

	rec := do(t, r, http.MethodGet, "/api/v1/items", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", http.NoBody)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", rec.Code)
	}
}

// Workflow

func TestWorkflow_ScanAnalyzeRefineComplete(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, defaultModel())

	rec := do(t, r, http.MethodPost, "/api/v1/scan/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("scan/run = %d: %s", rec.Code, rec.Body.String())
	}
	step := decode[triage.StepResult](t, rec)
	if !step.Halted() || step.ItemID != "3" {
		t.Fatalf("scan = %+v", step)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/items/3/analyze", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze = %d: %s", rec.Code, rec.Body.String())
	}
	ir := decode[itemResponse](t, rec)
	if ir.State.Status != triage.StatusActive || ir.State.Draft != "Draft reply." || ir.Warning != "" {
		t.Errorf("analyze response = %+v", ir)
	}
	if !ir.State.TemporalLock && len(ir.State.ContextFacts) == 0 {
		t.Errorf("no context retrieved: %+v", ir.State)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/items/3/refine", `{"feedback":"shorter"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refine = %d: %s", rec.Code, rec.Body.String())
	}
	ir = decode[itemResponse](t, rec)
	if ir.State.DraftVersion != 1 || ir.State.Draft != "Refined: shorter" {
		t.Errorf("refine state = %+v", ir.State)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/items/3/complete", `{"action":"Send"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete = %d: %s", rec.Code, rec.Body.String())
	}
	cr := decode[completeResponse](t, rec)
	if cr.AlreadyCompleted || cr.State.Resolution != triage.ActionSend {
		t.Errorf("complete = %+v", cr)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/items/3/complete", `{"action":"delete"}`)
	cr = decode[completeResponse](t, rec)
	if !cr.AlreadyCompleted || cr.State.Resolution != triage.ActionSend {
		t.Errorf("second complete = %+v", cr)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/scan", "")
	var cur struct {
		Cursor triage.Cursor `json:"cursor"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&cur); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	want := triage.Stats{AutoArchived: 1, AutoFiled: 1, Actioned: 1}
	if cur.Cursor.Position != 3 || cur.Cursor.Stats != want {
		t.Errorf("cursor = %+v", cur.Cursor)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/items/3/undo", "")
	ir = decode[itemResponse](t, rec)
	if ir.State.Status != triage.StatusActive || ir.State.DraftVersion != 1 {
		t.Errorf("undo state = %+v", ir.State)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/scan/reset", "")
	if rec.Code != http.StatusOK {
		t.Errorf("reset = %d", rec.Code)
	}
	rec = do(t, r, http.MethodGet, "/api/v1/items/3", "")
	ir = decode[itemResponse](t, rec)
	if ir.State.Status != triage.StatusUnanalyzed {
		t.Errorf("after reset = %+v", ir.State)
	}
}

func TestErrors_StatusMapping(t *testing.T) {
	t.Parallel()

	model := defaultModel()
	model.failing[llm.TemplateClassify] = true
	r := newTestRouter(t, model)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown item", http.MethodGet, "/api/v1/items/zzz", "", http.StatusNotFound},
		{"analyze unknown", http.MethodPost, "/api/v1/items/zzz/analyze", "", http.StatusNotFound},
		{"model failure", http.MethodPost, "/api/v1/items/3/analyze", "", http.StatusBadGateway},
		{"refine unanalyzed", http.MethodPost, "/api/v1/items/3/refine", `{"feedback":"x"}`, http.StatusConflict},
		{"refine bad body", http.MethodPost, "/api/v1/items/3/refine", `{bad`, http.StatusBadRequest},
		{"complete bad action", http.MethodPost, "/api/v1/items/3/complete", `{"action":"archive"}`, http.StatusBadRequest},
		{"complete unanalyzed", http.MethodPost, "/api/v1/items/3/complete", `{"action":"send"}`, http.StatusConflict},
		{"undo active", http.MethodPost, "/api/v1/items/3/undo", "", http.StatusConflict},
		{"scan model failure", http.MethodPost, "/api/v1/scan/step", "", http.StatusBadGateway},
	}

	// sequential: the cases share item 3 and would otherwise collide
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.wantStatus, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestAnalyze_PartialReturnsWarning(t *testing.T) {
	t.Parallel()

	model := defaultModel()
	model.failing[llm.TemplateExtractTask] = true
	r := newTestRouter(t, model)

	rec := do(t, r, http.MethodPost, "/api/v1/items/3/analyze", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	ir := decode[itemResponse](t, rec)
	if ir.Warning == "" {
		t.Error("expected warning for partial analysis")
	}
	if ir.State.Draft == "" || ir.State.DelegatedTask != "" {
		t.Errorf("state = %+v", ir.State)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{triage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", triage.ErrTransitionInProgress), http.StatusConflict},
		{triage.ErrInvalidTransition, http.StatusConflict},
		{triage.ErrUnknownAction, http.StatusBadRequest},
		{&triage.StageError{Kind: triage.ErrRefinementFailed}, http.StatusBadGateway},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestListItems(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, defaultModel())
	rec := do(t, r, http.MethodGet, "/api/v1/items", "")
	var body struct {
		Items []triage.ItemSummary `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 3 || body.Items[0].Item.ID != "1" || body.Items[0].Status != triage.StatusUnanalyzed {
		t.Errorf("items = %+v", body.Items)
	}
}
