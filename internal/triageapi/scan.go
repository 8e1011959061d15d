package triageapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triageflow/internal/triage"
)

func (a *API) handleGetScan(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cursor": a.svc.Cursor()})
}

func (a *API) handleScanStep(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.ScanStep(r.Context())
	if err != nil {
		a.writeError(w, r, err, "scan step failed")
		return
	}
	a.writeStep(w, r, res)
}

func (a *API) handleScanRun(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Scan(r.Context())
	if err != nil {
		a.writeError(w, r, err, "scan failed", "position", a.svc.Cursor().Position)
		return
	}
	a.writeStep(w, r, res)
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Reset(r.Context()); err != nil {
		a.writeError(w, r, err, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cursor": a.svc.Cursor()})
}

func (a *API) writeStep(w http.ResponseWriter, r *http.Request, res triage.StepResult) {
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("triageflow.scan.outcome", string(res.Outcome)),
		attribute.Int("triageflow.scan.position", res.Cursor.Position),
	)
	writeJSON(w, http.StatusOK, res)
}
