package triageapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/triageflow/internal/inbox"
	"github.com/linnemanlabs/triageflow/internal/triage"
)

type itemResponse struct {
	Item  inbox.Item            `json:"item"`
	State *triage.WorkflowState `json:"state"`
	// Warning is set when the state was stored but part of the work failed.
	Warning string `json:"warning,omitempty"`
}

type refineRequest struct {
	Feedback string `json:"feedback"`
}

type completeRequest struct {
	Action string `json:"action"`
}

type completeResponse struct {
	Item             inbox.Item            `json:"item"`
	State            *triage.WorkflowState `json:"state"`
	AlreadyCompleted bool                  `json:"already_completed"`
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	sums, err := a.svc.Summaries(r.Context())
	if err != nil {
		a.writeError(w, r, err, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sums})
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateItem(r, id)

	item, ok := a.svc.Item(id)
	if !ok {
		a.writeError(w, r, triage.ErrNotFound, "item not found")
		return
	}
	st, err := a.svc.State(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get state", "item_id", id)
		return
	}
	annotateState(r, st)
	writeJSON(w, http.StatusOK, itemResponse{Item: item, State: st})
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateItem(r, id)

	st, err := a.svc.Analyze(r.Context(), id)
	var se *triage.StageError
	if err != nil && st != nil && errors.As(err, &se) && se.Partial {
		// stored with a missing sub-result
		annotateState(r, st)
		item, _ := a.svc.Item(id)
		writeJSON(w, http.StatusOK, itemResponse{Item: item, State: st, Warning: err.Error()})
		return
	}
	if err != nil {
		a.writeError(w, r, err, "analyze failed", "item_id", id)
		return
	}
	a.writeState(w, r, id, st)
}

func (a *API) handleRefine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateItem(r, id)

	var req refineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	st, err := a.svc.Refine(r.Context(), id, req.Feedback)
	if err != nil {
		a.writeError(w, r, err, "refine failed", "item_id", id)
		return
	}
	a.writeState(w, r, id, st)
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateItem(r, id)

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}
	action, err := triage.ParseAction(req.Action)
	if err != nil {
		a.writeError(w, r, err, "bad action")
		return
	}

	rep, err := a.svc.Complete(r.Context(), id, action)
	if err != nil {
		a.writeError(w, r, err, "complete failed", "item_id", id, "action", action)
		return
	}
	annotateState(r, rep.State)
	item, _ := a.svc.Item(id)
	writeJSON(w, http.StatusOK, completeResponse{Item: item, State: rep.State, AlreadyCompleted: rep.AlreadyCompleted})
}

func (a *API) handleUndo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateItem(r, id)

	st, err := a.svc.Undo(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "undo failed", "item_id", id)
		return
	}
	a.writeState(w, r, id, st)
}

func (a *API) writeState(w http.ResponseWriter, r *http.Request, id string, st *triage.WorkflowState) {
	annotateState(r, st)
	item, _ := a.svc.Item(id)
	writeJSON(w, http.StatusOK, itemResponse{Item: item, State: st})
}
