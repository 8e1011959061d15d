package triage

import (
	"errors"
	"fmt"
)

// Sentinel errors for triage operations.
var (
	ErrClassificationFailed = errors.New("classification failed")
	ErrDraftingFailed       = errors.New("drafting failed")
	ErrRefinementFailed     = errors.New("refinement failed")
	ErrTransitionInProgress = errors.New("transition in progress")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrNotFound             = errors.New("item not found")
	ErrUnknownAction        = errors.New("unknown action")
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageClassify Stage = "classify"
	StageDraft    Stage = "draft"
	StageTask     Stage = "extract_task"
	StageRefine   Stage = "refine"
)

// StageError carries enough context for the caller to retry a failed model
// call. errors.Is matches both the stage sentinel and the underlying cause.
type StageError struct {
	ItemID string
	Stage  Stage
	// Partial is set when other results of the same operation were kept.
	Partial bool
	Kind    error
	Err     error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("item %s: %s: %v", e.ItemID, e.Stage, e.Kind)
	if e.Partial {
		msg += " (partial)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageErr(itemID string, stage Stage, kind, cause error) *StageError {
	return &StageError{ItemID: itemID, Stage: stage, Kind: kind, Err: cause}
}
