package triage

import (
	"context"
	"errors"
	"strings"

	"github.com/linnemanlabs/triageflow/internal/llm"
)

// Refiner rewrites a draft from free-text feedback.
type Refiner struct {
	invoker llm.Invoker
	hooks   Hooks
}

// NewRefiner creates a Refiner. A nil invoker behaves as unconfigured.
func NewRefiner(invoker llm.Invoker, hooks Hooks) *Refiner {
	if invoker == nil {
		invoker = llm.Unconfigured{}
	}
	return &Refiner{invoker: invoker, hooks: hooks}
}

// Refine returns the rewritten draft. Blank feedback returns previousDraft
// without calling the model.
func (r *Refiner) Refine(ctx context.Context, itemID, previousDraft, feedback string) (string, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return previousDraft, nil
	}

	out, err := invoke(ctx, r.invoker, r.hooks, StageRefine, llm.TemplateRefine, map[string]string{
		"draft":    previousDraft,
		"feedback": feedback,
	})
	if err != nil {
		return "", stageErr(itemID, StageRefine, ErrRefinementFailed, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", stageErr(itemID, StageRefine, ErrRefinementFailed, errors.New("empty draft"))
	}
	return out, nil
}
