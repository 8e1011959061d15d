package triage

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triageflow/internal/inbox"
	"github.com/linnemanlabs/triageflow/internal/llm"
)

// DraftResult holds the independent reply and task sub-results. A failed
// sub-result has its error set and its text empty.
type DraftResult struct {
	WantReply bool
	WantTask  bool
	Reply     string
	Task      string
	ReplyErr  error
	TaskErr   error
}

// Succeeded counts the requested sub-results that were produced.
func (r DraftResult) Succeeded() int {
	n := 0
	if r.WantReply && r.ReplyErr == nil {
		n++
	}
	if r.WantTask && r.TaskErr == nil {
		n++
	}
	return n
}

// Failed reports whether no requested sub-result was produced.
func (r DraftResult) Failed() bool {
	return (r.WantReply || r.WantTask) && r.Succeeded() == 0
}

// Unconfigured reports whether every failure was a missing model configuration.
func (r DraftResult) Unconfigured() bool {
	for _, err := range []error{r.ReplyErr, r.TaskErr} {
		if err != nil && !errors.Is(err, llm.ErrConfigurationMissing) {
			return false
		}
	}
	return r.ReplyErr != nil || r.TaskErr != nil
}

// Err joins the sub-result errors.
func (r DraftResult) Err() error {
	return errors.Join(r.ReplyErr, r.TaskErr)
}

// Drafter produces the reply draft and delegated task for a halted item.
type Drafter struct {
	invoker llm.Invoker
	markers Markers
	logger  log.Logger
	hooks   Hooks
}

// NewDrafter creates a Drafter. A nil invoker behaves as unconfigured.
func NewDrafter(invoker llm.Invoker, markers Markers, logger log.Logger, hooks Hooks) *Drafter {
	if invoker == nil {
		invoker = llm.Unconfigured{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Drafter{invoker: invoker, markers: markers, logger: logger, hooks: hooks}
}

// Draft runs the reply and task calls concurrently. Each failure is recorded
// on its own sub-result and never blocks the other.
func (d *Drafter) Draft(ctx context.Context, item inbox.Item, facts []string, style, category string) DraftResult {
	res := DraftResult{
		WantReply: d.markers.NeedsReply(category),
		WantTask:  d.markers.NeedsTask(category),
	}
	grounding := strings.Join(facts, "\n")

	var g errgroup.Group
	if res.WantReply {
		g.Go(func() error {
			out, err := invoke(ctx, d.invoker, d.hooks, StageDraft, llm.TemplateDraft, map[string]string{
				"body":    item.Body,
				"context": grounding,
				"style":   style,
			})
			if err != nil {
				res.ReplyErr = stageErr(item.ID, StageDraft, ErrDraftingFailed, err)
				return nil
			}
			res.Reply = strings.TrimSpace(out)
			return nil
		})
	}
	if res.WantTask {
		g.Go(func() error {
			out, err := invoke(ctx, d.invoker, d.hooks, StageTask, llm.TemplateExtractTask, map[string]string{
				"category": category,
				"subject":  item.Subject,
				"body":     item.Body,
				"context":  grounding,
			})
			if err != nil {
				res.TaskErr = stageErr(item.ID, StageTask, ErrDraftingFailed, err)
				return nil
			}
			res.Task = strings.TrimSpace(out)
			return nil
		})
	}
	_ = g.Wait() // sub-results carry their own errors

	if err := res.Err(); err != nil {
		d.logger.Warn(ctx, "drafting incomplete",
			"item_id", item.ID,
			"reply_ok", res.WantReply && res.ReplyErr == nil,
			"task_ok", res.WantTask && res.TaskErr == nil,
			"error", err,
		)
	}
	return res
}
