package triage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triageflow/internal/inbox"
	"github.com/linnemanlabs/triageflow/internal/llm"
)

// FallbackCategory is used when no model is configured. It halts for review
// so unconfigured deployments never silently discard mail.
const FallbackCategory = "Actionable"

// invoke calls the model for one stage and reports timing to hooks.
func invoke(ctx context.Context, inv llm.Invoker, hooks Hooks, stage Stage, templateID string, bindings map[string]string) (string, error) {
	start := time.Now()
	out, err := inv.Invoke(ctx, templateID, bindings)
	if !errors.Is(err, llm.ErrConfigurationMissing) {
		hooks.invoke(stage, time.Since(start).Seconds(), err)
	}
	return out, err
}

// Classifier labels an item with a free-form category.
type Classifier struct {
	invoker llm.Invoker
	logger  log.Logger
	hooks   Hooks
}

// NewClassifier creates a Classifier. A nil invoker behaves as unconfigured.
func NewClassifier(invoker llm.Invoker, logger log.Logger, hooks Hooks) *Classifier {
	if invoker == nil {
		invoker = llm.Unconfigured{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Classifier{invoker: invoker, logger: logger, hooks: hooks}
}

// Classify returns the cleaned model label for item.
func (c *Classifier) Classify(ctx context.Context, item inbox.Item) (string, error) {
	out, err := invoke(ctx, c.invoker, c.hooks, StageClassify, llm.TemplateClassify, map[string]string{
		"subject": item.Subject,
		"body":    item.Body,
	})
	if errors.Is(err, llm.ErrConfigurationMissing) {
		c.hooks.fallback(StageClassify)
		c.logger.Warn(ctx, "model not configured, using fallback category",
			"item_id", item.ID,
			"category", FallbackCategory,
		)
		return FallbackCategory, nil
	}
	if err != nil {
		return "", stageErr(item.ID, StageClassify, ErrClassificationFailed, err)
	}

	category := cleanCategory(out)
	if category == "" {
		return "", stageErr(item.ID, StageClassify, ErrClassificationFailed, errors.New("empty classification"))
	}
	return category, nil
}

// cleanCategory trims whitespace and drops periods ("Spam." -> "Spam").
func cleanCategory(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, ".", ""))
}
