// Package llm defines the Model Invoker contract the triage engine depends on
// and the prompt templates it is invoked with. The engine treats the model as
// an opaque, possibly slow, possibly failing function.
package llm

import (
	"context"
	"errors"
)

// Template ids understood by every Invoker.
const (
	TemplateClassify    = "classify"
	TemplateDraft       = "draft"
	TemplateExtractTask = "extract_task"
	TemplateRefine      = "refine"
)

// ErrConfigurationMissing means no model backend is configured. Callers may
// degrade to a documented fallback instead of failing.
var ErrConfigurationMissing = errors.New("model invoker not configured")

// Invoker runs a prompt template with the given bindings and returns the
// model's text output.
type Invoker interface {
	Invoke(ctx context.Context, templateID string, bindings map[string]string) (string, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, templateID string, bindings map[string]string) (string, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, templateID string, bindings map[string]string) (string, error) {
	return f(ctx, templateID, bindings)
}

// Unconfigured is the Invoker used when no credentials are present.
type Unconfigured struct{}

// Invoke always reports ErrConfigurationMissing.
func (Unconfigured) Invoke(context.Context, string, map[string]string) (string, error) {
	return "", ErrConfigurationMissing
}
