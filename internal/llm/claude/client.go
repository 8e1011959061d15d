// Package claude implements llm.Invoker on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/triageflow/internal/llm"
)

const (
	// DefaultMaxTokens bounds a single response; replies and tasks are short.
	DefaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

// CallHook observes every Messages API call.
type CallHook func(templateID string, inputTokens, outputTokens int, duration float64, err error)

// Client implements llm.Invoker for Claude.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	onCall    CallHook
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each invocation. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCallHook registers an observer for API calls.
func WithCallHook(h CallHook) Option {
	return func(c *Client) { c.onCall = h }
}

// WithRequestOptions passes raw SDK options, e.g. a base URL for tests.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *Client) {
		c.client = anthropic.NewClient(opts...)
	}
}

// New creates a Claude invoker. Retries are disabled: retrying a generative
// call is the host's decision.
func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:     model,
		maxTokens: DefaultMaxTokens,
		timeout:   defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Invoke renders the template and sends it as a single user turn.
func (c *Client) Invoke(ctx context.Context, templateID string, bindings map[string]string) (string, error) {
	prompt, err := llm.Render(templateID, bindings)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, c.toParams(prompt))
	dur := time.Since(start).Seconds()
	if err != nil {
		c.observe(templateID, 0, 0, dur, err)
		return "", fmt.Errorf("claude %s: %w", templateID, err)
	}
	c.observe(templateID, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), dur, nil)

	text := textOf(msg.Content)
	if text == "" {
		err := fmt.Errorf("claude %s: empty response (stop_reason=%s)", templateID, msg.StopReason)
		return "", err
	}
	return text, nil
}

func (c *Client) observe(templateID string, in, out int, dur float64, err error) {
	if c.onCall != nil {
		c.onCall(templateID, in, out, dur, err)
	}
}

func (c *Client) toParams(p llm.Prompt) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}
	return params
}

func textOf(blocks []anthropic.ContentBlockUnion) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
