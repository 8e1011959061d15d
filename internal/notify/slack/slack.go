// Package slack posts recorded triage decisions to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triageflow/internal/triage"
)

const (
	maxDraftLen = 3000
	httpTimeout = 10 * time.Second
)

// Notifier sends terminal actions to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts a resolution to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, r *triage.Resolution) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(r))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent",
		"item_id", r.Item.ID,
		"action", r.State.Resolution,
		"duration", time.Since(start).Seconds(),
	)
	return nil
}

func buildMessage(r *triage.Resolution) map[string]any {
	blocks := []map[string]any{
		headerBlock(r),
		{"type": "divider"},
		fieldsBlock(r),
	}
	if b, ok := bodyBlock(r); ok {
		blocks = append(blocks, map[string]any{"type": "divider"}, b)
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(r))
	return map[string]any{"blocks": blocks}
}

func headerBlock(r *triage.Resolution) map[string]any {
	subject := r.Item.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	text := fmt.Sprintf("%s %s: %s", actionEmoji(r.State.Resolution), actionTitle(r.State.Resolution), subject)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *triage.Resolution) map[string]any {
	st := r.State
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*From:* %s", orDash(r.Item.Sender))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Category:* %s", orDash(st.Category))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", st.Resolution)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Draft version:* v%d", st.DraftVersion)},
	}
	if st.TemporalLock {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": "*Policy:* time sensitive"})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

// bodyBlock shows what went out: the reply for send, the task for delegate.
func bodyBlock(r *triage.Resolution) (map[string]any, bool) {
	var title, text string
	switch r.State.Resolution {
	case triage.ActionSend:
		title, text = "Reply", r.State.Draft
	case triage.ActionDelegate:
		title, text = "Delegated task", r.State.DelegatedTask
	default:
		return nil, false
	}
	text = truncate(text, maxDraftLen)
	if text == "" {
		text = "_empty_"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n\n%s", title, text),
		},
	}, true
}

func contextBlock(r *triage.Resolution) map[string]any {
	ts := r.State.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("triageflow • item %s • %s • %s", r.Item.ID, r.State.ResolutionMessage, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func actionTitle(a triage.ActionKind) string {
	switch a {
	case triage.ActionSend:
		return "Reply sent"
	case triage.ActionDelete:
		return "Deleted"
	case triage.ActionBlock:
		return "Sender blocked"
	case triage.ActionAcknowledge:
		return "Acknowledged"
	case triage.ActionSnooze:
		return "Snoozed"
	case triage.ActionDelegate:
		return "Delegated"
	case triage.ActionSkip:
		return "Skipped"
	default:
		return "Resolved"
	}
}

func actionEmoji(a triage.ActionKind) string {
	switch a {
	case triage.ActionSend, triage.ActionDelegate:
		return "\U0001f7e2" // green circle
	case triage.ActionDelete, triage.ActionBlock:
		return "\U0001f534" // red circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
