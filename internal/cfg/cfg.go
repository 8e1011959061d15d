package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	ClaudeAPIKey          string
	ClaudeModel           string
	ClaudeTimeoutSeconds  int
	DatabaseURL           string
	SQLitePath            string
	InboxPath             string
	KnowledgeBasePath     string
	KnowledgeYear         int
	MarkersPath           string
	DraftStyle            string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api routes (empty = no auth)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude LLM provider (empty = fallback mode)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.ClaudeTimeoutSeconds, "claude-timeout-seconds", 60, "per-call timeout for model invocations (1..600)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (takes precedence over sqlite-path)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (empty = in-memory store)")
	fs.StringVar(&c.InboxPath, "inbox", "", "YAML file of inbox items to triage")
	fs.StringVar(&c.KnowledgeBasePath, "knowledge-base", "", "YAML knowledge base (empty = built-in default)")
	fs.IntVar(&c.KnowledgeYear, "knowledge-year", 0, "year used for the current-year marker (0 = current year)")
	fs.StringVar(&c.MarkersPath, "markers", "", "YAML routing markers (empty = built-in default)")
	fs.StringVar(&c.DraftStyle, "draft-style", "", "style guide for drafted replies (empty = knowledge base style)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for completion notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// A missing key is fallback mode, but a key without a model is a mistake
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}
	if c.ClaudeTimeoutSeconds <= 0 || c.ClaudeTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid CLAUDE_TIMEOUT_SECONDS %d (must be 1..600)", c.ClaudeTimeoutSeconds))
	}

	if c.InboxPath == "" {
		errs = append(errs, errors.New("INBOX is required"))
	}

	if c.KnowledgeYear < 0 {
		errs = append(errs, fmt.Errorf("invalid KNOWLEDGE_YEAR %d (must be >= 0)", c.KnowledgeYear))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Fallback reports whether no model backend is configured.
func (c *Config) Fallback() bool {
	return c.ClaudeAPIKey == ""
}
