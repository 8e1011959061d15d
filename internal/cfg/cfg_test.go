package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		ClaudeAPIKey:          "sk-test-key",
		ClaudeModel:           "claude-sonnet-4-20250514",
		ClaudeTimeoutSeconds:  60,
		InboxPath:             "testdata/inbox.yaml",
	}
}

func with(mut func(*Config)) Config {
	c := validBase()
	mut(&c)
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
	if c.ClaudeTimeoutSeconds != 60 {
		t.Errorf("ClaudeTimeoutSeconds = %d, want 60", c.ClaudeTimeoutSeconds)
	}
	if !c.Fallback() {
		t.Error("Fallback() = false with no API key")
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-api-token", "tok",
		"-claude-api-key", "sk-override",
		"-claude-model", "claude-opus-4-20250514",
		"-sqlite-path", "/var/lib/triageflow/state.db",
		"-inbox", "inbox.yaml",
		"-knowledge-base", "kb.yaml",
		"-knowledge-year", "2025",
		"-draft-style", "Terse.",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.APIToken != "tok" {
		t.Errorf("APIToken = %q, want %q", c.APIToken, "tok")
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.ClaudeModel != "claude-opus-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-opus-4-20250514")
	}
	if c.SQLitePath != "/var/lib/triageflow/state.db" {
		t.Errorf("SQLitePath = %q", c.SQLitePath)
	}
	if c.InboxPath != "inbox.yaml" || c.KnowledgeBasePath != "kb.yaml" {
		t.Errorf("paths = %q, %q", c.InboxPath, c.KnowledgeBasePath)
	}
	if c.KnowledgeYear != 2025 {
		t.Errorf("KnowledgeYear = %d, want 2025", c.KnowledgeYear)
	}
	if c.DraftStyle != "Terse." {
		t.Errorf("DraftStyle = %q", c.DraftStyle)
	}
	if c.Fallback() {
		t.Error("Fallback() = true with an API key")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "fallback mode is valid",
			cfg: with(func(c *Config) {
				c.ClaudeAPIKey = ""
				c.ClaudeModel = ""
			}),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort, c.ClaudeTimeoutSeconds = 1, 2, 1, 1
			}),
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort, c.ClaudeTimeoutSeconds = 299, 300, 65535, 600
			}),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain negative",
			cfg:       with(func(c *Config) { c.DrainSeconds = -1 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     with(func(c *Config) { c.ShutdownBudgetSeconds = 61 }),
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Model settings
		{
			name:      "key without model",
			cfg:       with(func(c *Config) { c.ClaudeModel = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "timeout zero",
			cfg:       with(func(c *Config) { c.ClaudeTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_TIMEOUT_SECONDS"},
		},
		{
			name:      "timeout above max",
			cfg:       with(func(c *Config) { c.ClaudeTimeoutSeconds = 601 }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_TIMEOUT_SECONDS"},
		},
		// Inputs
		{
			name:      "missing inbox",
			cfg:       with(func(c *Config) { c.InboxPath = "" }),
			wantErr:   true,
			errSubstr: []string{"INBOX"},
		},
		{
			name:      "negative knowledge year",
			cfg:       with(func(c *Config) { c.KnowledgeYear = -1 }),
			wantErr:   true,
			errSubstr: []string{"KNOWLEDGE_YEAR"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{ClaudeAPIKey: "k", KnowledgeYear: -1},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "CLAUDE_MODEL", "CLAUDE_TIMEOUT_SECONDS", "INBOX", "KNOWLEDGE_YEAR"},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, timeout int
		key, model, inbox            string
	}{
		{60, 90, 8080, 60, "sk-test", "claude-sonnet", "inbox.yaml"},
		{60, 90, 8080, 60, "", "", "inbox.yaml"},
		{1, 2, 1, 1, "k", "m", "i"},
		{299, 300, 65535, 600, "k", "m", "i"},
		{0, 0, 0, 0, "", "", ""},
		{-1, -1, -1, -1, "k", "", ""},
		{300, 300, 65535, 601, "k", "m", "i"},
		{301, 302, 65536, 60, "", "", ""},
		{150, 100, 8080, 60, "k", "m", "i"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.timeout, s.key, s.model, s.inbox)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, timeout int, key, model, inbox string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			ClaudeTimeoutSeconds:  timeout,
			ClaudeAPIKey:          key,
			ClaudeModel:           model,
			InboxPath:             inbox,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		timeoutOK := timeout >= 1 && timeout <= 600
		modelOK := key == "" || model != ""
		inboxOK := inbox != ""

		allValid := drainOK && budgetOK && portOK && crossOK && timeoutOK && modelOK && inboxOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
