package triage

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/triageflow/internal/inbox"
)

// Status tracks where an item is in its workflow.
type Status string

const (
	// StatusUnanalyzed means no analysis has been stored yet
	StatusUnanalyzed Status = "unanalyzed"

	// StatusActive means analysed and waiting on a human decision
	StatusActive Status = "active"

	// StatusCompleted means a terminal action was recorded
	StatusCompleted Status = "completed"
)

// WorkflowState is the per-item record of analysis and human decisions.
type WorkflowState struct {
	ItemID            string     `json:"item_id"`
	Status            Status     `json:"status"`
	Category          string     `json:"category,omitempty"`
	ContextFacts      []string   `json:"context_facts,omitempty"`
	TemporalLock      bool       `json:"temporal_lock"`
	Draft             string     `json:"draft,omitempty"`
	DraftVersion      int        `json:"draft_version"`
	DelegatedTask     string     `json:"delegated_task,omitempty"`
	Resolution        ActionKind `json:"resolution,omitempty"`
	ResolutionMessage string     `json:"resolution_message,omitempty"`
	AnalyzedAt        time.Time  `json:"analyzed_at,omitzero"`
	UpdatedAt         time.Time  `json:"updated_at,omitzero"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (w *WorkflowState) Clone() *WorkflowState {
	if w == nil {
		return nil
	}
	cp := *w
	if w.ContextFacts != nil {
		cp.ContextFacts = append([]string(nil), w.ContextFacts...)
	}
	return &cp
}

func unanalyzed(itemID string) *WorkflowState {
	return &WorkflowState{ItemID: itemID, Status: StatusUnanalyzed}
}

// ActionKind is a terminal human decision.
type ActionKind string

const (
	ActionSend        ActionKind = "send"
	ActionDelete      ActionKind = "delete"
	ActionBlock       ActionKind = "block"
	ActionAcknowledge ActionKind = "acknowledge"
	ActionSnooze      ActionKind = "snooze"
	ActionDelegate    ActionKind = "delegate"
	ActionSkip        ActionKind = "skip"
)

var actionKinds = []ActionKind{
	ActionSend, ActionDelete, ActionBlock, ActionAcknowledge, ActionSnooze, ActionDelegate, ActionSkip,
}

// ParseAction validates a user supplied action name.
func ParseAction(s string) (ActionKind, error) {
	a := ActionKind(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Valid reports whether a is a known action.
func (a ActionKind) Valid() bool {
	for _, k := range actionKinds {
		if a == k {
			return true
		}
	}
	return false
}

// Counts reports whether the action counts toward Stats.Actioned. Skipping
// an item is not an action taken on it.
func (a ActionKind) Counts() bool {
	return a != ActionSkip
}

// Message is the human readable record of the action on item.
func (a ActionKind) Message(item inbox.Item, st *WorkflowState) string {
	switch a {
	case ActionSend:
		return fmt.Sprintf("Reply v%d sent to %s.", st.DraftVersion, senderOr(item))
	case ActionDelete:
		return "Message deleted."
	case ActionBlock:
		return fmt.Sprintf("Sender %s blocked.", senderOr(item))
	case ActionAcknowledge:
		return "Acknowledged, no reply needed."
	case ActionSnooze:
		return "Snoozed for later review."
	case ActionDelegate:
		if task := firstLine(st.DelegatedTask); task != "" {
			return "Delegated: " + task
		}
		return "Delegated to the team."
	case ActionSkip:
		return "Skipped and archived."
	default:
		return string(a)
	}
}

func senderOr(item inbox.Item) string {
	if item.Sender == "" {
		return "sender"
	}
	return item.Sender
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

// Stats counts how the scan resolved items.
type Stats struct {
	AutoArchived int `json:"auto_archived"`
	AutoFiled    int `json:"auto_filed"`
	Actioned     int `json:"actioned"`
}

// Cursor is the scan progress. Everything before Position has been
// auto-resolved or completed. HaltedItemID is set while the scan waits on a
// human for the item at Position.
type Cursor struct {
	Position       int    `json:"position"`
	Stats          Stats  `json:"stats"`
	HaltedItemID   string `json:"halted_item_id,omitempty"`
	HaltedCategory string `json:"halted_category,omitempty"`
}

// StepOutcome is what a single scan step did.
type StepOutcome string

const (
	StepArchived StepOutcome = "archived"
	StepFiled    StepOutcome = "filed"
	StepResolved StepOutcome = "resolved"
	StepHalted   StepOutcome = "halted"
	StepDone     StepOutcome = "done"
)

// StepResult reports one scan step and the cursor after it.
type StepResult struct {
	Outcome  StepOutcome `json:"outcome"`
	ItemID   string      `json:"item_id,omitempty"`
	Category string      `json:"category,omitempty"`
	Cursor   Cursor      `json:"cursor"`
}

// Halted reports whether the scan is waiting on a human.
func (r StepResult) Halted() bool { return r.Outcome == StepHalted }

// Done reports whether the queue is exhausted.
func (r StepResult) Done() bool { return r.Outcome == StepDone }

// ActionReport is the outcome of Complete.
type ActionReport struct {
	State            *WorkflowState `json:"state"`
	AlreadyCompleted bool           `json:"already_completed"`
}

// Resolution is handed to a Notifier when a terminal action is recorded.
type Resolution struct {
	Item  inbox.Item
	State *WorkflowState
}

// ItemSummary pairs an item with its workflow status for listings.
type ItemSummary struct {
	Item     inbox.Item `json:"item"`
	Status   Status     `json:"status"`
	Category string     `json:"category,omitempty"`
}
