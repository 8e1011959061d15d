package triage

import "context"

// Store is the persistence interface for workflow state and scan progress.
// Implementations return copies; callers may mutate what they get back.
type Store interface {
	Get(ctx context.Context, itemID string) (*WorkflowState, bool, error)
	Put(ctx context.Context, state *WorkflowState) error
	List(ctx context.Context) ([]*WorkflowState, error)
	GetCursor(ctx context.Context) (*Cursor, bool, error)
	PutCursor(ctx context.Context, cursor *Cursor) error
	// Reset drops every workflow state and the cursor.
	Reset(ctx context.Context) error
}

// Notifier is told about terminal actions before they are recorded.
type Notifier interface {
	Notify(ctx context.Context, r *Resolution) error
}
