// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/triageflow/internal/triage"
)

// Store holds workflow state in memory. Suitable for dev/testing.
type Store struct {
	mu     sync.RWMutex
	states map[string]*triage.WorkflowState // item ID -> state
	cursor *triage.Cursor
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		states: make(map[string]*triage.WorkflowState),
	}
}

// Get retrieves the workflow state of an item. Returns a copy.
func (s *Store) Get(_ context.Context, itemID string) (*triage.WorkflowState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[itemID]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

// Put stores a copy of the workflow state.
func (s *Store) Put(_ context.Context, st *triage.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ItemID] = st.Clone()
	return nil
}

// List returns copies of every stored state ordered by item ID.
func (s *Store) List(_ context.Context) ([]*triage.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.WorkflowState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// GetCursor returns the saved scan cursor.
func (s *Store) GetCursor(_ context.Context) (*triage.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor == nil {
		return nil, false, nil
	}
	cp := *s.cursor
	return &cp, true, nil
}

// PutCursor saves a copy of the scan cursor.
func (s *Store) PutCursor(_ context.Context, c *triage.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cursor = &cp
	return nil
}

// Reset drops all state and the cursor.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]*triage.WorkflowState)
	s.cursor = nil
	return nil
}
