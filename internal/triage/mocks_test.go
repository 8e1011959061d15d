package triage

import (
	"context"
	"errors"
	"sync"

	"github.com/linnemanlabs/triageflow/internal/inbox"
	"github.com/linnemanlabs/triageflow/internal/llm"
)

// mockInvoker answers per template. Unset templates fail.
type mockInvoker struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	classify  func(bindings map[string]string) (string, error)
	calls     map[string]int
	block     chan struct{} // when set, every call waits on it
}

func newMockInvoker() *mockInvoker {
	return &mockInvoker{
		responses: make(map[string]string),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (m *mockInvoker) Invoke(ctx context.Context, templateID string, bindings map[string]string) (string, error) {
	m.mu.Lock()
	m.calls[templateID]++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if templateID == llm.TemplateClassify && m.classify != nil {
		return m.classify(bindings)
	}
	if err, ok := m.errs[templateID]; ok {
		return "", err
	}
	if out, ok := m.responses[templateID]; ok {
		return out, nil
	}
	return "", errors.New("no scripted response for " + templateID)
}

func (m *mockInvoker) count(templateID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[templateID]
}

func (m *mockInvoker) setErr(templateID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, templateID)
		return
	}
	m.errs[templateID] = err
}

// bySubject classifies using a subject -> label map.
func bySubject(labels map[string]string) func(map[string]string) (string, error) {
	return func(b map[string]string) (string, error) {
		if l, ok := labels[b["subject"]]; ok {
			return l, nil
		}
		return "", errors.New("unexpected subject " + b["subject"])
	}
}

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	states    map[string]*WorkflowState
	cursor    *Cursor
	putErr    error
	getErr    error
	cursorErr error
	puts      int
}

func newMockStore() *mockStore {
	return &mockStore{states: make(map[string]*WorkflowState)}
}

func (m *mockStore) Get(_ context.Context, id string) (*WorkflowState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	st, ok := m.states[id]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

func (m *mockStore) Put(_ context.Context, st *WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.states[st.ItemID] = st.Clone()
	return nil
}

func (m *mockStore) List(_ context.Context) ([]*WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*WorkflowState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.Clone())
	}
	return out, nil
}

func (m *mockStore) GetCursor(_ context.Context) (*Cursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor == nil {
		return nil, false, nil
	}
	c := *m.cursor
	return &c, true, nil
}

func (m *mockStore) PutCursor(_ context.Context, c *Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursorErr != nil {
		return m.cursorErr
	}
	cp := *c
	m.cursor = &cp
	return nil
}

func (m *mockStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*WorkflowState)
	m.cursor = nil
	return nil
}

func (m *mockStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// mockNotifier records resolutions.
type mockNotifier struct {
	mu  sync.Mutex
	got []*Resolution
	err error
}

func (n *mockNotifier) Notify(_ context.Context, r *Resolution) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.got = append(n.got, r)
	return nil
}

func testItems() []inbox.Item {
	return []inbox.Item{
		{ID: "1", Sender: "promo@deals.example", Subject: "Win a cruise", Body: "Click here to claim your prize."},
		{ID: "2", Sender: "hr@corp.example", Subject: "Newsletter", Body: "Monthly newsletter, no action needed."},
		{ID: "3", Sender: "pm@corp.example", Subject: "Alpha status", Body: "Is Project Alpha still on track?"},
		{ID: "4", Sender: "cfo@corp.example", Subject: "Budget", Body: "Please approve the Q3 Budget."},
	}
}
