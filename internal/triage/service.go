package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triageflow/internal/inbox"
	"github.com/linnemanlabs/triageflow/internal/knowledge"
	"github.com/linnemanlabs/triageflow/internal/llm"
)

// Deps are the collaborators of a Service. Items, Store and Knowledge are
// required; a nil Invoker runs in fallback mode.
type Deps struct {
	Items     []inbox.Item
	Store     Store
	Invoker   llm.Invoker
	Knowledge *knowledge.Base
	Markers   *Markers
	Notifier  Notifier
	Logger    log.Logger
	Hooks     Hooks
	// Style overrides the knowledge base style guide when set.
	Style string
}

// Service is the business boundary for triage operations. Every mutation of
// a WorkflowState goes through one of its methods, and at most one
// transition per item is in flight at a time.
type Service struct {
	items []inbox.Item
	index map[string]int

	store      Store
	kb         *knowledge.Base
	markers    Markers
	classifier *Classifier
	drafter    *Drafter
	refiner    *Refiner
	scanner    *Scanner
	notifier   Notifier
	logger     log.Logger
	hooks      Hooks
	style      string
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]string // item id -> op
}

// NewService creates a triage service and restores saved scan progress.
func NewService(ctx context.Context, d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("triage: store is required")
	}
	if d.Knowledge == nil {
		return nil, errors.New("triage: knowledge base is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Nop()
	}
	markers := DefaultMarkers()
	if d.Markers != nil {
		markers = *d.Markers
	}

	index := make(map[string]int, len(d.Items))
	for i, it := range d.Items {
		if _, dup := index[it.ID]; dup {
			return nil, fmt.Errorf("triage: duplicate item id %q", it.ID)
		}
		index[it.ID] = i
	}

	style := d.Style
	if style == "" {
		style = d.Knowledge.Style
	}

	classifier := NewClassifier(d.Invoker, logger, d.Hooks)
	s := &Service{
		items:      d.Items,
		index:      index,
		store:      d.Store,
		kb:         d.Knowledge,
		markers:    markers,
		classifier: classifier,
		drafter:    NewDrafter(d.Invoker, markers, logger, d.Hooks),
		refiner:    NewRefiner(d.Invoker, d.Hooks),
		scanner:    NewScanner(d.Items, classifier, markers, logger, d.Hooks),
		notifier:   d.Notifier,
		logger:     logger,
		hooks:      d.Hooks,
		style:      style,
		now:        time.Now,
		inflight:   make(map[string]string),
	}
	s.scanner.SetResolved(s.resolved)
	s.scanner.SetPersist(s.saveCursor)

	saved, ok, err := d.Store.GetCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("triage: load cursor: %w", err)
	}
	if ok {
		if err := s.scanner.Restore(*saved); err != nil {
			logger.Warn(ctx, "discarding saved cursor", "error", err)
		} else {
			logger.Info(ctx, "restored scan cursor", "position", saved.Position)
		}
	}
	return s, nil
}

// Items returns the queue in scan order.
func (s *Service) Items() []inbox.Item {
	return append([]inbox.Item(nil), s.items...)
}

// Item looks up a single item.
func (s *Service) Item(id string) (inbox.Item, bool) {
	i, ok := s.index[id]
	if !ok {
		return inbox.Item{}, false
	}
	return s.items[i], true
}

// Summaries lists every item with its workflow status.
func (s *Service) Summaries(ctx context.Context) ([]ItemSummary, error) {
	states, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*WorkflowState, len(states))
	for _, st := range states {
		byID[st.ItemID] = st
	}
	out := make([]ItemSummary, 0, len(s.items))
	for _, it := range s.items {
		sum := ItemSummary{Item: it, Status: StatusUnanalyzed}
		if st, ok := byID[it.ID]; ok {
			sum.Status = st.Status
			sum.Category = st.Category
		}
		out = append(out, sum)
	}
	return out, nil
}

// State returns a read-only snapshot of the item's workflow state.
func (s *Service) State(ctx context.Context, id string) (*WorkflowState, error) {
	if _, ok := s.Item(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.load(ctx, id)
}

// Analyze moves an unanalyzed item to active: classify, then for halting
// categories retrieve context and draft. State is written once at the end, so
// a failure leaves the item unanalyzed. When only one of reply and task could
// be drafted the state is stored and the partial *StageError is returned with
// it. Analysing an item that is already analysed returns its snapshot.
func (s *Service) Analyze(ctx context.Context, id string) (*WorkflowState, error) {
	item, ok := s.Item(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	release, err := s.begin(id, "analyze")
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusUnanalyzed {
		return cur, nil
	}

	L := s.logger.With("item_id", id)

	category, halted := s.scanner.HaltedCategory(id)
	if !halted {
		category, err = s.classifier.Classify(ctx, item)
		if err != nil {
			s.hooks.analyze(RouteHalt, false, err)
			L.Error(ctx, err, "analyze: classification failed")
			return nil, err
		}
	}

	now := s.now()
	next := &WorkflowState{
		ItemID:     id,
		Status:     StatusActive,
		Category:   category,
		AnalyzedAt: now,
		UpdatedAt:  now,
	}

	route := s.markers.Route(category)
	var partial error
	if route == RouteHalt {
		match := knowledge.Match(item.Body, s.kb)
		next.ContextFacts = match.Facts
		next.TemporalLock = match.TemporalLock

		dr := s.drafter.Draft(ctx, item, match.Facts, s.style, category)
		if dr.Failed() && !dr.Unconfigured() {
			err := dr.Err()
			s.hooks.analyze(route, false, err)
			L.Error(ctx, err, "analyze: drafting failed")
			return nil, err
		}
		next.Draft = dr.Reply
		next.DelegatedTask = dr.Task
		partial = markPartial(dr.ReplyErr, dr.TaskErr)
	}

	// an answer that arrives after cancellation is not committed
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, next); err != nil {
		s.hooks.analyze(route, false, err)
		return nil, fmt.Errorf("analyze %s: store: %w", id, err)
	}

	s.hooks.analyze(route, partial != nil, nil)
	L.Info(ctx, "item analyzed",
		"category", category,
		"route", route,
		"facts", len(next.ContextFacts),
		"temporal_lock", next.TemporalLock,
		"has_task", next.DelegatedTask != "",
		"partial", partial != nil,
	)
	return next.Clone(), partial
}

// markPartial flags stage errors as partial and joins them.
func markPartial(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var se *StageError
		if errors.As(err, &se) {
			se.Partial = true
		}
		kept = append(kept, err)
	}
	return errors.Join(kept...)
}

// Refine rewrites the draft of an active item from feedback and bumps
// DraftVersion by one. Blank feedback is a no-op. On failure the stored draft
// and version are untouched.
func (s *Service) Refine(ctx context.Context, id, feedback string) (*WorkflowState, error) {
	if _, ok := s.Item(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	release, err := s.begin(id, "refine")
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusActive {
		return nil, fmt.Errorf("refine %s: %w: status is %s", id, ErrInvalidTransition, cur.Status)
	}
	if strings.TrimSpace(feedback) == "" {
		return cur, nil
	}

	draft, err := s.refiner.Refine(ctx, id, cur.Draft, feedback)
	if err != nil {
		s.hooks.refine(err)
		s.logger.Error(ctx, err, "refinement failed", "item_id", id, "draft_version", cur.DraftVersion)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next := cur.Clone()
	next.Draft = draft
	next.DraftVersion++
	next.UpdatedAt = s.now()
	if err := s.store.Put(ctx, next); err != nil {
		s.hooks.refine(err)
		return nil, fmt.Errorf("refine %s: store: %w", id, err)
	}

	s.hooks.refine(nil)
	s.logger.Info(ctx, "draft refined", "item_id", id, "draft_version", next.DraftVersion)
	return next.Clone(), nil
}

// Complete records a terminal human decision on an active item. Completing
// an already completed item reports AlreadyCompleted and changes nothing.
// If the notifier or the store fails the item stays active.
func (s *Service) Complete(ctx context.Context, id string, action ActionKind) (*ActionReport, error) {
	item, ok := s.Item(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	release, err := s.begin(id, "complete")
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch cur.Status {
	case StatusCompleted:
		return &ActionReport{State: cur, AlreadyCompleted: true}, nil
	case StatusUnanalyzed:
		return nil, fmt.Errorf("complete %s: %w: item not analyzed", id, ErrInvalidTransition)
	}

	next := cur.Clone()
	next.Status = StatusCompleted
	next.Resolution = action
	next.ResolutionMessage = action.Message(item, cur)
	next.UpdatedAt = s.now()

	L := s.logger.With("item_id", id, "action", action)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, &Resolution{Item: item, State: next.Clone()}); err != nil {
			L.Error(ctx, err, "terminal action notification failed")
			return nil, fmt.Errorf("complete %s: notify: %w", id, err)
		}
	}
	if err := s.store.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("complete %s: store: %w", id, err)
	}

	s.scanner.Acknowledge(ctx, id, action.Counts())
	s.hooks.complete(action)
	L.Info(ctx, "item completed", "message", next.ResolutionMessage)
	return &ActionReport{State: next.Clone()}, nil
}

// Undo reopens a completed item. Only the resolution is cleared; draft,
// version and context are kept.
func (s *Service) Undo(ctx context.Context, id string) (*WorkflowState, error) {
	if _, ok := s.Item(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	release, err := s.begin(id, "undo")
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusCompleted {
		return nil, fmt.Errorf("undo %s: %w: status is %s", id, ErrInvalidTransition, cur.Status)
	}

	next := cur.Clone()
	next.Status = StatusActive
	next.Resolution = ""
	next.ResolutionMessage = ""
	next.UpdatedAt = s.now()
	if err := s.store.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("undo %s: store: %w", id, err)
	}

	s.hooks.undo()
	s.logger.Info(ctx, "completion undone", "item_id", id, "previous_action", cur.Resolution)
	return next.Clone(), nil
}

// ScanStep runs a single gatekeeper step. The cursor is saved by the step
// itself whenever it moves.
func (s *Service) ScanStep(ctx context.Context) (StepResult, error) {
	return s.scanner.Step(ctx)
}

// Scan steps until the gate halts, the queue is exhausted, or ctx is done.
// Progress made before an error or cancellation is kept.
func (s *Service) Scan(ctx context.Context) (StepResult, error) {
	for {
		res, err := s.ScanStep(ctx)
		if err != nil {
			return res, err
		}
		if res.Halted() || res.Done() {
			return res, nil
		}
	}
}

// Cursor returns the current scan progress.
func (s *Service) Cursor() Cursor {
	return s.scanner.Cursor()
}

// Reset is the explicit full reset: all workflow state and scan progress are
// dropped. It is refused while any item transition or scan step is in
// flight, and never waits on one.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inflight) > 0 {
		s.hooks.rejected("reset")
		return fmt.Errorf("reset: %w", ErrTransitionInProgress)
	}
	if err := s.scanner.Reset(ctx, s.store.Reset); err != nil {
		if errors.Is(err, ErrTransitionInProgress) {
			s.hooks.rejected("reset")
		}
		return fmt.Errorf("reset: %w", err)
	}
	s.logger.Info(ctx, "session reset")
	return nil
}

// begin claims the per-item transition slot.
func (s *Service) begin(id, op string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if running, busy := s.inflight[id]; busy {
		s.hooks.rejected(op)
		return nil, fmt.Errorf("%s %s: %w (%s)", op, id, ErrTransitionInProgress, running)
	}
	s.inflight[id] = op
	return func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}, nil
}

func (s *Service) load(ctx context.Context, id string) (*WorkflowState, error) {
	st, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	if !ok {
		return unanalyzed(id), nil
	}
	return st, nil
}

func (s *Service) resolved(ctx context.Context, id string) (done, actioned bool, err error) {
	st, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		return false, false, err
	}
	if st.Status != StatusCompleted {
		return false, false, nil
	}
	return true, st.Resolution.Counts(), nil
}

// saveCursor persists scan progress. The in-memory cursor stays
// authoritative, so a failed write is logged rather than returned.
func (s *Service) saveCursor(ctx context.Context, c Cursor) {
	if err := s.store.PutCursor(ctx, &c); err != nil {
		s.logger.Error(ctx, err, "failed to persist scan cursor", "position", c.Position)
	}
}
