package triage

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triageflow/internal/inbox"
)

// ResolvedFunc reports whether a human already completed itemID, and whether
// that completion counts as an action.
type ResolvedFunc func(ctx context.Context, itemID string) (done, actioned bool, err error)

// PersistFunc saves the cursor. It runs while the step lock is held, so
// saves land in the same order as the changes they record.
type PersistFunc func(ctx context.Context, c Cursor)

// Scanner is the gatekeeper loop. It walks the queue in order, auto-archiving
// and auto-filing items, and stops on the first item that needs a human.
// Steps are serialised; the cursor only moves forward.
type Scanner struct {
	step sync.Mutex // held for the duration of a step

	mu     sync.RWMutex // guards cursor
	cursor Cursor

	items      []inbox.Item
	classifier *Classifier
	markers    Markers
	resolved   ResolvedFunc
	persist    PersistFunc
	logger     log.Logger
	hooks      Hooks
}

// NewScanner creates a scanner positioned at the head of items.
func NewScanner(items []inbox.Item, classifier *Classifier, markers Markers, logger log.Logger, hooks Hooks) *Scanner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scanner{
		items:      items,
		classifier: classifier,
		markers:    markers,
		logger:     logger,
		hooks:      hooks,
	}
}

// SetResolved registers the lookup used to skip items a human already completed.
func (s *Scanner) SetResolved(f ResolvedFunc) {
	s.step.Lock()
	defer s.step.Unlock()
	s.resolved = f
}

// SetPersist registers the function that saves the cursor after each change.
func (s *Scanner) SetPersist(f PersistFunc) {
	s.step.Lock()
	defer s.step.Unlock()
	s.persist = f
}

// Cursor returns a copy of the current scan progress.
func (s *Scanner) Cursor() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Restore replaces the cursor with previously saved progress.
func (s *Scanner) Restore(c Cursor) error {
	if c.Position < 0 || c.Position > len(s.items) {
		return fmt.Errorf("cursor position %d out of range [0,%d]", c.Position, len(s.items))
	}
	if c.HaltedItemID != "" && (c.Position == len(s.items) || s.items[c.Position].ID != c.HaltedItemID) {
		c.HaltedItemID, c.HaltedCategory = "", ""
	}
	s.step.Lock()
	defer s.step.Unlock()
	s.set(c)
	return nil
}

// HaltedCategory returns the category the scan halted on for itemID, if the
// scan is currently halted on it.
func (s *Scanner) HaltedCategory(itemID string) (string, bool) {
	c := s.Cursor()
	if c.HaltedItemID == "" || c.HaltedItemID != itemID {
		return "", false
	}
	return c.HaltedCategory, true
}

func (s *Scanner) set(c Cursor) {
	s.mu.Lock()
	s.cursor = c
	s.mu.Unlock()
}

// commit sets and saves c. Callers hold the step lock.
func (s *Scanner) commit(ctx context.Context, c Cursor) {
	s.set(c)
	if s.persist != nil {
		s.persist(ctx, c)
	}
}

// Step classifies the item under the cursor and applies the gate. A second
// concurrent Step gets ErrTransitionInProgress. On any error the cursor and
// stats are unchanged.
func (s *Scanner) Step(ctx context.Context) (StepResult, error) {
	if !s.step.TryLock() {
		s.hooks.rejected("scan")
		return StepResult{}, fmt.Errorf("scan: %w", ErrTransitionInProgress)
	}
	defer s.step.Unlock()

	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	cur := s.Cursor()
	if cur.Position >= len(s.items) {
		s.hooks.step(StepDone)
		return StepResult{Outcome: StepDone, Cursor: cur}, nil
	}

	item := s.items[cur.Position]
	L := s.logger.With("item_id", item.ID, "position", cur.Position)

	// checked before the cached halt: the halted item may have been completed
	// without the cursor being saved afterwards
	if s.resolved != nil {
		done, actioned, err := s.resolved(ctx, item.ID)
		if err != nil {
			return StepResult{}, fmt.Errorf("scan: lookup %s: %w", item.ID, err)
		}
		if done {
			next := cur
			next.Position++
			next.HaltedItemID, next.HaltedCategory = "", ""
			if actioned {
				next.Stats.Actioned++
			}
			s.commit(ctx, next)
			s.hooks.step(StepResolved)
			L.Info(ctx, "scan passed completed item")
			return StepResult{Outcome: StepResolved, ItemID: item.ID, Cursor: next}, nil
		}
	}

	if cur.HaltedItemID == item.ID {
		return StepResult{Outcome: StepHalted, ItemID: item.ID, Category: cur.HaltedCategory, Cursor: cur}, nil
	}

	category, err := s.classifier.Classify(ctx, item)
	if err != nil {
		L.Error(ctx, err, "scan classification failed")
		return StepResult{}, err
	}
	// a result that arrives after cancellation is discarded
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	next := cur
	res := StepResult{ItemID: item.ID, Category: category}
	switch s.markers.Route(category) {
	case RouteArchive:
		next.Position++
		next.Stats.AutoArchived++
		res.Outcome = StepArchived
	case RouteFile:
		next.Position++
		next.Stats.AutoFiled++
		res.Outcome = StepFiled
	default:
		next.HaltedItemID = item.ID
		next.HaltedCategory = category
		res.Outcome = StepHalted
	}
	s.commit(ctx, next)
	res.Cursor = next

	s.hooks.step(res.Outcome)
	L.Info(ctx, "scan step", "outcome", res.Outcome, "category", category)
	return res, nil
}

// Run steps until the scan halts, finishes, fails or ctx is cancelled.
// Cancellation takes effect between steps.
func (s *Scanner) Run(ctx context.Context) (StepResult, error) {
	for {
		res, err := s.Step(ctx)
		if err != nil {
			return res, err
		}
		if res.Halted() || res.Done() {
			return res, nil
		}
	}
}

// Acknowledge moves the cursor past itemID once a human completed it. It is
// a no-op unless itemID is the item under the cursor.
func (s *Scanner) Acknowledge(ctx context.Context, itemID string, actioned bool) bool {
	s.step.Lock()
	defer s.step.Unlock()

	cur := s.Cursor()
	if cur.Position >= len(s.items) || s.items[cur.Position].ID != itemID {
		return false
	}
	cur.Position++
	cur.HaltedItemID, cur.HaltedCategory = "", ""
	if actioned {
		cur.Stats.Actioned++
	}
	s.commit(ctx, cur)
	return true
}

// Reset runs clear and then rewinds the scan to the head of the queue with
// zero stats. Both happen under the step lock; a running step makes Reset
// fail with ErrTransitionInProgress instead of waiting. If clear fails the
// cursor is unchanged.
func (s *Scanner) Reset(ctx context.Context, clear func(context.Context) error) error {
	if !s.step.TryLock() {
		return ErrTransitionInProgress
	}
	defer s.step.Unlock()
	if clear != nil {
		if err := clear(ctx); err != nil {
			return err
		}
	}
	s.set(Cursor{})
	return nil
}

// Len returns the queue length.
func (s *Scanner) Len() int {
	return len(s.items)
}
