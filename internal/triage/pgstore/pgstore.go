// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/triageflow/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triageflow/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists workflow state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const stateColumns = `item_id, status, category, context_facts, temporal_lock, draft, draft_version,
	delegated_task, resolution, resolution_message, analyzed_at, updated_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves the workflow state of an item.
func (s *Store) Get(ctx context.Context, itemID string) (*triage.WorkflowState, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + stateColumns + ` FROM workflow_states WHERE item_id = $1`
	st, err := scanState(s.pool.QueryRow(ctx, query, itemID))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if st == nil {
		return nil, false, nil
	}
	return st, true, nil
}

// Put inserts or replaces the workflow state of an item.
func (s *Store) Put(ctx context.Context, st *triage.WorkflowState) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	facts := st.ContextFacts
	if facts == nil {
		facts = []string{}
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return fail(span, fmt.Errorf("marshal facts: %w", err))
	}

	query := `INSERT INTO workflow_states (` + stateColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (item_id) DO UPDATE SET
		status             = EXCLUDED.status,
		category           = EXCLUDED.category,
		context_facts      = EXCLUDED.context_facts,
		temporal_lock      = EXCLUDED.temporal_lock,
		draft              = EXCLUDED.draft,
		draft_version      = EXCLUDED.draft_version,
		delegated_task     = EXCLUDED.delegated_task,
		resolution         = EXCLUDED.resolution,
		resolution_message = EXCLUDED.resolution_message,
		analyzed_at        = EXCLUDED.analyzed_at,
		updated_at         = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		st.ItemID, string(st.Status), st.Category, factsJSON, st.TemporalLock, st.Draft, st.DraftVersion,
		st.DelegatedTask, string(st.Resolution), st.ResolutionMessage, nullTime(st.AnalyzedAt), nullTime(st.UpdatedAt),
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert state: %w", err))
	}
	return nil
}

// List returns every stored state ordered by item ID.
func (s *Store) List(ctx context.Context) ([]*triage.WorkflowState, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+stateColumns+` FROM workflow_states ORDER BY item_id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query states: %w", err))
	}
	defer rows.Close()

	var out []*triage.WorkflowState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate states: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// GetCursor returns the saved scan cursor.
func (s *Store) GetCursor(ctx context.Context) (*triage.Cursor, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCursor", "SELECT")
	defer span.End()

	var c triage.Cursor
	err := s.pool.QueryRow(ctx,
		`SELECT position, auto_archived, auto_filed, actioned, halted_item_id, halted_category
		 FROM scan_cursor WHERE id = 1`,
	).Scan(&c.Position, &c.Stats.AutoArchived, &c.Stats.AutoFiled, &c.Stats.Actioned, &c.HaltedItemID, &c.HaltedCategory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan cursor: %w", err))
	}
	return &c, true, nil
}

// PutCursor saves the scan cursor.
func (s *Store) PutCursor(ctx context.Context, c *triage.Cursor) error {
	ctx, span := startSpan(ctx, "pgstore.PutCursor", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scan_cursor (id, position, auto_archived, auto_filed, actioned, halted_item_id, halted_category, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (id) DO UPDATE SET
			position        = EXCLUDED.position,
			auto_archived   = EXCLUDED.auto_archived,
			auto_filed      = EXCLUDED.auto_filed,
			actioned        = EXCLUDED.actioned,
			halted_item_id  = EXCLUDED.halted_item_id,
			halted_category = EXCLUDED.halted_category,
			updated_at      = EXCLUDED.updated_at`,
		c.Position, c.Stats.AutoArchived, c.Stats.AutoFiled, c.Stats.Actioned, c.HaltedItemID, c.HaltedCategory,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert cursor: %w", err))
	}
	return nil
}

// Reset deletes all workflow state and the cursor in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	ctx, span := startSpan(ctx, "pgstore.Reset", "DELETE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `DELETE FROM workflow_states`); err != nil {
		return fail(span, fmt.Errorf("delete states: %w", err))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM scan_cursor`); err != nil {
		return fail(span, fmt.Errorf("delete cursor: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// scanState scans a single row into a WorkflowState.
// Returns (nil, nil) when no row is found.
func scanState(row pgx.Row) (*triage.WorkflowState, error) {
	var (
		st         triage.WorkflowState
		status     string
		resolution string
		factsJSON  []byte
		analyzedAt *time.Time
		updatedAt  *time.Time
	)

	err := row.Scan(
		&st.ItemID, &status, &st.Category, &factsJSON, &st.TemporalLock, &st.Draft, &st.DraftVersion,
		&st.DelegatedTask, &resolution, &st.ResolutionMessage, &analyzedAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	st.Status = triage.Status(status)
	st.Resolution = triage.ActionKind(resolution)
	if analyzedAt != nil {
		st.AnalyzedAt = *analyzedAt
	}
	if updatedAt != nil {
		st.UpdatedAt = *updatedAt
	}
	if len(factsJSON) > 0 {
		if err := json.Unmarshal(factsJSON, &st.ContextFacts); err != nil {
			return nil, fmt.Errorf("unmarshal facts: %w", err)
		}
		if len(st.ContextFacts) == 0 {
			st.ContextFacts = nil
		}
	}
	return &st, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
