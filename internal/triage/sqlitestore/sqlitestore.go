// Package sqlitestore provides a single-file SQLite implementation of
// triage.Store for deployments without PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/triageflow/internal/triage"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_states (
	item_id            TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	category           TEXT NOT NULL DEFAULT '',
	context_facts      TEXT NOT NULL DEFAULT '[]',
	temporal_lock      INTEGER NOT NULL DEFAULT 0,
	draft              TEXT NOT NULL DEFAULT '',
	draft_version      INTEGER NOT NULL DEFAULT 0,
	delegated_task     TEXT NOT NULL DEFAULT '',
	resolution         TEXT NOT NULL DEFAULT '',
	resolution_message TEXT NOT NULL DEFAULT '',
	analyzed_at        TEXT NOT NULL DEFAULT '',
	updated_at         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scan_cursor (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	position        INTEGER NOT NULL,
	auto_archived   INTEGER NOT NULL DEFAULT 0,
	auto_filed      INTEGER NOT NULL DEFAULT 0,
	actioned        INTEGER NOT NULL DEFAULT 0,
	halted_item_id  TEXT NOT NULL DEFAULT '',
	halted_category TEXT NOT NULL DEFAULT ''
);`

// Store persists workflow state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection: SQLite serialises writers anyway and :memory: is per connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const stateColumns = `item_id, status, category, context_facts, temporal_lock, draft, draft_version,
	delegated_task, resolution, resolution_message, analyzed_at, updated_at`

// Get retrieves the workflow state of an item.
func (s *Store) Get(ctx context.Context, itemID string) (*triage.WorkflowState, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM workflow_states WHERE item_id = ?`, itemID)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// Put inserts or replaces the workflow state of an item.
func (s *Store) Put(ctx context.Context, st *triage.WorkflowState) error {
	facts := st.ContextFacts
	if facts == nil {
		facts = []string{}
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_states (`+stateColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (item_id) DO UPDATE SET
			status             = excluded.status,
			category           = excluded.category,
			context_facts      = excluded.context_facts,
			temporal_lock      = excluded.temporal_lock,
			draft              = excluded.draft,
			draft_version      = excluded.draft_version,
			delegated_task     = excluded.delegated_task,
			resolution         = excluded.resolution,
			resolution_message = excluded.resolution_message,
			analyzed_at        = excluded.analyzed_at,
			updated_at         = excluded.updated_at`,
		st.ItemID, string(st.Status), st.Category, string(factsJSON), st.TemporalLock, st.Draft, st.DraftVersion,
		st.DelegatedTask, string(st.Resolution), st.ResolutionMessage, formatTime(st.AnalyzedAt), formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// List returns every stored state ordered by item ID.
func (s *Store) List(ctx context.Context) ([]*triage.WorkflowState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM workflow_states ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	var out []*triage.WorkflowState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return out, nil
}

// GetCursor returns the saved scan cursor.
func (s *Store) GetCursor(ctx context.Context) (*triage.Cursor, bool, error) {
	var c triage.Cursor
	err := s.db.QueryRowContext(ctx,
		`SELECT position, auto_archived, auto_filed, actioned, halted_item_id, halted_category
		 FROM scan_cursor WHERE id = 1`,
	).Scan(&c.Position, &c.Stats.AutoArchived, &c.Stats.AutoFiled, &c.Stats.Actioned, &c.HaltedItemID, &c.HaltedCategory)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan cursor: %w", err)
	}
	return &c, true, nil
}

// PutCursor saves the scan cursor.
func (s *Store) PutCursor(ctx context.Context, c *triage.Cursor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_cursor (id, position, auto_archived, auto_filed, actioned, halted_item_id, halted_category)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			position        = excluded.position,
			auto_archived   = excluded.auto_archived,
			auto_filed      = excluded.auto_filed,
			actioned        = excluded.actioned,
			halted_item_id  = excluded.halted_item_id,
			halted_category = excluded.halted_category`,
		c.Position, c.Stats.AutoArchived, c.Stats.AutoFiled, c.Stats.Actioned, c.HaltedItemID, c.HaltedCategory,
	)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// Reset deletes all workflow state and the cursor in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_states`); err != nil {
		return fmt.Errorf("delete states: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_cursor`); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*triage.WorkflowState, error) {
	var (
		st         triage.WorkflowState
		status     string
		resolution string
		factsJSON  string
		analyzedAt string
		updatedAt  string
	)
	err := row.Scan(
		&st.ItemID, &status, &st.Category, &factsJSON, &st.TemporalLock, &st.Draft, &st.DraftVersion,
		&st.DelegatedTask, &resolution, &st.ResolutionMessage, &analyzedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	st.Status = triage.Status(status)
	st.Resolution = triage.ActionKind(resolution)
	if err := json.Unmarshal([]byte(factsJSON), &st.ContextFacts); err != nil {
		return nil, fmt.Errorf("unmarshal facts: %w", err)
	}
	if len(st.ContextFacts) == 0 {
		st.ContextFacts = nil
	}
	if st.AnalyzedAt, err = parseTime(analyzedAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
