package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/storyloom/storyloom/core"
)

// SQLiteStore is the durable persistence layer: it implements both
// core.RunStore (runs + phase outputs) and core.EventLog (append-only per-run
// event rows). One process owns the database; subscribers poll for rows past
// their cursor, which keeps at-least-once, in-order delivery across
// reconnects without any broker.
type SQLiteStore struct {
	db *sql.DB

	// pollInterval controls how often subscriptions look for new rows.
	pollInterval time.Duration
}

// NewSQLiteStore opens (or creates) the database at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// one writer connection; keeps MAX(seq)+1 assignment race-free
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, pollInterval: 100 * time.Millisecond}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			parent_id TEXT,
			status TEXT NOT NULL,
			current_phase TEXT,
			phases TEXT NOT NULL,
			completed TEXT NOT NULL,
			seed TEXT NOT NULL,
			error TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS phase_outputs (
			run_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			content TEXT NOT NULL,
			raw TEXT,
			warnings TEXT,
			carried INTEGER NOT NULL DEFAULT 0,
			locked INTEGER NOT NULL DEFAULT 0,
			edit TEXT,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (run_id, phase),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			type TEXT NOT NULL,
			phase TEXT,
			scene INTEGER,
			content TEXT,
			message TEXT,
			carried INTEGER NOT NULL DEFAULT 0,
			warnings TEXT,
			error_kind TEXT,
			ts DATETIME NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// RecoverInterrupted marks runs persisted as generating at startup as
// interrupted and returns their ids. A process restart mid-run is inferred,
// never requested; the persisted checkpoint stays intact for resume.
func (s *SQLiteStore) RecoverInterrupted(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM runs WHERE status = ?`, string(core.StatusGenerating))
	if err != nil {
		return nil, fmt.Errorf("query generating runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`,
			string(core.StatusInterrupted), time.Now().UTC(), id); err != nil {
			return nil, fmt.Errorf("mark run %s interrupted: %w", id, err)
		}
	}

	return ids, nil
}

// Create inserts a new run and its (usually empty) outputs.
func (s *SQLiteStore) Create(ctx context.Context, run *core.Run) error {
	phases, completed, seed, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, parent_id, status, current_phase, phases, completed, seed, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ParentID, string(run.Status), string(run.CurrentPhase),
		phases, completed, seed, run.Error, run.Created, run.Updated)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return s.saveOutputs(ctx, run)
}

// Get loads a run and its phase outputs.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, parent_id, status, current_phase, phases, completed, seed, error, created_at, updated_at
		 FROM runs WHERE run_id = ?`, id)

	run := &core.Run{Outputs: map[core.Phase]*core.PhaseOutput{}}
	var status, currentPhase, phases, completed, seed string
	var parentID, runErr sql.NullString
	err := row.Scan(&run.ID, &parentID, &status, &currentPhase, &phases, &completed, &seed, &runErr, &run.Created, &run.Updated)
	if err == sql.ErrNoRows {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.ParentID = parentID.String
	run.Status = core.Status(status)
	run.CurrentPhase = core.Phase(currentPhase)
	run.Error = runErr.String
	if err := json.Unmarshal([]byte(phases), &run.Phases); err != nil {
		return nil, fmt.Errorf("decode phases: %w", err)
	}
	if err := json.Unmarshal([]byte(completed), &run.Completed); err != nil {
		return nil, fmt.Errorf("decode completed: %w", err)
	}
	if err := json.Unmarshal([]byte(seed), &run.Seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	if err := s.loadOutputs(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Update persists the full run snapshot including phase outputs.
func (s *SQLiteStore) Update(ctx context.Context, run *core.Run) error {
	phases, completed, seed, err := encodeRun(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET parent_id = ?, status = ?, current_phase = ?, phases = ?, completed = ?, seed = ?, error = ?, updated_at = ?
		 WHERE run_id = ?`,
		run.ParentID, string(run.Status), string(run.CurrentPhase),
		phases, completed, seed, run.Error, time.Now().UTC(), run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrRunNotFound
	}
	return s.saveOutputs(ctx, run)
}

// List returns all runs ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context) ([]*core.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*core.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *SQLiteStore) saveOutputs(ctx context.Context, run *core.Run) error {
	for _, out := range run.Outputs {
		warnings, _ := json.Marshal(out.Warnings)
		var edit []byte
		if out.Edit != nil {
			edit, _ = json.Marshal(out.Edit)
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO phase_outputs (run_id, phase, content, raw, warnings, carried, locked, edit, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, phase) DO UPDATE SET
			   content = excluded.content, raw = excluded.raw, warnings = excluded.warnings,
			   carried = excluded.carried, locked = excluded.locked, edit = excluded.edit,
			   updated_at = excluded.updated_at`,
			out.RunID, string(out.Phase), out.Content, out.Raw, string(warnings),
			out.Carried, out.Locked, nullable(edit), out.Updated)
		if err != nil {
			return fmt.Errorf("save output %s: %w", out.Phase, err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadOutputs(ctx context.Context, run *core.Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, content, raw, warnings, carried, locked, edit, updated_at
		 FROM phase_outputs WHERE run_id = ?`, run.ID)
	if err != nil {
		return fmt.Errorf("load outputs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		out := &core.PhaseOutput{RunID: run.ID}
		var phase string
		var raw, warnings, edit sql.NullString
		if err := rows.Scan(&phase, &out.Content, &raw, &warnings, &out.Carried, &out.Locked, &edit, &out.Updated); err != nil {
			return err
		}
		out.Phase = core.Phase(phase)
		out.Raw = raw.String
		if warnings.Valid && warnings.String != "" {
			_ = json.Unmarshal([]byte(warnings.String), &out.Warnings)
		}
		if edit.Valid && edit.String != "" {
			var e core.EditRecord
			if json.Unmarshal([]byte(edit.String), &e) == nil {
				out.Edit = &e
			}
		}
		run.Outputs[out.Phase] = out
	}
	return rows.Err()
}

// Append assigns the next per-run sequence number inside a transaction and
// inserts the event row.
func (s *SQLiteStore) Append(ctx context.Context, ev *core.Event) error {
	if ev.ID == "" {
		ev.ID = core.NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE run_id = ?`, ev.RunID).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	ev.Seq = seq

	var scene any
	if ev.Scene != nil {
		scene = *ev.Scene
	}
	warnings, _ := json.Marshal(ev.Warnings)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, event_id, type, phase, scene, content, message, carried, warnings, error_kind, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Seq, ev.ID, string(ev.Type), string(ev.Phase), scene,
		ev.Content, ev.Message, ev.Carried, string(warnings), ev.ErrorKind, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// Replay returns the full ordered event log for a run.
func (s *SQLiteStore) Replay(ctx context.Context, runID string) ([]core.Event, error) {
	return s.eventsAfter(ctx, runID, 0)
}

// Subscribe replays the log from the beginning, then polls for rows past the
// cursor until ctx is done. Ordering is preserved; a reconnecting observer
// simply resubscribes and folds the replayed batch idempotently.
func (s *SQLiteStore) Subscribe(ctx context.Context, runID string) (<-chan core.Event, error) {
	ch := make(chan core.Event, 64)

	go func() {
		defer close(ch)
		var cursor int64
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			events, err := s.eventsAfter(ctx, runID, cursor)
			if err != nil {
				return
			}
			for _, ev := range events {
				select {
				case <-ctx.Done():
					return
				case ch <- ev:
					cursor = ev.Seq
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch, nil
}

func (s *SQLiteStore) eventsAfter(ctx context.Context, runID string, after int64) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, event_id, type, phase, scene, content, message, carried, warnings, error_kind, ts
		 FROM events WHERE run_id = ? AND seq > ? ORDER BY seq`, runID, after)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		var ev core.Event
		var typ, phase string
		var scene sql.NullInt64
		var content, message, warnings, errorKind sql.NullString
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.ID, &typ, &phase, &scene,
			&content, &message, &ev.Carried, &warnings, &errorKind, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Type = core.EventType(typ)
		ev.Phase = core.Phase(phase)
		if scene.Valid {
			n := int(scene.Int64)
			ev.Scene = &n
		}
		ev.Content = content.String
		ev.Message = message.String
		ev.ErrorKind = errorKind.String
		if warnings.Valid && warnings.String != "" && warnings.String != "null" {
			_ = json.Unmarshal([]byte(warnings.String), &ev.Warnings)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func encodeRun(run *core.Run) (phases, completed, seed string, err error) {
	p, err := json.Marshal(run.Phases)
	if err != nil {
		return "", "", "", fmt.Errorf("encode phases: %w", err)
	}
	c, err := json.Marshal(run.Completed)
	if err != nil {
		return "", "", "", fmt.Errorf("encode completed: %w", err)
	}
	sd, err := json.Marshal(run.Seed)
	if err != nil {
		return "", "", "", fmt.Errorf("encode seed: %w", err)
	}
	return string(p), string(c), string(sd), nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
