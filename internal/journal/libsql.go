package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/batonflow/baton/pkg/schema"
)

// LibSQLJournal implements Journal using libSQL (embedded SQLite fork).
type LibSQLJournal struct {
	db *sql.DB
}

// Open opens a libSQL database at the given path and returns a journal.
// Accepts a plain filesystem path or a file URI ("file:/path/to/baton.db");
// bare paths are normalized, since the driver only understands URIs.
func Open(dbPath string) (*LibSQLJournal, error) {
	if !strings.HasPrefix(dbPath, "file:") && !strings.Contains(dbPath, "://") {
		dbPath = "file:" + dbPath
	}
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeJournal, "open journal: %s", err.Error()).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLJournal{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (j *LibSQLJournal) DB() *sql.DB { return j.db }

// Close closes the database.
func (j *LibSQLJournal) Close() error { return j.db.Close() }

// Migrate applies any pending schema migrations.
func (j *LibSQLJournal) Migrate(ctx context.Context) error {
	return runMigrations(ctx, j.db)
}

// Vacuum runs VACUUM on the database.
func (j *LibSQLJournal) Vacuum(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

// StartRun inserts the run row. Re-inserting the same run id is an error;
// run ids are UUIDs minted per execution.
func (j *LibSQLJournal) StartRun(ctx context.Context, run *Run) error {
	if run == nil || run.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is required")
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_id, status, input, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.WorkflowID, run.Status,
		nullRaw(run.Input), nullRaw(run.Error),
		timeOrNow(run.StartedAt), nullTime(run.CompletedAt),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeJournal, "insert run %s: %s", run.RunID, err.Error()).WithCause(err)
	}
	return nil
}

// FinishRun writes the terminal status of a run.
func (j *LibSQLJournal) FinishRun(ctx context.Context, runID string, update RunUpdate) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE run_id = ?`,
		update.Status, nullRaw(update.Error), timeOrNow(update.CompletedAt), runID,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeJournal, "finish run %s: %s", runID, err.Error()).WithCause(err)
	}
	return checkRowsAffected(res, "run", runID)
}

// GetRun returns a single run by id.
func (j *LibSQLJournal) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, status, input, error, started_at, completed_at
		 FROM runs WHERE run_id = ?`, runID,
	)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, journalNotFound("run", runID)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs matching the filter, newest first.
func (j *LibSQLJournal) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT run_id, workflow_id, status, input, error, started_at, completed_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scan func(dest ...any) error) (*Run, error) {
	run := &Run{}
	var input, errJSON sql.NullString
	var completedAt sql.NullTime
	if err := scan(&run.RunID, &run.WorkflowID, &run.Status,
		&input, &errJSON, &run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	run.Input = rawOrNil(input)
	run.Error = rawOrNil(errJSON)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-run
// sequence. The sequence read and insert share a transaction; the single
// connection serializes concurrent appenders.
func (j *LibSQLJournal) AppendEvent(ctx context.Context, event *RunEvent) error {
	if event == nil || event.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event run id is required")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeJournal, "begin tx: %s", err.Error()).WithCause(err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeJournal, "next sequence: %s", err.Error()).WithCause(err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, step_id, type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.StepID), event.Type,
		nullRaw(event.Payload), timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeJournal, "insert event: %s", err.Error()).WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeJournal, "commit event: %s", err.Error()).WithCause(err)
	}
	return nil
}

// ListEvents returns events for a run with sequence > since, ordered by
// sequence ascending.
func (j *LibSQLJournal) ListEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*RunEvent
	for rows.Next() {
		e := &RunEvent{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		list = append(list, e)
	}
	return list, rows.Err()
}

// --- Helpers ---

func journalNotFound(resource, id string) *schema.BatonError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return journalNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
