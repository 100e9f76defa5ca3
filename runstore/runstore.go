package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/model"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/utils"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type State string

const (
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

const ReturnValueKey = "return_value"

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrHandoffNotFound = errors.New("handoff not found")
)

// Run is one execution of the pipeline for a logical date.
type Run struct {
	ID          string
	LogicalDate time.Time
	Trigger     string // "manual" or "scheduled"
	State       State
	StartedAt   time.Time
	FinishedAt  *time.Time
	Error       string
}

// TaskInstance is one attempt of a task within a run.
type TaskInstance struct {
	RunID      string
	TaskID     string
	Try        int
	State      State
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      string
}

// Store persists run history, task attempts and task handoffs in SQLite.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	timeProvider utils.TimeProvider
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// ":memory:" gives a private in-memory store.
func Open(path string, timeProvider utils.TimeProvider, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// every pooled connection to :memory: would be a separate database
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	s := &Store{db: db, timeProvider: timeProvider}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info(fmt.Sprintf("Opened run store at %s", path))
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			logical_date TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			state        TEXT NOT NULL,
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER,
			error        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS task_instances (
			run_id      TEXT NOT NULL REFERENCES runs(id),
			task_id     TEXT NOT NULL,
			try         INTEGER NOT NULL,
			state       TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			error       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, task_id, try)
		)`,

		`CREATE TABLE IF NOT EXISTS handoffs (
			run_id  TEXT NOT NULL REFERENCES runs(id),
			task_id TEXT NOT NULL,
			key     TEXT NOT NULL,
			value   TEXT NOT NULL,
			PRIMARY KEY (run_id, task_id, key)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() int64 {
	return s.timeProvider.Now().UnixMilli()
}

func (s *Store) CreateRun(ctx context.Context, logicalDate time.Time, trigger string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:          uuid.NewString(),
		LogicalDate: model.CalendarDate(logicalDate),
		Trigger:     trigger,
		State:       StateRunning,
		StartedAt:   time.UnixMilli(s.now()).UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, logical_date, trigger_type, state, started_at) VALUES (?,?,?,?,?)`,
		run.ID, run.LogicalDate.Format(model.DateLayout), run.Trigger, string(run.State), run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating run: %w", err)
	}
	return run, nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, state State, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, finished_at = ?, error = ? WHERE id = ?`,
		string(state), s.now(), errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("error finishing run %s: %w", runID, err)
	}
	return expectOne(res, runID)
}

func (s *Store) StartTask(ctx context.Context, runID, taskID string, try int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_instances (run_id, task_id, try, state, started_at) VALUES (?,?,?,?,?)`,
		runID, taskID, try, string(StateRunning), s.now(),
	)
	if err != nil {
		return fmt.Errorf("error starting task %s try %d: %w", taskID, try, err)
	}
	return nil
}

// NextTry returns the attempt number that follows the task's recorded attempts in the run, starting at 1.
func (s *Store) NextTry(ctx context.Context, runID, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(try), 0) + 1 FROM task_instances WHERE run_id = ? AND task_id = ?`,
		runID, taskID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("error reading attempts of task %s: %w", taskID, err)
	}
	return next, nil
}

func (s *Store) FinishTask(ctx context.Context, runID, taskID string, try int, state State, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE task_instances SET state = ?, finished_at = ?, error = ? WHERE run_id = ? AND task_id = ? AND try = ?`,
		string(state), s.now(), errMsg, runID, taskID, try,
	)
	if err != nil {
		return fmt.Errorf("error finishing task %s try %d: %w", taskID, try, err)
	}
	return nil
}

// PushHandoff records a value produced by a task for downstream tasks of the same run.
func (s *Store) PushHandoff(ctx context.Context, runID, taskID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO handoffs (run_id, task_id, key, value) VALUES (?,?,?,?)`,
		runID, taskID, key, value,
	)
	if err != nil {
		return fmt.Errorf("error pushing handoff %s/%s: %w", taskID, key, err)
	}
	return nil
}

func (s *Store) PullHandoff(ctx context.Context, runID, taskID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM handoffs WHERE run_id = ? AND task_id = ? AND key = ?`,
		runID, taskID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s/%s for run %s: %w", taskID, key, runID, ErrHandoffNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("error pulling handoff %s/%s: %w", taskID, key, err)
	}
	return value, nil
}

const runColumns = `id, logical_date, trigger_type, state, started_at, finished_at, error`

func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over runs: %w", err)
	}
	return runs, nil
}

// TaskInstances returns all attempts of all tasks of a run in execution order.
func (s *Store) TaskInstances(ctx context.Context, runID string) ([]TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task_id, try, state, started_at, finished_at, error
		FROM task_instances WHERE run_id = ? ORDER BY started_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("error listing task instances: %w", err)
	}
	defer rows.Close()

	var tasks []TaskInstance
	for rows.Next() {
		var (
			ti         TaskInstance
			state      string
			startedAt  int64
			finishedAt sql.NullInt64
		)
		if err := rows.Scan(&ti.RunID, &ti.TaskID, &ti.Try, &state, &startedAt, &finishedAt, &ti.Error); err != nil {
			return nil, fmt.Errorf("error scanning task instance: %w", err)
		}
		ti.State = State(state)
		ti.StartedAt = time.UnixMilli(startedAt).UTC()
		ti.FinishedAt = fromNullMillis(finishedAt)
		tasks = append(tasks, ti)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over task instances: %w", err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run         Run
		logicalDate string
		state       string
		startedAt   int64
		finishedAt  sql.NullInt64
	)
	if err := row.Scan(&run.ID, &logicalDate, &run.Trigger, &state, &startedAt, &finishedAt, &run.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning run: %w", err)
	}

	date, err := time.Parse(model.DateLayout, logicalDate)
	if err != nil {
		return nil, fmt.Errorf("invalid logical date %q for run %s: %w", logicalDate, run.ID, err)
	}
	run.LogicalDate = date
	run.State = State(state)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.FinishedAt = fromNullMillis(finishedAt)
	return &run, nil
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func expectOne(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}
