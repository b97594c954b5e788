package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rdelgatto/jobagent/internal/model"

	_ "modernc.org/sqlite"
)

const createInstancesTable = `
CREATE TABLE IF NOT EXISTS job_instances (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id       INTEGER NOT NULL,
    status       TEXT NOT NULL,
    agent_id     TEXT,
    error_detail TEXT,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    completed_at DATETIME
)`

const createLogEntriesTable = `
CREATE TABLE IF NOT EXISTS log_entries (
    id          TEXT PRIMARY KEY,
    instance_id INTEGER NOT NULL,
    job_id      INTEGER NOT NULL,
    timestamp   DATETIME NOT NULL,
    level       TEXT NOT NULL,
    action      TEXT NOT NULL,
    details     TEXT
)`

const createLogEntriesIndex = `
CREATE INDEX IF NOT EXISTS idx_log_entries_instance
    ON log_entries (instance_id, timestamp)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createInstancesTable, createLogEntriesTable, createLogEntriesIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateInstance inserts a new instance row and fills in its assigned id.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *model.JobInstance) error {
	if inst.Status == "" {
		inst.Status = model.StatusQueued
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_instances (job_id, status, agent_id, error_detail, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inst.JobID, inst.Status, inst.AgentID, inst.ErrorDetail,
		inst.CreatedAt, inst.StartedAt, inst.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("instance id: %w", err)
	}
	inst.ID = id
	return nil
}

// GetInstance retrieves an instance by id.
func (s *SQLiteStore) GetInstance(ctx context.Context, id int64) (*model.JobInstance, error) {
	inst := &model.JobInstance{}
	var agentID, errorDetail sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, status, agent_id, error_detail, created_at, started_at, completed_at
		 FROM job_instances WHERE id = ?`, id,
	).Scan(
		&inst.ID, &inst.JobID, &inst.Status, &agentID, &errorDetail,
		&inst.CreatedAt, &inst.StartedAt, &inst.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	inst.AgentID = agentID.String
	inst.ErrorDetail = errorDetail.String
	return inst, nil
}

// MarkInProcess claims a queued instance. The status guard in the WHERE
// clause makes the queued→inprocess transition happen at most once.
func (s *SQLiteStore) MarkInProcess(ctx context.Context, id int64, agentID string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_instances SET status = ?, agent_id = ?, started_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusInProcess, agentID, startedAt, id, model.StatusQueued,
	)
	if err != nil {
		return fmt.Errorf("mark inprocess: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// Finalize moves an inprocess instance to a terminal status.
func (s *SQLiteStore) Finalize(ctx context.Context, id int64, status, errorDetail string, completedAt time.Time) error {
	if !model.TerminalStatus(status) {
		return fmt.Errorf("%w: finalize to %q", ErrInvalidTransition, status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_instances SET status = ?, error_detail = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		status, errorDetail, completedAt, id, model.StatusInProcess,
	)
	if err != nil {
		return fmt.Errorf("finalize instance: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// checkTransition distinguishes a missing instance from a guarded update that
// matched no rows because the instance was in the wrong status.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM job_instances WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check instance status: %w", err)
	}
	return fmt.Errorf("%w: instance %d is %s", ErrInvalidTransition, id, status)
}

// AppendLogEntry inserts a log row. Entries are append-only.
func (s *SQLiteStore) AppendLogEntry(ctx context.Context, e *model.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_entries (id, instance_id, job_id, timestamp, level, action, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.InstanceID, e.JobID, e.Timestamp, e.Level, e.Action, e.Details,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// ListLogEntries returns an instance's log entries, newest first.
func (s *SQLiteStore) ListLogEntries(ctx context.Context, instanceID int64) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_id, job_id, timestamp, level, action, details
		 FROM log_entries WHERE instance_id = ? ORDER BY timestamp DESC, id DESC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.JobID, &e.Timestamp, &e.Level, &e.Action, &details); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Details = details.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}

	return entries, nil
}
