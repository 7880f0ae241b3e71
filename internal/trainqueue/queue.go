// Package trainqueue is the local journal of training requests sent to the
// backend. It lets a later invocation find and abort the running training.
package trainqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrAlreadyExists is returned when a request id is pushed twice.
	ErrAlreadyExists = errors.New("training request already exists")
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = errors.New("training request not found")
	// ErrNotRunning is returned when finishing a request that already ended.
	ErrNotRunning = errors.New("training request is not running")
)

// Status is the lifecycle state of a training request.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Entry is one journaled training request.
type Entry struct {
	RequestID  string         `json:"request_id"`
	Status     Status         `json:"status"`
	Configs    map[string]any `json:"configs,omitempty"`
	Testing    bool           `json:"testing_status"`
	ModelID    string         `json:"model_id,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Duration returns how long the request ran, or has been running.
func (e *Entry) Duration(now time.Time) time.Duration {
	if e.FinishedAt != nil {
		return e.FinishedAt.Sub(e.StartedAt)
	}
	return now.Sub(e.StartedAt)
}

const schema = `
CREATE TABLE IF NOT EXISTS training_queue (
	request_id  TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	configs     TEXT NOT NULL DEFAULT '{}',
	testing     INTEGER NOT NULL DEFAULT 0,
	model_id    TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_training_queue_status ON training_queue(status, started_at);
`

// Queue is a SQLite-backed journal.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Queue, error) {
	if path == "" {
		return nil, errors.New("queue path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Queue{db: db, now: time.Now}, nil
}

// Close closes the database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Push records a new running request.
func (q *Queue) Push(ctx context.Context, requestID string, configs map[string]any, testing bool) (*Entry, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, errors.New("request id is required")
	}
	raw, err := json.Marshal(configs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configs: %w", err)
	}

	started := q.now().UTC()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO training_queue (request_id, status, configs, testing, started_at) VALUES (?, ?, ?, ?, ?)`,
		requestID, StatusRunning, string(raw), testing, started.UnixMilli())
	if err != nil {
		if isConstraintError(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, requestID)
		}
		return nil, fmt.Errorf("failed to push training request: %w", err)
	}
	return &Entry{
		RequestID: requestID,
		Status:    StatusRunning,
		Configs:   configs,
		Testing:   testing,
		StartedAt: time.UnixMilli(started.UnixMilli()).UTC(),
	}, nil
}

// Get returns the entry for requestID.
func (q *Queue) Get(ctx context.Context, requestID string) (*Entry, error) {
	row := q.db.QueryRowContext(ctx, selectEntry+` WHERE request_id = ?`, requestID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return e, err
}

// Complete marks a running request finished with the model it produced.
func (q *Queue) Complete(ctx context.Context, requestID, modelID string) error {
	return q.finish(ctx, requestID, StatusCompleted, modelID, "")
}

// Fail marks a running request failed.
func (q *Queue) Fail(ctx context.Context, requestID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.finish(ctx, requestID, StatusFailed, "", msg)
}

// MarkAborted marks a running request aborted.
func (q *Queue) MarkAborted(ctx context.Context, requestID string) error {
	return q.finish(ctx, requestID, StatusAborted, "", "")
}

func (q *Queue) finish(ctx context.Context, requestID string, status Status, modelID, msg string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE training_queue SET status = ?, model_id = ?, error = ?, finished_at = ? WHERE request_id = ? AND status = ?`,
		status, modelID, msg, q.now().UTC().UnixMilli(), requestID, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update training request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update training request: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := q.Get(ctx, requestID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrNotRunning, requestID)
}

// Running returns the running requests, newest first.
func (q *Queue) Running(ctx context.Context) ([]*Entry, error) {
	return q.query(ctx, selectEntry+` WHERE status = ? ORDER BY started_at DESC, rowid DESC`, StatusRunning)
}

// LatestRunning returns the most recently started running request.
func (q *Queue) LatestRunning(ctx context.Context) (*Entry, error) {
	entries, err := q.Running(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no running training", ErrNotFound)
	}
	return entries[0], nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (q *Queue) List(ctx context.Context, limit int) ([]*Entry, error) {
	query := selectEntry + ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		return q.query(ctx, query+` LIMIT ?`, limit)
	}
	return q.query(ctx, query)
}

// Prune removes finished entries older than age and returns how many
// were removed.
func (q *Queue) Prune(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := q.now().UTC().Add(-age).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM training_queue WHERE status != ? AND finished_at IS NOT NULL AND finished_at < ?`,
		StatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune training queue: %w", err)
	}
	return res.RowsAffected()
}

const selectEntry = `SELECT request_id, status, configs, testing, model_id, error, started_at, finished_at FROM training_queue`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e        Entry
		status   string
		configs  string
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&e.RequestID, &status, &configs, &e.Testing, &e.ModelID, &e.Error, &started, &finished); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	if configs != "" && configs != "null" {
		if err := json.Unmarshal([]byte(configs), &e.Configs); err != nil {
			return nil, fmt.Errorf("corrupt configs for %s: %w", e.RequestID, err)
		}
	}
	e.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		e.FinishedAt = &t
	}
	return &e, nil
}

func (q *Queue) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query training queue: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
