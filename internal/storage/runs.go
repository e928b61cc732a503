package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one export or flatten invocation.
type Run struct {
	ID             string     `json:"id" yaml:"id"`
	Command        string     `json:"command" yaml:"command"`
	Source         string     `json:"source" yaml:"source"`
	Output         string     `json:"output,omitempty" yaml:"output,omitempty"`
	Status         string     `json:"status" yaml:"status"`
	Pages          int        `json:"pages" yaml:"pages"`
	Rows           int        `json:"rows" yaml:"rows"`
	Columns        int        `json:"columns" yaml:"columns"`
	DroppedColumns int        `json:"droppedColumns" yaml:"droppedColumns"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt      time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// Duration is the elapsed time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStore records run history.
type RunStore struct {
	db  *DB
	now func() time.Time
}

// NewRunStore creates a run store over db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db, now: time.Now}
}

// Start inserts a running run and returns it with a fresh ID.
func (s *RunStore) Start(ctx context.Context, command, source string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Command:   command,
		Source:    source,
		Status:    RunRunning,
		StartedAt: s.now().UTC(),
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO runs (id, command, source, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Command, run.Source, run.Status, run.StartedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// Finish stores run's counters and marks it succeeded, or failed when
// runErr is non-nil.
func (s *RunStore) Finish(ctx context.Context, run *Run, runErr error) error {
	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.Status = RunSucceeded
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE runs
		SET output = ?, status = ?, page_count = ?, row_count = ?, column_count = ?,
		    dropped_columns = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, run.Output, run.Status, run.Pages, run.Rows, run.Columns,
		run.DroppedColumns, run.Error, finished.Format(timeLayout), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// List returns up to limit runs, newest first.
func (s *RunStore) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, command, source, output, status, page_count, row_count, column_count,
		       dropped_columns, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Command, &r.Source, &r.Output, &r.Status, &r.Pages, &r.Rows,
			&r.Columns, &r.DroppedColumns, &r.Error, &started, &finished); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("invalid started_at for run %s: %w", r.ID, err)
		}
		if finished != "" {
			t, err := time.Parse(timeLayout, finished)
			if err != nil {
				return nil, fmt.Errorf("invalid finished_at for run %s: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
