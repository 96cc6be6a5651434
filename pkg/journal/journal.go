// Package journal records discovered links and download outcomes in a
// SQLite database so that progress can be inspected between runs.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docharvest/pkg/linkset"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339

// Journal wraps the SQLite connection. A nil *Journal discards every
// write and returns empty query results.
type Journal struct {
	conn *sql.DB
	now  func() time.Time
}

// Outcome is one recorded download result.
type Outcome struct {
	Link     linkset.Link
	Outcome  string
	Kind     string
	Attempts int
	Bytes    int64
	Message  string
}

// DatasetStats summarises the latest outcome of every known link in a
// dataset.
type DatasetStats struct {
	Dataset  int
	Links    int
	Complete int
	Failed   int
	Bytes    int64
}

// Pending is the number of links without a successful outcome.
func (s DatasetStats) Pending() int {
	return s.Links - s.Complete
}

type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	DatasetStart int
	DatasetEnd   int
}

type Failure struct {
	URL        string
	Dataset    int
	Kind       string
	Attempts   int
	Message    string
	RecordedAt time.Time
}

// Open creates the database file if needed and initialises the schema.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// Workers report through the controller, but keep writers serialized.
	conn.SetMaxOpenConns(1)

	for _, stmt := range []string{createRunsTable, createLinksTable, createAttemptsTable} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create journal schema: %w", err)
		}
	}

	return &Journal{conn: conn, now: time.Now}, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.conn.Close()
}

// StartRun registers a run as running.
func (j *Journal) StartRun(ctx context.Context, runID string, start, end int) error {
	if j == nil {
		return nil
	}
	if _, err := j.conn.ExecContext(ctx, insertRun, runID, j.stamp(), start, end); err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun stamps the run with its final status.
func (j *Journal) FinishRun(ctx context.Context, runID, status string) error {
	if j == nil {
		return nil
	}
	if _, err := j.conn.ExecContext(ctx, finishRun, j.stamp(), status, runID); err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// RecordLinks inserts links not seen by any earlier run and returns how
// many were new to the journal.
func (j *Journal) RecordLinks(ctx context.Context, runID string, links []linkset.Link) (int, error) {
	if j == nil || len(links) == 0 {
		return 0, nil
	}

	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertLink)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	stamp := j.stamp()
	inserted := 0
	for _, l := range links {
		res, err := stmt.ExecContext(ctx, l.URL, l.Dataset, l.ID, l.Page, l.Referer, runID, stamp)
		if err != nil {
			return 0, fmt.Errorf("failed to insert link %s: %w", l.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// RecordOutcome appends a download result.
func (j *Journal) RecordOutcome(ctx context.Context, runID string, o Outcome) error {
	if j == nil {
		return nil
	}
	_, err := j.conn.ExecContext(ctx, insertAttempt,
		runID, o.Link.URL, o.Link.Dataset, o.Outcome, o.Kind, o.Attempts, o.Bytes, o.Message, j.stamp())
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", o.Link.ID, err)
	}
	return nil
}

// Stats returns per-dataset progress ordered by dataset.
func (j *Journal) Stats(ctx context.Context) ([]DatasetStats, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.conn.QueryContext(ctx, selectDatasetStats)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset stats: %w", err)
	}
	defer rows.Close()

	var stats []DatasetStats
	for rows.Next() {
		var s DatasetStats
		if err := rows.Scan(&s.Dataset, &s.Links, &s.Complete, &s.Failed, &s.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan dataset stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// RecentRuns returns up to limit runs, newest first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.conn.QueryContext(ctx, selectRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.DatasetStart, &r.DatasetEnd); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeFormat, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(timeFormat, finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Failures lists links whose most recent outcome is a failure.
func (j *Journal) Failures(ctx context.Context, limit int) ([]Failure, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.conn.QueryContext(ctx, selectFailures, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var (
			f  Failure
			at string
		)
		if err := rows.Scan(&f.URL, &f.Dataset, &f.Kind, &f.Attempts, &f.Message, &at); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.RecordedAt, _ = time.Parse(timeFormat, at)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (j *Journal) stamp() string {
	return j.now().UTC().Format(timeFormat)
}
