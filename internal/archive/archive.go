// Package archive provides a WAL-mode SQLite-backed store of completed
// traces. Each Store call persists one trace.Output under a generated run
// ID; Get and List serve the optional REST query API. A single shared
// *sql.DB capped at one open connection (SQLite allows only one writer),
// with the schema kept inline in the package.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register the "sqlite" driver with database/sql

	"github.com/counterhack/mandrake/internal/trace"
)

// Archive is a SQLite-backed store of trace.Output records. It is safe for
// concurrent use.
type Archive struct {
	db *sql.DB
}

const ddl = `
CREATE TABLE IF NOT EXISTS runs (
    run_id     TEXT    PRIMARY KEY,
    created_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    pid        INTEGER NOT NULL,
    exit_reason TEXT,
    output     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at);
`

// Open opens (or creates) the SQLite database at path and applies the
// schema. Passing ":memory:" yields an in-memory database, useful for
// tests.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %q: %w", path, err)
	}

	// A single writer connection avoids "database is locked" errors when
	// multiple traces finish and archive concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: apply schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Store persists out under a freshly generated run ID and returns it.
func (a *Archive) Store(ctx context.Context, out trace.Output) (string, error) {
	runID := uuid.NewString()

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("archive: marshal output: %w", err)
	}

	exitReason := out.ExitReason

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, pid, exit_reason, output) VALUES (?, ?, ?, ?)`,
		runID, out.PID, exitReason, string(data),
	)
	if err != nil {
		return "", fmt.Errorf("archive: store run: %w", err)
	}

	return runID, nil
}

// Get retrieves the trace.Output stored under runID.
func (a *Archive) Get(ctx context.Context, runID string) (*trace.Output, error) {
	var data string
	err := a.db.QueryRowContext(ctx, `SELECT output FROM runs WHERE run_id = ?`, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("archive: no such run: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get run: %w", err)
	}

	var out trace.Output
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("archive: unmarshal run %s: %w", runID, err)
	}
	return &out, nil
}

// RunSummary is a lightweight listing entry, omitting the full history so
// List stays cheap even with a large archive.
type RunSummary struct {
	RunID      string
	CreatedAt  time.Time
	PID        int
	ExitReason *string
}

// List returns the most recent runs, newest first, capped at limit.
func (a *Archive) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT run_id, created_at, pid, exit_reason FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s         RunSummary
			createdAt string
		)
		if err := rows.Scan(&s.RunID, &createdAt, &s.PID, &s.ExitReason); err != nil {
			return nil, fmt.Errorf("archive: list scan: %w", err)
		}
		s.CreatedAt, _ = time.Parse("2006-01-02T15:04:05.000Z", createdAt)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: list rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}
