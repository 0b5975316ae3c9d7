package simulator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// History stores simulation results in SQLite.
type History struct {
	db *sql.DB
}

// HistoryEntry is one stored run.
type HistoryEntry struct {
	RunID         string
	Scenario      string
	Seed          int64
	StartedAt     time.Time
	SimulatedTime time.Duration
	Turns         uint64
	Passed        bool
	Error         string
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return h, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		seed INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		simulated_ns INTEGER NOT NULL,
		turns INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		error TEXT,
		result TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record stores res. The full result is kept as JSON next to the summary
// columns.
func (h *History) Record(ctx context.Context, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO runs (id, scenario, seed, started_at, simulated_ns, turns, passed, error, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Scenario, res.Seed, res.StartedAt.UTC(), int64(res.SimulatedTime),
		int64(res.Turns), res.Passed, res.Error, string(data),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// List returns up to limit runs, newest first. A non-positive limit returns
// every run.
func (h *History) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, scenario, seed, started_at, simulated_ns, turns, passed, error FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var simulated, turns int64
		var errText sql.NullString
		if err := rows.Scan(&e.RunID, &e.Scenario, &e.Seed, &e.StartedAt, &simulated, &turns, &e.Passed, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.SimulatedTime = time.Duration(simulated)
		e.Turns = uint64(turns)
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the full stored result of a run.
func (h *History) Get(ctx context.Context, runID string) (*Result, error) {
	var data string
	err := h.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE id = ?`, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	var res Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &res, nil
}
