// Package ledger records pipeline runs and their metrics in SQLite so runs
// with different parameters can be compared side by side.
package ledger

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/RyanBlaney/sonido-scribe/logging"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// Run is one recorded pipeline execution
type Run struct {
	ID                  string
	CreatedAt           time.Time
	Input               string
	OutputDir           string
	Threshold           float64
	Humanize            bool
	Seed                int64
	Renderer            string
	TranscriptionStatus string
	RenderStatus        string
	MetricsStatus       string
	Metrics             map[string]float64
}

// Ledger is a SQLite-backed run store
type Ledger struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens or creates the ledger database at path
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating ledger directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "_busy_timeout") {
		dsn += "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening ledger: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &Ledger{
		db: db,
		logger: logging.WithFields(logging.Fields{
			"component": "ledger",
			"path":      path,
		}),
	}, nil
}

func createTables(db *sql.DB) error {
	createRunsTable := `
    CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        created_at TEXT NOT NULL,
        input TEXT NOT NULL,
        output_dir TEXT NOT NULL,
        threshold REAL NOT NULL,
        humanize INTEGER NOT NULL DEFAULT 0,
        seed INTEGER NOT NULL,
        renderer TEXT,
        transcription_status TEXT,
        render_status TEXT,
        metrics_status TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
    `

	createMetricsTable := `
    CREATE TABLE IF NOT EXISTS metrics (
        run_id TEXT NOT NULL,
        name TEXT NOT NULL,
        value REAL NOT NULL,
        PRIMARY KEY (run_id, name)
    );
    `

	if _, err := db.Exec(createRunsTable); err != nil {
		return fmt.Errorf("error creating runs table: %w", err)
	}
	if _, err := db.Exec(createMetricsTable); err != nil {
		return fmt.Errorf("error creating metrics table: %w", err)
	}
	return nil
}

// Close closes the database
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Record inserts or replaces a run and its metrics
func (l *Ledger) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT OR REPLACE INTO runs (id, created_at, input, output_dir, threshold, humanize, seed,
            renderer, transcription_status, render_status, metrics_status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(time.RFC3339Nano), run.Input, run.OutputDir,
		run.Threshold, run.Humanize, run.Seed, run.Renderer,
		run.TranscriptionStatus, run.RenderStatus, run.MetricsStatus,
	)
	if err != nil {
		return fmt.Errorf("error inserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM metrics WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("error clearing metrics: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO metrics (run_id, name, value) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	for name, value := range run.Metrics {
		if _, err := stmt.ExecContext(ctx, run.ID, name, value); err != nil {
			return fmt.Errorf("error inserting metric %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing run: %w", err)
	}

	l.logger.Debug("Run recorded", logging.Fields{
		"function": "Record",
		"run_id":   run.ID,
		"metrics":  len(run.Metrics),
	})
	return nil
}

// Runs loads the given runs, or every run when ids is empty, oldest first
func (l *Ledger) Runs(ctx context.Context, ids ...string) ([]Run, error) {
	query := `SELECT id, created_at, input, output_dir, threshold, humanize, seed,
        COALESCE(renderer, ''), COALESCE(transcription_status, ''),
        COALESCE(render_status, ''), COALESCE(metrics_status, '')
        FROM runs`
	args := make([]any, len(ids))
	if len(ids) > 0 {
		query += " WHERE id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")"
		for i, id := range ids {
			args[i] = id
		}
	}
	query += " ORDER BY created_at, id"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var created string
		if err := rows.Scan(&run.ID, &created, &run.Input, &run.OutputDir, &run.Threshold,
			&run.Humanize, &run.Seed, &run.Renderer, &run.TranscriptionStatus,
			&run.RenderStatus, &run.MetricsStatus); err != nil {
			return nil, fmt.Errorf("error scanning run: %w", err)
		}
		run.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp for run %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading runs: %w", err)
	}

	for i := range runs {
		metrics, err := l.metrics(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Metrics = metrics
	}

	if len(ids) > 0 && len(runs) != len(ids) {
		return runs, fmt.Errorf("found %d of %d requested runs", len(runs), len(ids))
	}
	return runs, nil
}

func (l *Ledger) metrics(ctx context.Context, runID string) (map[string]float64, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT name, value FROM metrics WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("error querying metrics: %w", err)
	}
	defer rows.Close()

	metrics := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("error scanning metric: %w", err)
		}
		metrics[name] = value
	}
	return metrics, rows.Err()
}

// Comparison is a table of runs against the union of their metric names
type Comparison struct {
	Columns []string
	Runs    []Run
}

// Compare builds a comparison of the given runs, or of every run
func (l *Ledger) Compare(ctx context.Context, ids ...string) (*Comparison, error) {
	runs, err := l.Runs(ctx, ids...)
	if err != nil {
		return nil, err
	}

	var columns []string
	for _, run := range runs {
		for name := range run.Metrics {
			if !slices.Contains(columns, name) {
				columns = append(columns, name)
			}
		}
	}
	slices.Sort(columns)

	return &Comparison{Columns: columns, Runs: runs}, nil
}

func (c *Comparison) header() []string {
	return append([]string{"run", "threshold", "humanize", "seed"}, c.Columns...)
}

func (c *Comparison) records(format func(float64) string) [][]string {
	out := make([][]string, 0, len(c.Runs))
	for _, run := range c.Runs {
		record := []string{
			run.ID,
			format(run.Threshold),
			strconv.FormatBool(run.Humanize),
			strconv.FormatInt(run.Seed, 10),
		}
		for _, name := range c.Columns {
			value, ok := run.Metrics[name]
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, format(value))
		}
		out = append(out, record)
	}
	return out
}

// WriteTable prints an aligned table
func (c *Comparison) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(c.header(), "\t"))
	for _, record := range c.records(func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }) {
		fmt.Fprintln(tw, strings.Join(record, "\t"))
	}
	return tw.Flush()
}

// WriteCSV writes the comparison as CSV with full precision
func (c *Comparison) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(c.header()); err != nil {
		return err
	}
	if err := cw.WriteAll(c.records(func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) })); err != nil {
		return err
	}
	return cw.Error()
}
