// Package history indexes finished benchmark runs in a local SQLite
// database (modernc.org/sqlite, no cgo).
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const FileName = "history.db"

// NotRun is the exit code recorded for a phase that never started.
const NotRun = -1

type Record struct {
	RunID       string
	Pass        int
	StartedAt   time.Time
	FinishedAt  time.Time
	BuildDir    string
	Workload    string
	Script      string
	LogPath     string
	Revision    string
	Fingerprint string
	NativeExit  int
	OverlayExit int
	ShimExit    int
	ShimSkipped bool
}

type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create history directory")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to set WAL mode")
	}

	hdb := &DB{db: db}
	if err := hdb.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate history database")
	}
	return hdb, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id       TEXT NOT NULL,
			pass         INTEGER NOT NULL DEFAULT 1,
			started_at   TEXT NOT NULL,
			finished_at  TEXT NOT NULL,
			build_dir    TEXT NOT NULL DEFAULT '',
			workload     TEXT NOT NULL,
			script       TEXT NOT NULL DEFAULT '',
			log_path     TEXT NOT NULL DEFAULT '',
			revision     TEXT NOT NULL DEFAULT '',
			fingerprint  TEXT NOT NULL DEFAULT '',
			native_exit  INTEGER NOT NULL DEFAULT -1,
			overlay_exit INTEGER NOT NULL DEFAULT -1,
			shim_exit    INTEGER NOT NULL DEFAULT -1,
			shim_skipped INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, workload, pass)
		)
	`)
	return err
}

func (d *DB) SaveRun(ctx context.Context, r Record) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, pass, started_at, finished_at, build_dir, workload, script,
			log_path, revision, fingerprint, native_exit, overlay_exit, shim_exit, shim_skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.Pass, r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
		r.BuildDir, r.Workload, r.Script, r.LogPath, r.Revision, r.Fingerprint,
		r.NativeExit, r.OverlayExit, r.ShimExit, boolToInt(r.ShimSkipped))
	if err != nil {
		return errors.Wrapf(err, "failed to save run %s", r.RunID)
	}
	return nil
}

// ListRuns returns the newest runs first. An empty workload matches all;
// limit <= 0 means no limit.
func (d *DB) ListRuns(ctx context.Context, workload string, limit int) ([]Record, error) {
	query := `SELECT run_id, pass, started_at, finished_at, build_dir, workload, script, log_path,
		revision, fingerprint, native_exit, overlay_exit, shim_exit, shim_skipped FROM runs`
	var args []interface{}
	if workload != "" {
		query += " WHERE workload = ?"
		args = append(args, workload)
	}
	query += " ORDER BY started_at DESC, run_id DESC, pass DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate runs")
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r                 Record
		started, finished string
		skipped           int
	)
	if err := rows.Scan(&r.RunID, &r.Pass, &started, &finished, &r.BuildDir, &r.Workload, &r.Script,
		&r.LogPath, &r.Revision, &r.Fingerprint, &r.NativeExit, &r.OverlayExit, &r.ShimExit, &skipped); err != nil {
		return Record{}, errors.Wrap(err, "failed to scan run")
	}
	r.StartedAt, _ = time.Parse(time.RFC3339, started)
	r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
	r.ShimSkipped = skipped != 0
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
