// Package sqlitestore implements statestore.Store on SQLite, for
// deployments that want queryable, crash-safe run history without an
// external database server: WAL mode, golang-migrate-driven schema
// migrations, and a modernc.org/sqlite (pure-Go, no cgo) driver underneath.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Pure-Go SQLite driver; no cgo toolchain required at build time.
	_ "modernc.org/sqlite"

	"github.com/waivern-compliance/waivern/pkg/statestore"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements statestore.Store on top of a SQLite database file.
type Store struct {
	db *sql.DB
}

// Config holds connection parameters for Open.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to (creating if absent) the SQLite database at cfg.Path,
// enables WAL mode, and runs pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlitestore: migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("sqlitestore: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("sqlitestore: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlitestore: run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun implements statestore.Store.
func (s *Store) BeginRun(ctx context.Context, runID, runbookHash string, artifactCount int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return internalErr("begin_run: begin tx", err)
	}
	defer tx.Rollback()

	// A resumed run reuses its run_id: start its record and artifact states
	// over, as the memory and filesystem backends do.
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_states WHERE run_id = ?`, runID); err != nil {
		return internalErr("begin_run: reset artifact states", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, runbook_hash, started_at, overall_status, artifact_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			runbook_hash = excluded.runbook_hash, started_at = excluded.started_at, finished_at = NULL,
			overall_status = excluded.overall_status, artifact_count = excluded.artifact_count,
			succeeded_count = 0, failed_count = 0
	`, runID, runbookHash, nowUTC(), string(statestore.RunStatusRunning), artifactCount)
	if err != nil {
		return internalErr("begin_run failed", err)
	}
	return tx.Commit()
}

// Mark implements statestore.Store.
func (s *Store) Mark(ctx context.Context, runID, artifactID string, status statestore.Status, details *statestore.MarkDetails) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return internalErr("mark: begin tx", err)
	}
	defer tx.Rollback()

	var from statestore.Status
	var startedAt sql.NullTime
	row := tx.QueryRowContext(ctx, `SELECT status, started_at FROM artifact_states WHERE run_id = ? AND artifact_id = ?`, runID, artifactID)
	switch err := row.Scan(&from, &startedAt); {
	case errors.Is(err, sql.ErrNoRows):
		from = statestore.StatusPending
	case err != nil:
		return internalErr("mark: load prior state", err)
	}

	if err := statestore.CheckTransition(from, status); err != nil {
		return err
	}

	ts := nowUTC()
	var errKind, errMessage sql.NullString
	if details != nil {
		errKind = sql.NullString{String: details.ErrorKind, Valid: details.ErrorKind != ""}
		errMessage = sql.NullString{String: details.ErrorMessage, Valid: details.ErrorMessage != ""}
	}

	var startVal any
	if status == statestore.StatusRunning && !startedAt.Valid {
		startVal = ts
	} else if startedAt.Valid {
		startVal = startedAt.Time
	}
	var finishVal any
	if statestore.IsTerminal(status) {
		finishVal = ts
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifact_states (run_id, artifact_id, status, started_at, finished_at, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, artifact_id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message
	`, runID, artifactID, string(status), startVal, finishVal, errKind, errMessage)
	if err != nil {
		return internalErr("mark: upsert artifact state", err)
	}

	if status == statestore.StatusSucceeded {
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET succeeded_count = succeeded_count + 1 WHERE run_id = ?`, runID); err != nil {
			return internalErr("mark: increment succeeded_count", err)
		}
	}
	if status == statestore.StatusFailed {
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET failed_count = failed_count + 1 WHERE run_id = ?`, runID); err != nil {
			return internalErr("mark: increment failed_count", err)
		}
	}

	return tx.Commit()
}

// LoadRun implements statestore.Store.
func (s *Store) LoadRun(ctx context.Context, runID string) (statestore.RunSnapshot, error) {
	run, err := s.scanRun(ctx, runID)
	if err != nil {
		return statestore.RunSnapshot{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, status, started_at, finished_at, error_kind, error_message
		FROM artifact_states WHERE run_id = ?
	`, runID)
	if err != nil {
		return statestore.RunSnapshot{}, internalErr("load_run: query artifact states", err)
	}
	defer rows.Close()

	artifacts := make(map[string]statestore.ArtifactState)
	for rows.Next() {
		var (
			state                statestore.ArtifactState
			startedAt, finishedAt sql.NullTime
			errKind, errMessage   sql.NullString
		)
		state.RunID = runID
		if err := rows.Scan(&state.ArtifactID, &state.Status, &startedAt, &finishedAt, &errKind, &errMessage); err != nil {
			return statestore.RunSnapshot{}, internalErr("load_run: scan artifact state", err)
		}
		if startedAt.Valid {
			t := startedAt.Time
			state.StartedAt = &t
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			state.FinishedAt = &t
		}
		state.ErrorKind = errKind.String
		state.ErrorMessage = errMessage.String
		artifacts[state.ArtifactID] = state
	}
	if err := rows.Err(); err != nil {
		return statestore.RunSnapshot{}, internalErr("load_run: iterate artifact states", err)
	}

	return statestore.RunSnapshot{Run: run, Artifacts: artifacts}, nil
}

// ListRuns implements statestore.Store.
func (s *Store) ListRuns(ctx context.Context, filter statestore.ListFilter) ([]statestore.RunRecord, error) {
	query := `
		SELECT run_id, runbook_hash, started_at, finished_at, overall_status, artifact_count, succeeded_count, failed_count
		FROM runs
	`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE overall_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr("list_runs: query", err)
	}
	defer rows.Close()

	out := []statestore.RunRecord{}
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, internalErr("list_runs: scan", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("list_runs: iterate", err)
	}
	return out, nil
}

// FinalizeRun implements statestore.Store.
func (s *Store) FinalizeRun(ctx context.Context, runID string, overall statestore.RunStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, overall_status = ? WHERE run_id = ?
	`, nowUTC(), string(overall), runID)
	if err != nil {
		return internalErr("finalize_run: update", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return internalErr("finalize_run: rows affected", err)
	}
	if rows == 0 {
		return statestore.ErrRunNotFound(runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(ctx context.Context, runID string) (statestore.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, runbook_hash, started_at, finished_at, overall_status, artifact_count, succeeded_count, failed_count
		FROM runs WHERE run_id = ?
	`, runID)
	run, err := scanRunRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return statestore.RunRecord{}, statestore.ErrRunNotFound(runID)
	}
	if err != nil {
		return statestore.RunRecord{}, internalErr("scan run", err)
	}
	return run, nil
}

func scanRunRow(row rowScanner) (statestore.RunRecord, error) {
	var (
		run        statestore.RunRecord
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&run.RunID, &run.RunbookHash, &run.StartedAt, &finishedAt,
		&run.OverallStatus, &run.ArtifactCount, &run.SucceededCount, &run.FailedCount,
	); err != nil {
		return statestore.RunRecord{}, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func nowUTC() time.Time { return time.Now().UTC() }

func internalErr(message string, cause error) error {
	return waivernerr.New(waivernerr.KindInternal, "sqlitestore: "+message, cause).WithCode(waivernerr.CodeInternal)
}
