package stores

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

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/stagecraft/stagecraft/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// JournalConfig holds SQLite journal configuration.
type JournalConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteJournal implements engine.Journal on SQLite. The journal records
// run history for review; it is never load-bearing for resume, so callers
// treat write failures as warnings.
type SQLiteJournal struct {
	db  *sql.DB
	cfg JournalConfig
}

// NewSQLiteJournal creates a journal instance. Call Init and Migrate
// before use.
func NewSQLiteJournal(cfg JournalConfig) (*SQLiteJournal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteJournal{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (j *SQLiteJournal) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", j.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open journal database: %w", err)
	}

	db.SetMaxOpenConns(j.cfg.MaxOpenConns)
	db.SetMaxIdleConns(j.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(j.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping journal database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	j.db = db
	return nil
}

// Migrate applies the embedded schema migrations.
func (j *SQLiteJournal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("journal database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// HealthCheck verifies the database is reachable.
func (j *SQLiteJournal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("journal database not initialized")
	}
	return j.db.PingContext(ctx)
}

// StartRun inserts a run in the running state.
func (j *SQLiteJournal) StartRun(ctx context.Context, rec *engine.RunRecord) error {
	query := `
		INSERT INTO runs (id, mode, start_phase, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, query,
		rec.ID,
		rec.Mode,
		rec.StartPhase,
		string(rec.Status),
		rec.Error,
		startedAt,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal with its final status.
func (j *SQLiteJournal) FinishRun(ctx context.Context, runID string, status engine.RunStatus, errMsg string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := j.db.ExecContext(ctx, query, string(status), errMsg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// RecordPhaseEvent appends one event to a run's timeline.
func (j *SQLiteJournal) RecordPhaseEvent(ctx context.Context, ev *engine.PhaseEvent) error {
	query := `
		INSERT INTO phase_events (run_id, ordinal, phase_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, query,
		ev.RunID,
		ev.Ordinal,
		ev.PhaseID,
		string(ev.Action),
		ev.Detail,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record phase event: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (j *SQLiteJournal) ListRuns(ctx context.Context, limit int) ([]*engine.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, mode, start_phase, status, error, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run by ID.
func (j *SQLiteJournal) GetRun(ctx context.Context, runID string) (*engine.RunRecord, error) {
	query := `
		SELECT id, mode, start_phase, status, error, started_at, completed_at
		FROM runs
		WHERE id = ?
	`

	rec, err := scanRun(j.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPhaseEvents returns a run's events in insertion order.
func (j *SQLiteJournal) ListPhaseEvents(ctx context.Context, runID string) ([]*engine.PhaseEvent, error) {
	query := `
		SELECT id, run_id, ordinal, phase_id, action, detail, created_at
		FROM phase_events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := j.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase events: %w", err)
	}
	defer rows.Close()

	events := []*engine.PhaseEvent{}
	for rows.Next() {
		ev := &engine.PhaseEvent{}
		var action string
		var createdAt time.Time
		if err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.Ordinal,
			&ev.PhaseID,
			&action,
			&ev.Detail,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan phase event: %w", err)
		}
		ev.Action = engine.PhaseEventAction(action)
		ev.CreatedAt = createdAt
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase events: %w", err)
	}
	return events, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*engine.RunRecord, error) {
	rec := &engine.RunRecord{}
	var status string
	var completedAt sql.NullTime

	if err := row.Scan(
		&rec.ID,
		&rec.Mode,
		&rec.StartPhase,
		&status,
		&rec.Error,
		&rec.StartedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	rec.Status = engine.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}
