package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

// timestampLayout is fixed width so text order matches time order
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteHistory is a SQLite implementation of the RunRepository interface
type SQLiteHistory struct {
	db          *sql.DB
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewSQLiteHistory creates a new SQLite run history
func NewSQLiteHistory(dbPath string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS export_runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error_kind TEXT,
			error TEXT,
			artifact_size INTEGER,
			delivered BOOLEAN,
			saved BOOLEAN
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_started_at ON export_runs(started_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	h := &SQLiteHistory{
		db:          db,
		logger:      logger,
		retention:   retention,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go runCleanupTask(h, logger, cleanupFreq, h.stopCh)
	}

	return h, nil
}

// Record stores a run
func (h *SQLiteHistory) Record(ctx context.Context, run *core.RunRecord) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO export_runs
			(id, started_at, finished_at, outcome, error_kind, error, artifact_size, delivered, saved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID,
		run.StartedAt.UTC().Format(timestampLayout),
		run.FinishedAt.UTC().Format(timestampLayout),
		string(run.Outcome), run.ErrorKind, run.Error, run.ArtifactSize, run.Delivered, run.Saved)

	if err != nil {
		return fmt.Errorf("failed to insert export run: %w", err)
	}

	return nil
}

// Recent returns up to limit runs, newest first
func (h *SQLiteHistory) Recent(ctx context.Context, limit int) ([]*core.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, outcome, error_kind, error, artifact_size, delivered, saved
		FROM export_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query export runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.RunRecord
	for rows.Next() {
		var run core.RunRecord
		var startedAt, finishedAt, outcome string
		var errorKind, errorText sql.NullString

		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &outcome, &errorKind, &errorText,
			&run.ArtifactSize, &run.Delivered, &run.Saved); err != nil {
			return nil, fmt.Errorf("failed to scan export run: %w", err)
		}

		if run.StartedAt, err = time.Parse(timestampLayout, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
		}
		if run.FinishedAt, err = time.Parse(timestampLayout, finishedAt); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at timestamp: %w", err)
		}
		run.Outcome = core.RunOutcome(outcome)
		run.ErrorKind = errorKind.String
		run.Error = errorText.String
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// Cleanup removes runs older than the retention window
func (h *SQLiteHistory) Cleanup(ctx context.Context) error {
	if h.retention <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-h.retention).UTC().Format(timestampLayout)
	result, err := h.db.ExecContext(ctx, `
		DELETE FROM export_runs
		WHERE started_at < ?
	`, cutoff)

	if err != nil {
		return fmt.Errorf("failed to clean up old export runs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		h.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		h.logger.Debug("Cleaned up old export runs", zap.Int64("removed_count", rowsAffected))
	}

	return nil
}

// Close stops the background cleanup task and closes the database connection
func (h *SQLiteHistory) Close() error {
	var err error
	h.stopOnce.Do(func() {
		close(h.stopCh)
		err = h.db.Close()
	})
	return err
}
