package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

// MySQLHistory is a MySQL implementation of the RunRepository interface
type MySQLHistory struct {
	db          *sql.DB
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMySQLHistory creates a new MySQL run history
func NewMySQLHistory(dsn string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*MySQLHistory, error) {
	dsn, err := withParseTime(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS export_runs (
			id CHAR(36) PRIMARY KEY,
			started_at DATETIME(6) NOT NULL,
			finished_at DATETIME(6) NOT NULL,
			outcome VARCHAR(16) NOT NULL,
			error_kind VARCHAR(64),
			error TEXT,
			artifact_size INT,
			delivered BOOLEAN,
			saved BOOLEAN,
			INDEX idx_started_at (started_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	h := &MySQLHistory{
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

// withParseTime makes the driver return DATETIME columns as time.Time
func withParseTime(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Record stores a run
func (h *MySQLHistory) Record(ctx context.Context, run *core.RunRecord) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO export_runs
			(id, started_at, finished_at, outcome, error_kind, error, artifact_size, delivered, saved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			finished_at = VALUES(finished_at),
			outcome = VALUES(outcome),
			error_kind = VALUES(error_kind),
			error = VALUES(error),
			artifact_size = VALUES(artifact_size),
			delivered = VALUES(delivered),
			saved = VALUES(saved)
	`, run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), string(run.Outcome), run.ErrorKind, run.Error,
		run.ArtifactSize, run.Delivered, run.Saved)

	if err != nil {
		return fmt.Errorf("failed to insert export run: %w", err)
	}

	return nil
}

// Recent returns up to limit runs, newest first
func (h *MySQLHistory) Recent(ctx context.Context, limit int) ([]*core.RunRecord, error) {
	if limit <= 0 {
		limit = 1000
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
		var outcome string
		var errorKind, errorText sql.NullString

		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &outcome, &errorKind, &errorText,
			&run.ArtifactSize, &run.Delivered, &run.Saved); err != nil {
			return nil, fmt.Errorf("failed to scan export run: %w", err)
		}
		run.Outcome = core.RunOutcome(outcome)
		run.ErrorKind = errorKind.String
		run.Error = errorText.String
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// Cleanup removes runs older than the retention window
func (h *MySQLHistory) Cleanup(ctx context.Context) error {
	if h.retention <= 0 {
		return nil
	}

	result, err := h.db.ExecContext(ctx, `
		DELETE FROM export_runs
		WHERE started_at < ?
	`, time.Now().Add(-h.retention).UTC())

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
func (h *MySQLHistory) Close() error {
	var err error
	h.stopOnce.Do(func() {
		close(h.stopCh)
		err = h.db.Close()
	})
	return err
}
