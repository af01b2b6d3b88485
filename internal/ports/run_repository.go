package ports

import (
	"context"

	"github.com/mikey/linxo-exporter/internal/core"
)

// RunRepository defines the interface for storing export run history
type RunRepository interface {
	// Record inserts or replaces a run
	Record(ctx context.Context, run *core.RunRecord) error

	// Recent returns up to limit runs, newest first
	Recent(ctx context.Context, limit int) ([]*core.RunRecord, error)

	// Cleanup removes runs older than the retention window
	Cleanup(ctx context.Context) error

	// Close stops background cleanup and releases the store
	Close() error
}
