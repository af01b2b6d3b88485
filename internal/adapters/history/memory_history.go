package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

// MemoryHistory is an in-memory implementation of the RunRepository interface
type MemoryHistory struct {
	runs        map[string]*core.RunRecord
	mu          sync.RWMutex
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMemoryHistory creates a new in-memory run history. A zero cleanupFreq disables the
// background cleanup task.
func NewMemoryHistory(logger *zap.Logger, retention, cleanupFreq time.Duration) *MemoryHistory {
	h := &MemoryHistory{
		runs:        make(map[string]*core.RunRecord),
		logger:      logger,
		retention:   retention,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go runCleanupTask(h, logger, cleanupFreq, h.stopCh)
	}

	return h
}

// Record stores a copy of the run
func (h *MemoryHistory) Record(ctx context.Context, run *core.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	stored := *run
	h.runs[run.ID] = &stored
	return nil
}

// Recent returns up to limit runs, newest first
func (h *MemoryHistory) Recent(ctx context.Context, limit int) ([]*core.RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	runs := make([]*core.RunRecord, 0, len(h.runs))
	for _, run := range h.runs {
		copied := *run
		runs = append(runs, &copied)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Cleanup removes runs older than the retention window
func (h *MemoryHistory) Cleanup(ctx context.Context) error {
	if h.retention <= 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-h.retention)
	removed := 0
	for id, run := range h.runs {
		if run.StartedAt.Before(cutoff) {
			delete(h.runs, id)
			removed++
		}
	}

	h.logger.Debug("Cleaned up old export runs", zap.Int("removed_count", removed))
	return nil
}

// Close stops the background cleanup task
func (h *MemoryHistory) Close() error {
	h.stopOnce.Do(func() { close(h.stopCh) })
	return nil
}

// cleaner is the part of a repository the cleanup task needs
type cleaner interface {
	Cleanup(ctx context.Context) error
}

// runCleanupTask periodically removes runs past retention until stopCh closes
func runCleanupTask(c cleaner, logger *zap.Logger, freq time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				logger.Error("Failed to clean up run history", zap.Error(err))
			}
		case <-stopCh:
			return
		}
	}
}
