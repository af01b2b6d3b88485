package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/linxo-exporter/internal/adapters/history"
	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/ports"
	"go.uber.org/zap"
)

// HistoryFactory creates run history repositories based on configuration
type HistoryFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewHistoryFactory creates a new history factory
func NewHistoryFactory(cfg *config.Config, logger *zap.Logger) *HistoryFactory {
	return &HistoryFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRunRepository creates a run repository based on the configuration. It returns
// nil when history is disabled.
func (f *HistoryFactory) CreateRunRepository() (ports.RunRepository, error) {
	hc, err := f.cfg.GetHistory()
	if err != nil {
		return nil, fmt.Errorf("invalid history configuration: %w", err)
	}
	if !hc.Enabled {
		f.logger.Info("Run history disabled")
		return nil, nil
	}

	switch hc.Type {
	case "memory":
		return history.NewMemoryHistory(f.logger, hc.Retention, hc.CleanupFrequency), nil
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(hc.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return history.NewSQLiteHistory(hc.SQLitePath, f.logger, hc.Retention, hc.CleanupFrequency)
	case "mysql":
		return history.NewMySQLHistory(hc.MySQLDSN, f.logger, hc.Retention, hc.CleanupFrequency)
	default:
		return nil, fmt.Errorf("unsupported history type: %s", hc.Type)
	}
}
