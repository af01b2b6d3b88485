package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/logging"
)

// CLIFlags contains the global flags of the one-shot CLI
type CLIFlags struct {
	ConfigFile string
	Verbose    bool
	JSONLog    bool
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.NewFromFile(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}
		return config.New()
	}); err != nil {
		return nil, err
	}

	if err := provideExportPipeline(container); err != nil {
		return nil, err
	}

	return container, nil
}
