package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/linxo-exporter/internal/di"
	"github.com/mikey/linxo-exporter/internal/ports"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	server ports.ExportServer,
	mailbox ports.MailboxClient,
	history ports.RunRepository,
) error {
	defer logger.Sync()

	// Start the server
	if err := server.Start(); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	// Stop the server, letting in-flight exports finish
	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop server", zap.Error(err))
	}

	if err := mailbox.Close(); err != nil {
		logger.Error("Failed to close mailbox", zap.Error(err))
	}

	if history != nil {
		if err := history.Close(); err != nil {
			logger.Error("Failed to close run history", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
