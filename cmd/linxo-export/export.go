package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/core"
	"github.com/mikey/linxo-exporter/internal/di"
	"github.com/mikey/linxo-exporter/internal/factory"
	"github.com/mikey/linxo-exporter/internal/ports"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type exportOptions struct {
	Output  string
	Timeout time.Duration
}

func newExportCmd(flags *di.CLIFlags) *cobra.Command {
	opts := &exportOptions{Timeout: 5 * time.Minute}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Sign in, export the transaction history and hand it to the configured collaborators.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := di.BuildCLIContainer(flags)
			if err != nil {
				return fmt.Errorf("failed to build dependency container: %w", err)
			}
			return container.Invoke(func(
				cfg *config.Config,
				logger *zap.Logger,
				service *core.ExportService,
				history ports.RunRepository,
			) error {
				defer logger.Sync()
				if history != nil {
					defer history.Close()
				}
				return runExport(cmd, opts, cfg, service)
			})
		},
	}

	exportCmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Also write the CSV to this file")
	exportCmd.Flags().DurationVar(&opts.Timeout, "timeout", opts.Timeout, "Upper bound for the whole export")

	return exportCmd
}

func runExport(cmd *cobra.Command, opts *exportOptions, cfg *config.Config, service *core.ExportService) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	report, artifact, err := service.Export(ctx, factory.Credential(cfg))
	if err != nil {
		return err
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, artifact.Data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.Output, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s to %s\n", humanize.Bytes(uint64(artifact.Size())), opts.Output)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
