package main

import (
	"fmt"
	"os"

	"github.com/mikey/linxo-exporter/internal/di"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	flags := &di.CLIFlags{}

	rootCmd := &cobra.Command{
		Use:           "linxo-export",
		Short:         "Export the Linxo transaction history from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.ConfigFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")

	rootCmd.AddCommand(newExportCmd(flags))
	rootCmd.AddCommand(newCheckEnvCmd(flags))
	rootCmd.AddCommand(newHistoryCmd(flags))

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
