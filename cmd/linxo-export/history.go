package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mikey/linxo-exporter/internal/core"
	"github.com/mikey/linxo-exporter/internal/di"
	"github.com/mikey/linxo-exporter/internal/ports"
	"github.com/spf13/cobra"
)

func newHistoryCmd(flags *di.CLIFlags) *cobra.Command {
	limit := 20

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent export runs from the run history.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := di.BuildCLIContainer(flags)
			if err != nil {
				return fmt.Errorf("failed to build dependency container: %w", err)
			}
			return container.Invoke(func(history ports.RunRepository) error {
				if history == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Run history is disabled")
					return nil
				}
				defer history.Close()

				runs, err := history.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", limit, "Number of runs to show, 0 for all")

	return historyCmd
}

func printRuns(out io.Writer, runs []*core.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No export runs recorded")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tOUTCOME\tSIZE\tDELIVERED\tSAVED\tERROR")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
			run.ID,
			humanize.Time(run.StartedAt),
			run.Outcome,
			humanize.Bytes(uint64(run.ArtifactSize)),
			run.Delivered,
			run.Saved,
			run.ErrorKind)
	}
	return w.Flush()
}
