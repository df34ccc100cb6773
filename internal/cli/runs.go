package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/vloop/internal/journal"
)

func newRunsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List journaled runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.Runs()
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-26s  %-8s  %-6s  %-24s  %s\n", "ID", "STATUS", "EVENTS", "STARTED", "SCENARIO")
			fmt.Fprintf(out, "%-26s  %-8s  %-6s  %-24s  %s\n", "--", "------", "------", "-------", "--------")
			for _, r := range runs {
				started := time.UnixMilli(r.StartedAt).UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%-26s  %-8s  %-6d  %-24s  %s\n", r.ID, r.Status, r.Events, started, r.Scenario)
			}
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a journaled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			run, events, err := j.Run(args[0])
			if err != nil {
				return fmt.Errorf("show %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:      %s\n", run.ID)
			fmt.Fprintf(out, "Scenario: %s\n", run.Scenario)
			fmt.Fprintf(out, "Started:  %s\n", time.UnixMilli(run.StartedAt).UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "Status:   %s\n", run.Status)
			if run.Error != "" {
				fmt.Fprintf(out, "Error:    %s\n", run.Error)
			}
			fmt.Fprintf(out, "Rejected: %d\n\n", run.Rejected)
			printTrace(out, events)
			return nil
		},
	}
}

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <run-a> <run-b>",
		Short: "Compare the traces of two journaled runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			_, want, err := j.Run(args[0])
			if err != nil {
				return fmt.Errorf("diff %s: %w", args[0], err)
			}
			_, got, err := j.Run(args[1])
			if err != nil {
				return fmt.Errorf("diff %s: %w", args[1], err)
			}

			if d, ok := journal.Diff(want, got); ok {
				return fmt.Errorf("%w: %s", ErrTracesDiffer, d)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "identical: %d events\n", len(want))
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Remove runs from the journal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			for _, id := range args {
				if err := j.Delete(id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}
