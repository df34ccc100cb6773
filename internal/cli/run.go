package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/vloop/internal/journal"
	"github.com/snehjoshi/vloop/internal/logging"
	"github.com/snehjoshi/vloop/internal/metrics"
	"github.com/snehjoshi/vloop/internal/scenario"
	"github.com/snehjoshi/vloop/internal/types"
)

// ErrTracesDiffer is returned by verify and diff when two traces diverge.
var ErrTracesDiffer = errors.New("traces differ")

func newRunCmd(a *app) *cobra.Command {
	var noJournal bool

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print its execution trace",
		Long: `Runs the scenario against a fresh looper registry and prints every task
execution in order. The run is recorded in the journal when journal.enabled is
set, and counters are printed when metrics.enabled is set. A failed run is still
printed and recorded before the error is returned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}

			var reg *metrics.Registry
			if a.cfg.Metrics.Enabled {
				reg = &metrics.Registry{}
			}

			started := time.Now().UTC()
			res, runErr := a.runner(reg).Run(cmd.Context(), sc)

			out := cmd.OutOrStdout()
			printTrace(out, res.Events)
			fmt.Fprintf(out, "\n%d events, %d rejected posts\n", len(res.Events), res.Rejected)

			if a.cfg.Journal.Enabled && !noJournal {
				run := types.Run{
					Scenario:  sc.Name,
					StartedAt: started.UnixMilli(),
					Rejected:  res.Rejected,
				}
				if runErr != nil {
					run.Status = types.StatusFailed
					run.Error = runErr.Error()
				}
				stored, err := a.record(run, res.Events)
				if err != nil {
					return errors.Join(runErr, err)
				}
				fmt.Fprintf(out, "recorded run %s\n", stored.ID)
			}

			if reg != nil {
				fmt.Fprintln(out)
				if _, err := reg.WriteTo(out); err != nil {
					return errors.Join(runErr, fmt.Errorf("write metrics: %w", err))
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "Do not record this run even if the journal is enabled")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var times int

	cmd := &cobra.Command{
		Use:   "verify <scenario.yaml>",
		Short: "Run a scenario repeatedly and fail if any trace differs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if times < 2 {
				return fmt.Errorf("--times must be at least 2, got %d", times)
			}
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}

			var first []types.Event
			for i := 1; i <= times; i++ {
				res, err := a.runner(nil).Run(cmd.Context(), sc)
				if err != nil {
					return fmt.Errorf("run %d: %w", i, err)
				}
				if i == 1 {
					first = res.Events
					continue
				}
				if d, ok := journal.Diff(first, res.Events); ok {
					return fmt.Errorf("%w: run %d differs from run 1 at %s", ErrTracesDiffer, i, d)
				}
			}

			a.logger.Debug("scenario verified", "scenario", sc.Name, "runs", times)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d runs, %d events each, identical\n", sc.Name, times, len(first))
			return nil
		},
	}

	cmd.Flags().IntVar(&times, "times", 5, "Number of runs to compare")
	return cmd
}

func (a *app) runner(reg *metrics.Registry) *scenario.Runner {
	opts := []scenario.Option{
		scenario.WithMainThread(a.cfg.Looper.MainThread),
		scenario.WithMainIdleConstantly(a.cfg.Looper.IdleConstantly),
		scenario.WithLogger(logging.Component(a.logger, "scenario")),
	}
	if reg != nil {
		opts = append(opts, scenario.WithMetrics(reg))
	}
	return scenario.NewRunner(opts...)
}

func (a *app) record(run types.Run, events []types.Event) (types.Run, error) {
	j, err := a.openJournal()
	if err != nil {
		return types.Run{}, err
	}
	defer j.Close()

	stored, err := j.Record(run, events)
	if err != nil {
		return types.Run{}, err
	}
	a.logger.Debug("run recorded", "run_id", stored.ID, "events", stored.Events)
	return stored, nil
}

func printTrace(w io.Writer, events []types.Event) {
	fmt.Fprintf(w, "%-6s  %-12s  %-16s  %s\n", "SEQ", "AT", "THREAD", "LABEL")
	fmt.Fprintf(w, "%-6s  %-12s  %-16s  %s\n", "---", "--", "------", "-----")
	for _, ev := range events {
		fmt.Fprintf(w, "%-6d  %-12s  %-16s  %s\n", ev.Seq, ev.At, ev.Thread, ev.Label)
	}
}
