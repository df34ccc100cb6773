// Package cli implements the vloop command tree.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/vloop/internal/config"
	"github.com/snehjoshi/vloop/internal/journal"
	"github.com/snehjoshi/vloop/internal/logging"
)

// app carries the state resolved by the root command before any subcommand
// runs. Each NewRootCmd gets its own, so commands can be executed repeatedly
// in one process.
type app struct {
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root cobra command for the vloop CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "vloop",
		Short: "Deterministic virtual-time loopers",
		Long: `vloop runs YAML scenarios against a registry of virtual-time loopers,
prints the resulting execution trace and optionally journals it so runs can be
compared later.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.flagConfig, "config", "vloop.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&a.flagLogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	root.PersistentFlags().StringVar(&a.flagLogFormat, "log-format", "", "Log format (text, json); overrides config")

	root.AddCommand(
		newRunCmd(a),
		newVerifyCmd(a),
		newRunsCmd(a),
		newShowCmd(a),
		newDiffCmd(a),
		newDeleteCmd(a),
	)

	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.flagLogLevel != "" {
		cfg.Log.Level = a.flagLogLevel
	}
	if a.flagLogFormat != "" {
		cfg.Log.Format = a.flagLogFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openJournal opens the configured journal. Reading commands use the
// configured path even when recording is disabled.
func (a *app) openJournal() (*journal.Journal, error) {
	j, err := journal.Open(a.cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}
