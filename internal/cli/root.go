// Package cli implements the coopsched command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"coopsched/internal/logging"
	"coopsched/internal/sched"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    sched.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the coopsched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coopsched",
		Short: "Cooperative priority task scheduler",
		Long:  "coopsched plays task scenarios on a cooperative, deadline-ordered scheduler.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = sched.Load(flagConfig)
			if err != nil {
				return err
			}
			level, format := cfg.LogLevel, cfg.LogFormat
			if cmd.Flags().Changed("log-level") {
				level = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				format = flagLogFormat
			}
			if flagDebug {
				level = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(level), format)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "config.yml", "Scheduler config file (YAML)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newPrioritiesCmd(),
	)

	return root
}
