package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"coopsched/internal/sched"
)

func newPrioritiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priorities",
		Short: "Show priority levels and their timeouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tt := cfg.SchedulerTimeouts()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LEVEL\tPRIORITY\tTIMEOUT")
			for _, p := range sched.Priorities() {
				fmt.Fprintf(w, "%d\t%s\t%s\n", int(p), p, tt.For(p))
			}
			return w.Flush()
		},
	}
}
