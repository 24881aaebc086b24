package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"coopsched/internal/host"
	"coopsched/internal/job"
	"coopsched/internal/scenario"
	"coopsched/internal/sched"
	"coopsched/internal/syncq"
	"coopsched/internal/trace"
)

func newRunCmd() *cobra.Command {
	var (
		simulated bool
		traceCSV  string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run SCENARIO",
		Short: "Play a scenario file and report the completion order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			if traceCSV == "" {
				traceCSV = cfg.TraceCSV
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return runScenario(ctx, cmd.OutOrStdout(), sc, simulated, traceCSV)
		},
	}

	cmd.Flags().BoolVar(&simulated, "simulated", false, "Run on a virtual clock instead of real time")
	cmd.Flags().StringVar(&traceCSV, "trace-csv", "", "Write scheduler events to this CSV file")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Give up on a real-time run after this long")
	return cmd
}

func runScenario(ctx context.Context, out io.Writer, sc *scenario.Scenario, simulated bool, traceCSV string) error {
	runID := "run_" + uuid.New().String()
	log := logger.With("run_id", runID, "scenario", sc.Name)

	buf := trace.NewBuffer(cfg.TraceBuffer)
	recorders := trace.Multi{buf, trace.NewLog(log, slog.LevelDebug, false)}
	if traceCSV != "" {
		csvRec, err := trace.CreateCSV(traceCSV)
		if err != nil {
			return err
		}
		defer func() {
			if err := csvRec.Close(); err != nil {
				log.Error("close trace", "path", traceCSV, "error", err)
			}
		}()
		recorders = append(recorders, csvRec)
	}
	opts := []sched.Option{
		sched.WithLogger(log),
		sched.WithRecorder(recorders),
		sched.WithTimeouts(cfg.SchedulerTimeouts()),
	}

	log.Info("scenario started", "tasks", len(sc.Tasks), "simulated", simulated)

	var run *scenario.Run
	if simulated {
		h := host.NewSimHost()
		if err := h.ForceFrameRate(cfg.FrameRate); err != nil {
			return err
		}
		s := sched.New(h, opts...)
		run = sc.Apply(s, syncq.New(s), h.Advance)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := h.RunUntilIdle()
			if err == nil {
				break
			}
			log.Warn("task failed", "error", err)
		}
	} else {
		h := host.NewLoopHost(256,
			host.WithLoopLogger(log),
			host.WithErrorHandler(func(err error) {
				log.Warn("task failed", "error", err)
			}),
		)
		if err := h.ForceFrameRate(cfg.FrameRate); err != nil {
			return err
		}
		s := sched.New(h, opts...)
		run = sc.Apply(s, syncq.New(s), job.Spin(h.Now))
		if err := h.Drain(ctx); err != nil {
			return fmt.Errorf("run scenario: %w", err)
		}
	}

	log.Info("scenario finished", "completed", len(run.Completed), "failed", len(run.Errors))
	return report(out, run, buf)
}

func report(out io.Writer, run *scenario.Run, buf *trace.Buffer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTASK\tPRIORITY\tFINISHED\tSLICES")
	for i, o := range run.Completed {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", i+1, o.Name, o.Priority, o.Finished.Round(time.Microsecond), o.Slices)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, name := range run.Cancelled {
		fmt.Fprintf(out, "cancelled: %s\n", name)
	}
	for _, err := range run.Errors {
		fmt.Fprintf(out, "failed: %v\n", err)
	}

	yields := 0
	for _, ev := range buf.Events() {
		if ev.Kind == sched.EventTaskYield {
			yields++
		}
	}
	fmt.Fprintf(out, "yields: %d\n", yields)
	return nil
}
