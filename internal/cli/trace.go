package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/proctor/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Run      string
}

// TraceReport holds the trace command's output: either the run listing or
// one run's event timeline.
type TraceReport struct {
	Runs   []string       `json:"runs,omitempty"`
	Run    string         `json:"run,omitempty"`
	Events []store.Record `json:"events,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect persisted event logs",
		Long: `Read the persisted event log written by 'run --db'.

Without --run, lists the run ids present in the database. With --run,
prints that run's event timeline in dispatch order.

Examples:
  proctor trace --db ./proctor.db
  proctor trace --db ./proctor.db --run op-leak
  proctor trace --db ./proctor.db --run op-leak --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run id to trace")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Run == "" {
		return listRuns(ctx, st, opts, cmd)
	}
	return traceRun(ctx, st, opts, cmd)
}

func listRuns(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	runs, err := st.RunIDs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if opts.Format == "json" {
		return outputJSON(cmd.OutOrStdout(), TraceReport{Runs: runs})
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, id := range runs {
		fmt.Fprintln(w, id)
	}
	return nil
}

func traceRun(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	events, err := st.ReadRun(ctx, opts.Run)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	if len(events) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("run %q not found", opts.Run))
	}

	if opts.Format == "json" {
		return outputJSON(cmd.OutOrStdout(), TraceReport{Run: opts.Run, Events: events})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s (%d events)\n", opts.Run, len(events))
	for _, rec := range events {
		line := fmt.Sprintf("%4d  %-12s", rec.Seq, rec.Type)
		if rec.NodeID != 0 {
			line += fmt.Sprintf("  node=%d", rec.NodeID)
		}
		if rec.Outcome != "" {
			line += fmt.Sprintf("  outcome=%s", rec.Outcome)
		}
		if rec.FailureKind != "" {
			line += fmt.Sprintf("  failure=%s", rec.FailureKind)
		}
		if rec.ElapsedMs != 0 {
			line += fmt.Sprintf("  elapsed=%dms", rec.ElapsedMs)
		}
		fmt.Fprintln(w, line)
		if opts.Verbose && rec.Message != "" {
			fmt.Fprintf(w, "      %s\n", indentContinuation(rec.Message))
		}
	}
	return nil
}
