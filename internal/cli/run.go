package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/proctor/internal/scenario"
	"github.com/roach88/proctor/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Filter   string
}

// ScenarioResult is the per-scenario portion of the run report.
type ScenarioResult struct {
	Name   string                `json:"name"`
	File   string                `json:"file"`
	Pass   bool                  `json:"pass"`
	Errors []string              `json:"errors,omitempty"`
	Tests  []scenario.TestResult `json:"tests,omitempty"`
}

// RunReport is the aggregate output of the run command.
type RunReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file-or-dir>...",
		Short: "Execute scenario files against the simulated runtime",
		Long: `Execute one or more scenario files and report per-test outcomes
against their expect clauses.

Each argument may be a single YAML file or a directory, which is walked
recursively for .yaml/.yml files.

Examples:
  proctor run scenarios/
  proctor run scenarios/op-leak.yaml --format json
  proctor run scenarios/ --db ./proctor.db --filter 'leak-*'`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for event log persistence")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runScenarios(opts *RunOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	files, err := collectScenarioFiles(args, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to collect scenarios", err)
	}

	var eventLog *store.Store
	if opts.Database != "" {
		eventLog, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer eventLog.Close()
	}

	report := RunReport{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}

	for _, file := range files {
		res := runOneScenario(ctx, file, eventLog)
		report.Scenarios = append(report.Scenarios, res)
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if opts.Format == "json" {
		if err := outputJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printRunReport(cmd, opts, report)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total))
	}
	return nil
}

func runOneScenario(ctx context.Context, file string, eventLog *store.Store) ScenarioResult {
	sc, err := scenario.Load(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			File:   file,
			Pass:   false,
			Errors: []string{fmt.Sprintf("load: %v", err)},
		}
	}

	var runOpts []scenario.RunOption
	if eventLog != nil {
		runOpts = append(runOpts, scenario.WithEventLog(eventLog))
	}

	result, err := scenario.Run(ctx, sc, runOpts...)
	if err != nil {
		return ScenarioResult{
			Name:   sc.Name,
			File:   file,
			Pass:   false,
			Errors: []string{fmt.Sprintf("execution: %v", err)},
		}
	}

	return ScenarioResult{
		Name:   sc.Name,
		File:   file,
		Pass:   result.Pass,
		Errors: result.Errors,
		Tests:  result.Tests,
	}
}

func printRunReport(cmd *cobra.Command, opts *RunOptions, report RunReport) {
	w := cmd.OutOrStdout()

	if report.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, res := range report.Scenarios {
		if res.Pass {
			fmt.Fprintf(w, "ok   %s\n", res.Name)
		} else {
			fmt.Fprintf(w, "FAIL %s (%s)\n", res.Name, res.File)
			for _, e := range res.Errors {
				fmt.Fprintf(w, "     %s\n", indentContinuation(e))
			}
		}
		if opts.Verbose {
			for _, tr := range res.Tests {
				fmt.Fprintf(w, "     %-8s %s (%dms)\n", tr.Outcome, tr.Name, tr.ElapsedMs)
			}
		}
	}
	fmt.Fprintf(w, "\n%d scenarios: %d passed, %d failed\n", report.Total, report.Passed, report.Failed)
}

// indentContinuation keeps multi-line error messages aligned under the
// scenario entry.
func indentContinuation(msg string) string {
	return strings.ReplaceAll(msg, "\n", "\n     ")
}

// collectScenarioFiles expands the argument list into scenario file paths.
// Directories are walked recursively; non-YAML files are skipped.
func collectScenarioFiles(args []string, filter string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}
			if filter != "" {
				name := strings.TrimSuffix(filepath.Base(path), ext)
				matched, err := filepath.Match(filter, name)
				if err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
				if !matched {
					return nil
				}
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
