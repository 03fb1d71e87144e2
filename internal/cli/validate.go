package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/proctor/internal/scenario"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Filter string
}

// FileValidation is the per-file portion of the validate report.
type FileValidation struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidateReport is the aggregate output of the validate command.
type ValidateReport struct {
	Files   []FileValidation `json:"files"`
	Total   int              `json:"total"`
	Valid   int              `json:"valid"`
	Invalid int              `json:"invalid"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenario-file-or-dir>...",
		Short: "Check scenario files against the schema without running them",
		Long: `Load each scenario file, apply the schema and semantic checks, and
report violations. Nothing is executed.

Examples:
  proctor validate scenarios/
  proctor validate scenarios/op-leak.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func validateScenarios(opts *ValidateOptions, args []string, cmd *cobra.Command) error {
	files, err := collectScenarioFiles(args, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to collect scenarios", err)
	}

	report := ValidateReport{
		Files: make([]FileValidation, 0, len(files)),
		Total: len(files),
	}

	for _, file := range files {
		fv := FileValidation{File: file, Valid: true}
		if _, err := scenario.Load(file); err != nil {
			fv.Valid = false
			fv.Error = err.Error()
			report.Invalid++
		} else {
			report.Valid++
		}
		report.Files = append(report.Files, fv)
	}

	if opts.Format == "json" {
		if err := outputJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, fv := range report.Files {
			if fv.Valid {
				fmt.Fprintf(w, "ok   %s\n", fv.File)
			} else {
				fmt.Fprintf(w, "FAIL %s\n     %s\n", fv.File, indentContinuation(fv.Error))
			}
		}
		fmt.Fprintf(w, "\n%d files: %d valid, %d invalid\n", report.Total, report.Valid, report.Invalid)
	}

	if report.Invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario files invalid", report.Invalid, report.Total))
	}
	return nil
}
