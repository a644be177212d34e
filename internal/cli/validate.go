package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/compiler"
	"github.com/roach88/cascade/internal/graph"
	"github.com/roach88/cascade/internal/ir"
)

// ValidationResult is the validate command's report.
type ValidationResult struct {
	Valid     bool                    `json:"valid"`
	Files     int                     `json:"files"`
	Callbacks int                     `json:"callbacks"`
	GraphHash string                  `json:"graph_hash,omitempty"`
	Errors    []graph.ValidationError `json:"errors,omitempty"`
	Cycle     []string                `json:"cycle,omitempty"`
	Line      int                     `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs>",
		Short: "Validate callback declarations",
		Long: `Compile CUE callback declarations and check them.

Reports every malformed declaration (duplicate or overlapping outputs,
misplaced wildcards, unbound MATCH keys) and any circular dependency
between declared endpoints. <specs> is a .cue file or a directory.

Example:
  cascade validate ./callbacks
  cascade validate ./callbacks/app.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	loaded, err := LoadSpecs(path)
	if err != nil {
		code := loadErrorCode(err)
		if code != ErrCodeCompile {
			return commandError(f, code, err)
		}
		result := ValidationResult{}
		var ce *compiler.CompileError
		if errors.As(err, &ce) && ce.Pos.IsValid() {
			result.Line = ce.Pos.Line()
		}
		return validationFailed(f, code, err.Error(), result)
	}
	f.VerboseLog("compiled %d callback(s) from %d file(s)", len(loaded.Specs), len(loaded.Files))

	result := ValidationResult{Files: len(loaded.Files), Callbacks: len(loaded.Specs)}
	g, err := graph.Build(loaded.Specs)
	if err != nil {
		var verrs *graph.ValidationErrors
		if !errors.As(err, &verrs) {
			return commandError(f, ErrCodeGeneric, err)
		}
		for _, ve := range verrs.Errors {
			result.Errors = append(result.Errors, *ve)
		}
		first := verrs.Errors[0]
		return validationFailed(f, first.Code, first.Message, result)
	}

	if err := g.CheckAcyclic(); err != nil {
		var ce *graph.CycleError
		if errors.As(err, &ce) {
			result.Cycle = ce.Path
		}
		return validationFailed(f, ErrCodeCycle, err.Error(), result)
	}

	result.Valid = true
	result.GraphHash, err = ir.GraphHash(loaded.Specs)
	if err != nil {
		return commandError(f, ErrCodeGeneric, err)
	}

	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "✓ %d callback(s) valid\n", result.Callbacks)
	fmt.Fprintf(f.Writer, "  graph %s\n", result.GraphHash)
	return nil
}

// validationFailed reports invalid declarations (exit code 1).
func validationFailed(f *OutputFormatter, code, message string, result ValidationResult) error {
	if f.JSON() {
		if err := f.Failure(code, message, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, "✗ Validation failed")
		switch {
		case len(result.Errors) > 0:
			for _, ve := range result.Errors {
				fmt.Fprintf(f.Writer, "  %s: %s: %s: %s\n", ve.Code, ve.Callback, ve.Field, ve.Message)
			}
		default:
			if result.Line > 0 {
				fmt.Fprintf(f.Writer, "line %d\n", result.Line)
			}
			fmt.Fprintf(f.Writer, "  %s: %s\n", code, message)
		}
	}

	n := len(result.Errors)
	if n == 0 {
		n = 1
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", n))
}
