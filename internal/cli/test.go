package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter    string // scenario filter (glob pattern on the file name)
	GoldenDir string // compare traces against <dir>/<name>.golden
	Update    bool   // rewrite golden files instead of comparing
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run every *.yaml scenario in a directory and check its assertions.

With --golden, each scenario's trace is also compared against
<golden-dir>/<name>.golden; --update rewrites those files instead.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  cascade test ./scenarios
  cascade test ./scenarios --filter "rows*"
  cascade test ./scenarios --golden ./golden --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return commandError(f, ErrCodeNotFound, fmt.Errorf("scenarios directory not found: %s", dir))
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return commandError(f, ErrCodeScanError, err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		sr := runOneScenario(cmd.Context(), opts, file)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if f.JSON() {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		writeTestText(f, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

func runOneScenario(ctx context.Context, opts *TestOptions, file string) ScenarioResult {
	sr := ScenarioResult{Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Name = scenario.Name

	res, err := harness.Run(ctx, scenario, harness.WithMaxSteps(opts.Config.MaxSteps))
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Errors = append(sr.Errors, res.Failures...)

	if opts.GoldenDir != "" {
		trace := []byte(harness.FormatTrace(res.Transitions, res.Executions))
		if err := checkGolden(opts.GoldenDir, scenario.Name, trace, opts.Update); err != nil {
			sr.Errors = append(sr.Errors, err.Error())
		}
	}
	sr.Pass = len(sr.Errors) == 0
	return sr
}

// checkGolden compares trace with the stored golden file, or stores it
// when update is set.
func checkGolden(dir, name string, trace []byte, update bool) error {
	path := filepath.Join(dir, name+".golden")
	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, trace, 0o644)
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("golden file: %w", err)
	}
	if !bytes.Equal(want, trace) {
		return fmt.Errorf("trace differs from %s: %s", path, firstDiff(string(want), string(trace)))
	}
	return nil
}

// findScenarioFiles lists *.yaml and *.yml files directly in dir.
func findScenarioFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			ok, err := filepath.Match(filter, name)
			if err != nil {
				return nil, fmt.Errorf("invalid filter: %w", err)
			}
			if !ok {
				continue
			}
		}
		files = append(files, filepath.Join(dir, name))
	}
	return files, nil
}

func writeTestText(f *OutputFormatter, result TestResult) {
	if result.Total == 0 {
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return
	}
	for _, sr := range result.Scenarios {
		if sr.Pass {
			fmt.Fprintf(f.Writer, "✓ %s\n", sr.Name)
			continue
		}
		fmt.Fprintf(f.Writer, "✗ %s\n", sr.Name)
		for _, msg := range sr.Errors {
			fmt.Fprintf(f.Writer, "    %s\n", msg)
		}
	}
	fmt.Fprintf(f.Writer, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
