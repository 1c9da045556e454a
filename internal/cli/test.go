package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlidb/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string
}

// ScenarioOutcome is the verdict on one scenario file.
type ScenarioOutcome struct {
	Name    string   `json:"name"`
	Pass    bool     `json:"pass"`
	Updated bool     `json:"updated,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// TestSummary is the output of the test command.
type TestSummary struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

func (s *TestSummary) record(o ScenarioOutcome) {
	s.Scenarios = append(s.Scenarios, o)
	s.Total++
	if o.Pass {
		s.Passed++
	} else {
		s.Failed++
	}
}

func (s *TestSummary) String() string {
	if s.Total == 0 {
		return "No scenarios found."
	}
	var b strings.Builder
	for _, o := range s.Scenarios {
		switch {
		case !o.Pass:
			fmt.Fprintf(&b, "✗ %s\n", o.Name)
			for _, e := range o.Errors {
				fmt.Fprintf(&b, "  %s\n", e)
			}
		case o.Updated:
			fmt.Fprintf(&b, "✓ %s (golden updated)\n", o.Name)
		default:
			fmt.Fprintf(&b, "✓ %s\n", o.Name)
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d total", s.Passed, s.Failed, s.Total)
	return b.String()
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario files against in-memory databases",
		Long: `Run every YAML scenario under a directory, each against a fresh
in-memory database. A scenario passes when its step expectations and
assertions hold and its trace matches golden/<file>.golden, if present.

Exits 1 when any scenario fails and 2 when the directory is unusable.`,
		Example: `  sqlidb test ./scenarios
  sqlidb test ./scenarios --filter "people*"
  sqlidb test ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current traces")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")
	return cmd
}

func runTest(cmd *cobra.Command, opts *TestOptions, dir string) error {
	out := newFormatter(opts.RootOptions, cmd)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return out.Fail(ExitCommandError, ErrCodeScenarioPaths, fmt.Sprintf("scenarios directory not found: %s", dir), nil)
	}
	files, err := collectScenarios(dir, opts.Filter)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeScenarioPaths, err.Error(), nil)
	}

	summary := &TestSummary{Scenarios: []ScenarioOutcome{}}
	for _, file := range files {
		summary.record(checkScenario(cmd, file, opts.Update))
	}
	if err := out.Success(summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}
	return nil
}

// collectScenarios returns the .yaml and .yml files under dir in lexical
// order, keeping those whose base name (sans extension) matches filter.
func collectScenarios(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", filter, err)
		}
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	slices.Sort(files)
	return files, err
}

func checkScenario(cmd *cobra.Command, file string, update bool) ScenarioOutcome {
	failed := func(name, format string, args ...any) ScenarioOutcome {
		return ScenarioOutcome{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	s, err := harness.LoadScenario(file)
	if err != nil {
		return failed(filepath.Base(file), "failed to load scenario: %v", err)
	}
	res, err := harness.Run(cmd.Context(), s)
	if err != nil {
		return failed(s.Name, "execution failed: %v", err)
	}
	trace := harness.FormatTrace(s.Name, res.Trace)

	golden := goldenPath(file)
	if update {
		if err := os.MkdirAll(filepath.Dir(golden), 0o755); err != nil {
			return failed(s.Name, "failed to update golden file: %v", err)
		}
		if err := os.WriteFile(golden, trace, 0o644); err != nil {
			return failed(s.Name, "failed to update golden file: %v", err)
		}
		return ScenarioOutcome{Name: s.Name, Pass: true, Updated: true}
	}

	want, err := os.ReadFile(golden)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return failed(s.Name, "failed to read golden file: %v", err)
	case !bytes.Equal(want, trace):
		return failed(s.Name, "trace does not match golden file (run with --update to regenerate)")
	}

	if !res.Pass {
		return ScenarioOutcome{Name: s.Name, Errors: res.Errors}
	}
	return ScenarioOutcome{Name: s.Name, Pass: true}
}

// goldenPath maps dir/x.yaml to dir/golden/x.golden.
func goldenPath(file string) string {
	base := filepath.Base(file)
	return filepath.Join(filepath.Dir(file), "golden", strings.TrimSuffix(base, filepath.Ext(base))+".golden")
}
