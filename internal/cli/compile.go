package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/demo"
	"github.com/roach88/storeweave/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Models []string
	Output string // output file path
}

// ModelSummary describes one compiled model record.
type ModelSummary struct {
	Namespace     string              `json:"namespace"`
	InitialState  any                 `json:"initial_state"`
	Actions       map[string]string   `json:"actions"`
	Mutations     []string            `json:"mutations"`
	Effects       []EffectSummary     `json:"effects"`
	Callbacks     map[string][]string `json:"callbacks,omitempty"`
	Subscriptions []string            `json:"subscriptions"`
	Enhancers     int                 `json:"enhancers"`
}

// EffectSummary describes one effect handler.
type EffectSummary struct {
	Action   string `json:"action"`
	Policy   string `json:"policy"`
	Interval string `json:"interval,omitempty"`
}

// CompilationResult holds the compiled model summaries.
type CompilationResult struct {
	Models []ModelSummary `json:"models"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [manifest-dir]",
		Short: "Compile model manifests to model records",
		Long: `Compile CUE model manifests into normalized model records.

Every reducer, effect, handler group and subscription reference is bound to
the built-in demo handlers. Without a directory, the demo models are
compiled.

Examples:
  storeweave compile
  storeweave compile ./manifests
  storeweave compile --models counter,todos --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := ModelSource{Demo: opts.Models}
			if len(args) == 1 {
				src.Manifests = args[0]
			}
			return runCompile(opts, src, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Models, "models", nil, "demo models to compile")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the JSON result to a file")

	return cmd
}

func runCompile(opts *CompileOptions, src ModelSource, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	models, errs := src.Load(demo.Config{}, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}

	result := &CompilationResult{Models: make([]ModelSummary, 0, len(models))}
	for _, m := range models {
		formatter.VerboseLog("Compiling model: %s", m.Namespace)
		rec, err := compiler.CompileModel(m, compiler.DefaultOptions())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Models = append(result.Models, Summarize(rec))
	}
	if len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}
	slices.SortFunc(result.Models, func(a, b ModelSummary) int {
		return strings.Compare(a.Namespace, b.Namespace)
	})

	if opts.Output != "" {
		if err := writeJSONFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, compiler.ErrCodeGeneric, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// Summarize flattens a record into its JSON-friendly summary.
func Summarize(rec *ir.ModelRecord) ModelSummary {
	s := ModelSummary{
		Namespace:     rec.Namespace,
		InitialState:  rec.InitialState,
		Actions:       maps.Clone(rec.Actions),
		Mutations:     slices.Sorted(maps.Keys(rec.Mutations)),
		Effects:       []EffectSummary{},
		Subscriptions: slices.Sorted(maps.Keys(rec.Subscriptions)),
		Enhancers:     len(rec.Enhancers),
	}
	if len(rec.Callbacks) > 0 {
		s.Callbacks = maps.Clone(rec.Callbacks)
	}
	for _, action := range slices.Sorted(maps.Keys(rec.Effects)) {
		h := rec.Effects[action]
		es := EffectSummary{Action: action, Policy: string(h.Policy)}
		if h.Interval > 0 {
			es.Interval = h.Interval.String()
		}
		s.Effects = append(s.Effects, es)
	}
	return s
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d model(s)\n\n", len(result.Models))
	for _, m := range result.Models {
		fmt.Fprintf(w, "  %s: %d action(s), %d effect(s), %d subscription(s)",
			m.Namespace, len(m.Actions), len(m.Effects), len(m.Subscriptions))
		if m.Enhancers > 0 {
			fmt.Fprintf(w, ", %d enhancer(s)", m.Enhancers)
		}
		fmt.Fprintln(w)
		for _, e := range m.Effects {
			fmt.Fprintf(w, "    effect %s (%s)\n", e.Action, e.Policy)
		}
	}

	if outputFile != "" {
		fmt.Fprintf(w, "\nWrote model records to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs every compilation error.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		code, message := parseCompileError(err)
		cliErrors[i] = CLIError{Code: code, Message: message}
	}

	if formatter.JSON() {
		if err := formatter.Failure(cliErrors[0].Code, cliErrors[0].Message, cliErrors); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for i, err := range errs {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				compileErr.Pos.Filename(), compileErr.Pos.Line(), compileErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", cliErrors[i].Code, cliErrors[i].Message)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts an error code and message from an error.
func parseCompileError(err error) (string, string) {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.ErrCodeManifest, compileErr.Field + ": " + compileErr.Message
	}
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	if code := ir.CodeOf(err); code != ir.ErrCodeUnknown {
		return string(code), err.Error()
	}
	return compiler.ErrCodeGeneric, err.Error()
}

// writeJSONFile writes v as indented JSON.
func writeJSONFile(v any, filename string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
