package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/demo"
	"github.com/roach88/storeweave/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Models int                        `json:"models"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest-dir>",
		Short: "Validate model manifests",
		Long: `Validate CUE model manifests without running them.

Every manifest is compiled with construction-time checks enabled, then the
compiled records are checked against the runtime's structural invariants
(namespaced keys, reserved names, dangling action creators and callbacks,
effect policies). All errors are reported, not only the first.

Exit codes:
  0 - All manifests valid
  1 - Validation errors found
  2 - Command error (directory not found, CUE syntax error)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result, loadErrs := compiler.LoadManifests(dir, demo.Bindings(demo.Config{}), compiler.LoadModeCollectAll)
	if result == nil {
		code, message := parseCompileError(loadErrs[0])
		return outputValidateError(formatter, code, message)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrs {
		validationErrors = append(validationErrors, toValidationError("manifest", err))
	}
	validationErrors = append(validationErrors, validateModels(result.Models, formatter)...)

	if len(result.Models) == 0 && len(validationErrors) == 0 {
		validationErrors = append(validationErrors, compiler.ValidationError{
			Field:   "manifests",
			Message: "no models found in manifests",
			Code:    compiler.ErrCodeGeneric,
		})
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, len(result.Models), validationErrors)
	}
	return outputValidateSuccess(formatter, len(result.Models))
}

// validateModels compiles each model with validation on and checks the
// resulting record.
func validateModels(models []ir.Model, formatter *OutputFormatter) []compiler.ValidationError {
	var all []compiler.ValidationError
	seen := make(map[string]bool, len(models))

	for _, m := range models {
		formatter.VerboseLog("Validating model: %s", m.Namespace)

		rec, err := compiler.CompileModel(m, compiler.Options{Validate: true})
		if err != nil {
			all = append(all, toValidationError("model."+m.Namespace, err))
			continue
		}
		if seen[rec.Namespace] {
			all = append(all, toValidationError("model."+rec.Namespace,
				&ir.DuplicateNamespaceError{Namespace: rec.Namespace}))
			continue
		}
		seen[rec.Namespace] = true
		all = append(all, compiler.Validate(rec)...)
	}
	return all
}

// toValidationError converts a compile or registration error.
func toValidationError(field string, err error) compiler.ValidationError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.ValidationError{Field: compileErr.Field, Message: compileErr.Message, Code: compiler.ErrCodeManifest}
	}
	code, message := parseCompileError(err)
	return compiler.ValidationError{Field: field, Message: message, Code: code}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, models int) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Models: models})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d model(s) valid\n", models)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, models int, errs []compiler.ValidationError) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		result := ValidationResult{Valid: false, Models: models, Errors: errs}
		if err := formatter.Failure(errs[0].Code, errs[0].Message, result); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}
	return failed
}
