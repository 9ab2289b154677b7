package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/storeweave/internal/harness"
	"github.com/roach88/storeweave/internal/ir"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	Models  []string
	Payload string
	WaitFor string
	Timeout string
}

// DispatchResult is the outcome of a one-off dispatch.
type DispatchResult struct {
	Trace      []harness.TraceEvent `json:"trace"`
	State      map[string]any       `json:"state"`
	Warnings   []string             `json:"warnings,omitempty"`
	ErrorCodes []string             `json:"error_codes"`
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch <action-type>",
		Short: "Dispatch one action against fresh demo models",
		Long: `Start a fresh app with demo models, dispatch one action and print the
resulting trace and state.

Effects triggered by the action keep running until the app is closed; use
--wait-for to wait for an action they put.

Examples:
  storeweave dispatch counter/add --payload '{"by":2}'
  storeweave dispatch todos/fetch --payload '{"count":2}' --wait-for todos/fetchSucceed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchOnce(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Models, "models", nil, "demo models to register (default: the action's namespace)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "action payload as JSON")
	cmd.Flags().StringVar(&opts.WaitFor, "wait-for", "", "wait until this action type is reduced")
	cmd.Flags().StringVar(&opts.Timeout, "timeout", "2s", "wait-for timeout")

	return cmd
}

func dispatchOnce(opts *DispatchOptions, actionType string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	step := harness.Step{Dispatch: actionType}
	if opts.Payload != "" {
		if err := json.Unmarshal([]byte(opts.Payload), &step.Payload); err != nil {
			return WrapExitError(ExitCommandError, "payload is not JSON", err)
		}
	}

	models := opts.Models
	if len(models) == 0 {
		ns, _, ok := ir.SplitType(actionType)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("action type %q has no namespace", actionType))
		}
		models = []string{ns}
	}

	scenario := &harness.Scenario{
		Name:        "dispatch",
		Description: "one-off dispatch of " + actionType,
		Models:      models,
		Timeout:     opts.Timeout,
		Steps:       []harness.Step{step},
	}
	if opts.WaitFor != "" {
		scenario.Steps = append(scenario.Steps, harness.Step{WaitFor: opts.WaitFor})
	}

	result, err := harness.Run(scenario, harness.WithLogger(slog.Default()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start app", err)
	}

	out := DispatchResult{
		Trace:      result.Trace,
		State:      result.State,
		Warnings:   result.Warnings,
		ErrorCodes: result.ErrorCodes,
	}
	if err := outputDispatch(formatter, out); err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("dispatch failed: %v", result.Errors))
	}
	return nil
}

func outputDispatch(formatter *OutputFormatter, out DispatchResult) error {
	if formatter.JSON() {
		return formatter.Success(out)
	}

	w := formatter.Writer
	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	fmt.Fprintln(w, "Trace:")
	for _, e := range out.Trace {
		if e.Payload != nil {
			payload, _ := json.Marshal(e.Payload)
			fmt.Fprintf(w, "  [%d] %s %s\n", e.Seq, e.Type, payload)
		} else {
			fmt.Fprintf(w, "  [%d] %s\n", e.Seq, e.Type)
		}
	}
	for _, code := range out.ErrorCodes {
		fmt.Fprintf(w, "error: %s\n", code)
	}
	state, err := json.MarshalIndent(out.State, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "State:\n%s\n", state)
	return nil
}
