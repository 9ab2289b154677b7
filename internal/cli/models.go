package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/storeweave/internal/demo"
)

// NewModelsCommand creates the models command.
func NewModelsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models [name]",
		Short: "List the built-in demo models or print one manifest",
		Long: `List the built-in demo models, or print the CUE manifest of one.

The demo manifests are a starting point for your own: copy one into a
directory and pass the directory to compile, validate or run.

Examples:
  storeweave models
  storeweave models todos > todos.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if len(args) == 0 {
				return listModels(formatter)
			}
			return showModel(formatter, args[0])
		},
	}

	return cmd
}

func listModels(formatter *OutputFormatter) error {
	names := demo.Names()
	if formatter.JSON() {
		return formatter.Success(map[string]any{"models": names})
	}
	for _, name := range names {
		fmt.Fprintln(formatter.Writer, name)
	}
	return nil
}

func showModel(formatter *OutputFormatter, name string) error {
	src, err := demo.Manifest(name)
	if err != nil {
		_ = formatter.Error("E_UNKNOWN_MODEL", err.Error(), map[string]any{"available": demo.Names()})
		return WrapExitError(ExitCommandError, "unknown model", err)
	}
	if formatter.JSON() {
		return formatter.Success(map[string]any{"name": name, "manifest": string(src)})
	}
	_, err = formatter.Writer.Write(src)
	return err
}
