// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/terraref/imgprov/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `imgprov config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage imgprov configuration",
		Long: `Manage imgprov configuration.

Configuration is read from $XDG_CONFIG_HOME/imgprov/config.cue (default
~/.config/imgprov/config.cue), from ./config.cue, or from --config. Any key
can be overridden with an IMGPROV_ environment variable, for example
IMGPROV_BUILD_RETRY_MAX_ATTEMPTS=5.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := showConfig(cmd.Context(), app); err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.CreateDefaultConfig()
			if err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			fmt.Fprintf(app.stdout, "%s Configuration at %s\n", successIcon, CmdStyle.Render(path))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	s, err := app.session(ctx)
	if err != nil {
		return err
	}

	source := "(using defaults)"
	if s.cfgPath != "" {
		source = s.cfgPath
	}
	fmt.Fprintf(app.stdout, "// source: %s\n", source)
	fmt.Fprint(app.stdout, config.GenerateCUE(s.cfg))
	return nil
}
