// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/internal/issue"

	"github.com/spf13/cobra"
)

// WorkspaceMount is where --workspace is mounted inside the container.
const WorkspaceMount = "/workspace"

type runFlags struct {
	workspace string
	env       []string
}

func newRunCommand(app *App) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run IMAGE [-- ARGS...]",
		Short: "Run the entrypoint of a provisioned image",
		Long: `Run the image's entrypoint with ARGS and exit with its exit code.

The bin2tif extractor expects a raw file, its metadata file and a working
space directory, and writes its results below the working space. Use
--workspace to mount a host directory at ` + WorkspaceMount + `:

  imgprov run imgprov/bin2tif -w ./data -- /workspace/raw.bin /workspace/meta.json /workspace`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runImage(cmd.Context(), app, args[0], args[1:], flags); err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.workspace, "workspace", "w", "", "host directory mounted at "+WorkspaceMount)
	f.StringArrayVarP(&flags.env, "env", "e", nil, "set an environment variable (KEY=VALUE)")

	return cmd
}

func runImage(ctx context.Context, app *App, image string, args []string, flags runFlags) error {
	s, err := app.session(ctx)
	if err != nil {
		return err
	}
	engine, err := app.engine(s)
	if err != nil {
		return err
	}

	opts := container.RunOptions{
		Image:   image,
		Command: args,
		Remove:  true,
		Stdin:   os.Stdin,
		Stdout:  app.stdout,
		Stderr:  app.stderr,
	}
	if flags.workspace != "" {
		abs, err := filepath.Abs(flags.workspace)
		if err != nil {
			return fmt.Errorf("failed to resolve workspace: %w", err)
		}
		opts.Volumes = []string{abs + ":" + WorkspaceMount}
	}
	if len(flags.env) > 0 {
		opts.Env = make(map[string]string, len(flags.env))
		for _, kv := range flags.env {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid --env %q: expected KEY=VALUE", kv)
			}
			opts.Env[k] = v
		}
	}

	s.logger.Debug("running image", "image", image, "args", args)
	result, err := engine.Run(ctx, opts)
	if err != nil {
		return issue.WrapWithContext(err, "run image", image)
	}
	if result.Error != nil {
		return issue.WrapWithContext(result.Error, "run image", image)
	}
	if result.ExitCode != 0 {
		return &ExitError{Code: result.ExitCode}
	}
	return nil
}
