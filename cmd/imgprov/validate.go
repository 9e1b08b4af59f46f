// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/terraref/imgprov/internal/issue"

	"github.com/spf13/cobra"
)

type validateFlags struct {
	recipePath string
	contextDir string
	strictPins bool
}

func newValidateCommand(app *App) *cobra.Command {
	var flags validateFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a recipe and report unpinned packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := runValidate(cmd.Context(), app, flags); err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.recipePath, "recipe", "r", "", "recipe file (default is imgprov.cue in the build context)")
	f.StringVarP(&flags.contextDir, "context", "C", ".", "directory holding imgprov.cue when --recipe is not given")
	f.BoolVar(&flags.strictPins, "strict-pins", false, "fail when a package is not pinned to an exact version")

	return cmd
}

func runValidate(ctx context.Context, app *App, flags validateFlags) error {
	s, err := app.session(ctx)
	if err != nil {
		return err
	}
	dir, err := absContext(flags.contextDir)
	if err != nil {
		return err
	}
	r, path, err := loadRecipe(flags.recipePath, dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "%s %s is valid\n", successIcon, CmdStyle.Render(path))
	fmt.Fprintf(app.stdout, "%s user %s (uid %d), %d OS and %d Python package(s), entrypoint %s\n",
		infoIcon, r.User.Name, r.User.UID, len(r.OSPackages), len(r.LangPackages), r.EntrypointPath())

	findings := r.PinReport()
	if len(findings) == 0 {
		fmt.Fprintf(app.stdout, "%s every package is pinned\n", successIcon)
		return nil
	}

	fmt.Fprintf(app.stdout, "%s %d unpinned package(s):\n", warningIcon, len(findings))
	for _, f := range findings {
		fmt.Fprintf(app.stdout, "  - %s\n", f)
	}

	if flags.strictPins || s.cfg.Build.StrictPins {
		return issue.NewErrorContext().
			WithOperation("check package pins").
			WithResource(path).
			WithIssue(issue.UnpinnedPackagesId).
			WithSuggestion("Pin every package to an exact version").
			Wrap(r.StrictPins()).
			BuildError()
	}
	return nil
}
