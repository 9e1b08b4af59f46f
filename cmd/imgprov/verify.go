// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/internal/verify"

	"github.com/spf13/cobra"
)

type verifyFlags struct {
	recipePath string
	contextDir string
}

func newVerifyCommand(app *App) *cobra.Command {
	var flags verifyFlags

	cmd := &cobra.Command{
		Use:   "verify IMAGE",
		Short: "Check that an image has the properties its recipe requires",
		Long: `Run the post-build checks against an existing image.

The image must run as the recipe's user, never as root, keep the base
image's library search path with the recipe's directory in front, and have
exactly the recipe's entrypoint, owned by the user and executable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runVerify(cmd.Context(), app, args[0], flags); err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.recipePath, "recipe", "r", "", "recipe file (default is imgprov.cue in the build context)")
	f.StringVarP(&flags.contextDir, "context", "C", ".", "directory holding imgprov.cue when --recipe is not given")

	return cmd
}

func runVerify(ctx context.Context, app *App, image string, flags verifyFlags) error {
	s, err := app.session(ctx)
	if err != nil {
		return err
	}
	dir, err := absContext(flags.contextDir)
	if err != nil {
		return err
	}
	r, _, err := loadRecipe(flags.recipePath, dir)
	if err != nil {
		return err
	}
	engine, err := app.engine(s)
	if err != nil {
		return err
	}

	report, err := verify.New(engine, verify.WithLogger(s.logger)).Verify(ctx, image, verify.FromRecipe(r))
	if err != nil {
		return issue.WrapWithContext(err, "verify image", image)
	}

	fmt.Fprintln(app.stdout, TitleStyle.Render("Verification of "+image))
	for _, c := range report.Checks {
		icon := successIcon
		if !c.Passed {
			icon = errorIcon
		}
		fmt.Fprintf(app.stdout, "%s %-18s %s\n", icon, c.Name, SubtitleStyle.Render(c.Detail))
	}

	if err := report.Err(); err != nil {
		return issue.NewErrorContext().
			WithOperation("verify image").
			WithResource(image).
			WithIssue(issue.VerificationFailedId).
			Wrap(err).
			BuildError()
	}
	fmt.Fprintf(app.stdout, "%s %d check(s) passed\n", successIcon, len(report.Checks))
	return nil
}
