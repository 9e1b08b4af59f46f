// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/internal/manifest"
	"github.com/terraref/imgprov/internal/provision"
	"github.com/terraref/imgprov/pkg/recipe"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
)

type manifestFlags struct {
	writePath  string
	checkPath  string
	recipePath string
}

func newManifestCommand(app *App) *cobra.Command {
	var flags manifestFlags

	cmd := &cobra.Command{
		Use:   "manifest IMAGE",
		Short: "List, record or check the packages installed in an image",
		Long: `List the OS and Python packages installed in an image.

With --write the list is recorded in a lock file. With --check the image is
compared against a lock file and any drift fails the command. With --recipe
every package of the recipe must be installed at its pinned version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runManifest(cmd.Context(), app, args[0], flags); err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.writePath, "write", "", "write a lock file")
	f.StringVar(&flags.checkPath, "check", "", "compare against a lock file")
	f.StringVarP(&flags.recipePath, "recipe", "r", "", "check the recipe's pins against the image")
	cmd.MarkFlagsMutuallyExclusive("write", "check")

	return cmd
}

func runManifest(ctx context.Context, app *App, image string, flags manifestFlags) error {
	s, err := app.session(ctx)
	if err != nil {
		return err
	}
	engine, err := app.engine(s)
	if err != nil {
		return err
	}

	m, err := manifest.Collect(ctx, engine, image)
	if err != nil {
		return issue.WrapWithContext(err, "collect installed packages", image)
	}

	if flags.recipePath != "" {
		r, err := recipe.Load(flags.recipePath)
		if err != nil {
			return issue.NewErrorContext().
				WithOperation("load recipe").
				WithResource(flags.recipePath).
				WithIssue(issue.RecipeInvalidId).
				Wrap(err).
				BuildError()
		}
		if err := manifest.CheckRecipe(r, m); err != nil {
			return issue.NewErrorContext().
				WithOperation("check recipe pins").
				WithResource(image).
				WithIssue(issue.LockDriftId).
				Wrap(err).
				BuildError()
		}
		fmt.Fprintf(app.stdout, "%s every package of %s is installed as pinned\n", successIcon, CmdStyle.Render(flags.recipePath))
	}

	switch {
	case flags.writePath != "":
		// The plan key label ties the lock to the recipe the image was built from.
		var planKey digest.Digest
		if info, err := engine.InspectImage(ctx, image); err == nil {
			if key, ok := info.Label(provision.PlanKeyLabel); ok {
				planKey = digest.Digest(key)
			}
		}
		if err := manifest.WriteLock(flags.writePath, manifest.NewLock(m, planKey)); err != nil {
			return issue.WrapWithContext(err, "write lock file", flags.writePath)
		}
		fmt.Fprintf(app.stdout, "%s Wrote %d OS and %d Python package(s) to %s\n",
			successIcon, len(m.OS), len(m.Lang), CmdStyle.Render(flags.writePath))
	case flags.checkPath != "":
		return checkLock(app, m, flags.checkPath)
	case flags.recipePath == "":
		printManifest(app, m)
	}
	return nil
}

func checkLock(app *App, m *manifest.Manifest, path string) error {
	lock, err := manifest.ReadLock(path)
	if err != nil {
		return issue.WrapWithContext(err, "read lock file", path)
	}

	drift := manifest.Compare(lock, m)
	if len(drift) == 0 {
		fmt.Fprintf(app.stdout, "%s %s matches %s\n", successIcon, CmdStyle.Render(m.Image), CmdStyle.Render(path))
		return nil
	}

	fmt.Fprintf(app.stdout, "%s %d package(s) drifted from %s:\n", warningIcon, len(drift), path)
	errs := make([]error, 0, len(drift))
	for _, d := range drift {
		fmt.Fprintf(app.stdout, "  - %s\n", d)
		errs = append(errs, errors.New(d.String()))
	}
	return issue.NewErrorContext().
		WithOperation("check lock file").
		WithResource(path).
		WithIssue(issue.LockDriftId).
		Wrap(errors.Join(errs...)).
		BuildError()
}

func printManifest(app *App, m *manifest.Manifest) {
	fmt.Fprintln(app.stdout, TitleStyle.Render(m.Image)+" "+SubtitleStyle.Render("digest "+m.Digest().String()))
	for _, p := range m.OS {
		fmt.Fprintf(app.stdout, "%-5s %-40s %s\n", recipe.KindOS, p.Name, p.Version)
	}
	for _, p := range m.Lang {
		fmt.Fprintf(app.stdout, "%-5s %-40s %s\n", recipe.KindLang, p.Name, p.Version)
	}
}
