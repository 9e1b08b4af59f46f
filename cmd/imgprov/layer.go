// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/internal/ocilayer"

	"github.com/spf13/cobra"
)

type layerFlags struct {
	recipePath string
	contextDir string
	output     string
}

func newLayerCommand(app *App) *cobra.Command {
	var flags layerFlags

	cmd := &cobra.Command{
		Use:   "layer",
		Short: "Write the application files of a recipe as a reproducible tar layer",
		Long: `Write every file the recipe copies into one uncompressed tar layer.

Entries are owned by the recipe's user, carry fixed timestamps and normalized
modes, so the same build context always yields the same layer digest. The
digest is printed on success.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := runLayer(cmd.Context(), app, flags); err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.recipePath, "recipe", "r", "", "recipe file (default is imgprov.cue in the build context)")
	f.StringVarP(&flags.contextDir, "context", "C", ".", "build context the copy sources are resolved against")
	f.StringVarP(&flags.output, "output", "o", "", "tar file to write")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runLayer(ctx context.Context, app *App, flags layerFlags) (err error) {
	planned, err := planRecipe(ctx, app, flags.recipePath, flags.contextDir)
	if err != nil {
		return err
	}

	var entries []ocilayer.Entry
	for _, src := range planned.Sources {
		entries = append(entries, src.Files...)
	}
	user := planned.Recipe.User
	layer, err := ocilayer.Build(entries, ocilayer.Options{UID: user.UID, GID: user.GroupID(), Home: user.Home})
	if err != nil {
		return issue.WrapWithOperation(err, "build application layer")
	}
	defer func() { _ = layer.Close() }() // temp buffer

	diffID, err := layer.DiffID()
	if err != nil {
		return issue.WrapWithOperation(err, "build application layer")
	}

	out, err := os.Create(flags.output)
	if err != nil {
		return issue.WrapWithContext(err, "write layer", flags.output)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = issue.WrapWithContext(closeErr, "write layer", flags.output)
		}
	}()
	n, err := layer.WriteTo(out)
	if err != nil {
		return issue.WrapWithContext(err, "write layer", flags.output)
	}

	fmt.Fprintf(app.stdout, "%s Wrote %d file(s), %d bytes to %s\n", successIcon, len(entries), n, CmdStyle.Render(flags.output))
	fmt.Fprintf(app.stdout, "%s %s\n", infoIcon, diffID)
	return nil
}
