// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/terraref/imgprov/pkg/recipe"

	"github.com/spf13/cobra"
)

func newRecipeCommand(app *App) *cobra.Command {
	recipeCmd := &cobra.Command{
		Use:   "recipe",
		Short: "Work with recipes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	recipeCmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the reference recipe of the bin2tif extractor",
		Example: `  imgprov recipe default > imgprov.cue
  imgprov validate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := app.stdout.Write(recipe.DefaultSource())
			return err
		},
	})

	return recipeCmd
}
