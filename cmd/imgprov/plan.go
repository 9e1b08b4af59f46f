// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/internal/provision"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

const (
	planFormatDockerfile = "dockerfile"
	planFormatLayers     = "layers"
	planFormatMarkdown   = "markdown"
)

type planFlags struct {
	recipePath string
	contextDir string
	format     string
	style      string
}

func newPlanCommand(app *App) *cobra.Command {
	var flags planFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the layers and Dockerfile a build would use",
		Long: `Plan the image of a recipe without building it.

The recipe is validated and its copy sources are resolved against the build
context, so a plan that succeeds here only fails at build time for reasons
outside imgprov (package mirrors, the engine).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := runPlan(cmd.Context(), app, flags); err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.recipePath, "recipe", "r", "", "recipe file (default is imgprov.cue in the build context)")
	f.StringVarP(&flags.contextDir, "context", "C", ".", "build context the copy sources are resolved against")
	f.StringVarP(&flags.format, "format", "f", planFormatLayers, "output format: dockerfile, layers or markdown")
	f.StringVar(&flags.style, "style", "auto", "glamour style for markdown output (auto, dark, light, notty)")

	return cmd
}

// planRecipe loads the recipe and plans it without an engine.
func planRecipe(ctx context.Context, app *App, recipePath, contextDir string, opts ...provision.Option) (*provision.Planned, error) {
	s, err := app.session(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := absContext(contextDir)
	if err != nil {
		return nil, err
	}
	r, _, err := loadRecipe(recipePath, dir)
	if err != nil {
		return nil, err
	}
	prov := provision.NewLayerProvisioner(nil, s.provisionConfig(opts...), provision.WithLogger(s.logger))
	return prov.Plan(provision.Request{Recipe: r, ContextDir: dir})
}

func runPlan(ctx context.Context, app *App, flags planFlags) error {
	switch flags.format {
	case planFormatDockerfile, planFormatLayers, planFormatMarkdown:
	default:
		return fmt.Errorf("unknown format %q (valid: dockerfile, layers, markdown)", flags.format)
	}

	planned, err := planRecipe(ctx, app, flags.recipePath, flags.contextDir)
	if err != nil {
		return err
	}

	switch flags.format {
	case planFormatDockerfile:
		dockerfile, err := provision.RenderDockerfile(planned.Plan, planned.Recipe.Labels)
		if err != nil {
			return issue.WrapWithOperation(err, "render Dockerfile")
		}
		fmt.Fprint(app.stdout, dockerfile)
	case planFormatLayers:
		fmt.Fprintf(app.stdout, "%s %s\n", TitleStyle.Render(planned.Recipe.ImageTag()), SubtitleStyle.Render("plan "+planned.Plan.Key().String()))
		fmt.Fprint(app.stdout, provision.DescribeLayers(planned.Plan))
	case planFormatMarkdown:
		md, err := planned.Markdown()
		if err != nil {
			return issue.WrapWithOperation(err, "render plan")
		}
		out, err := glamour.Render(md, flags.style)
		if err != nil {
			return issue.WrapWithOperation(err, "render plan")
		}
		fmt.Fprint(app.stdout, out)
	}
	return nil
}
