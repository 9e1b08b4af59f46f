// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/internal/manifest"
	"github.com/terraref/imgprov/internal/provision"
	"github.com/terraref/imgprov/internal/watch"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
)

type buildFlags struct {
	recipePath string
	contextDir string
	tag        string
	force      bool
	noCache    bool
	pull       bool
	skipVerify bool
	strictPins bool
	lockPath   string
	watch      bool
	debounce   time.Duration
}

func newBuildCommand(app *App) *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build, verify and tag the image of a recipe",
		Long: `Build the image described by the recipe.

The image is built under a temporary staging tag, verified, and only then
tagged. When the target tag already carries the same plan key the build is
skipped. Transient engine failures are retried with exponential backoff.

With --watch the build context and the recipe are watched after the first
build, and every change triggers a rebuild until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.watch {
				if err := watchBuild(cmd.Context(), app, flags); err != nil {
					return app.failed(cmd, err, app.flags.verbose)
				}
				return nil
			}
			if err := runBuild(cmd.Context(), app, flags); err != nil {
				return app.failed(cmd, err, app.flags.verbose)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.recipePath, "recipe", "r", "", "recipe file (default is imgprov.cue in the build context)")
	f.StringVarP(&flags.contextDir, "context", "C", ".", "build context the copy sources are resolved against")
	f.StringVarP(&flags.tag, "tag", "t", "", "override the recipe's image tag")
	f.BoolVar(&flags.force, "force", false, "rebuild even when the image is up to date")
	f.BoolVar(&flags.noCache, "no-cache", false, "disable the engine's build cache")
	f.BoolVar(&flags.pull, "pull", false, "always pull the base image")
	f.BoolVar(&flags.skipVerify, "skip-verify", false, "tag the image without running the checks")
	f.BoolVar(&flags.strictPins, "strict-pins", false, "fail when a package is not pinned to an exact version")
	f.StringVar(&flags.lockPath, "lock", "", "write the installed packages of the image to this lock file")
	f.BoolVarP(&flags.watch, "watch", "w", false, "rebuild whenever the build context or the recipe changes")
	f.DurationVar(&flags.debounce, "debounce", watch.DefaultDebounce, "quiet period before a rebuild in --watch mode")

	return cmd
}

func runBuild(ctx context.Context, app *App, flags buildFlags) error {
	s, err := app.session(ctx)
	if err != nil {
		return err
	}
	contextDir, err := absContext(flags.contextDir)
	if err != nil {
		return err
	}
	r, _, err := loadRecipe(flags.recipePath, contextDir)
	if err != nil {
		return err
	}
	engine, err := app.engine(s)
	if err != nil {
		return err
	}

	// Flags override the configuration only when given.
	var opts []provision.Option
	if flags.force {
		opts = append(opts, provision.WithForceRebuild(true))
	}
	if flags.noCache {
		opts = append(opts, provision.WithNoCache(true))
	}
	if flags.pull {
		opts = append(opts, provision.WithPull(true))
	}
	if flags.skipVerify {
		opts = append(opts, provision.WithSkipVerify(true))
	}
	if flags.strictPins {
		opts = append(opts, provision.WithStrictPins(true))
	}

	var output io.Writer = io.Discard
	if s.verbose {
		output = app.stderr
	}
	prov := provision.NewLayerProvisioner(engine, s.provisionConfig(opts...),
		provision.WithLogger(s.logger),
		provision.WithOutput(output),
	)

	result, err := prov.Provision(ctx, provision.Request{
		Recipe:     r,
		ContextDir: contextDir,
		Tag:        flags.tag,
	})
	if err != nil {
		return err
	}

	if len(result.Findings) > 0 {
		fmt.Fprintf(app.stdout, "%s %d unpinned package(s)\n", warningIcon, len(result.Findings))
	}
	if result.Cached {
		fmt.Fprintf(app.stdout, "%s %s is up to date (plan %s)\n", successIcon, CmdStyle.Render(result.ImageTag), shortKey(result.PlanKey))
	} else {
		fmt.Fprintf(app.stdout, "%s Built %s (plan %s, %d layers)\n", successIcon, CmdStyle.Render(result.ImageTag), shortKey(result.PlanKey), len(result.Layers))
		if result.Verification != nil {
			fmt.Fprintf(app.stdout, "%s %d check(s) passed\n", successIcon, len(result.Verification.Checks))
		}
	}

	if flags.lockPath != "" {
		if err := writeLock(ctx, engine, result.ImageTag, result.PlanKey, flags.lockPath); err != nil {
			return err
		}
		fmt.Fprintf(app.stdout, "%s Wrote %s\n", successIcon, CmdStyle.Render(flags.lockPath))
	}
	return nil
}

// watchBuild builds once, then rebuilds on every change until ctx is done.
// Build failures are reported and do not end the watch.
func watchBuild(ctx context.Context, app *App, flags buildFlags) error {
	s, err := app.session(ctx)
	if err != nil {
		return err
	}
	contextDir, err := absContext(flags.contextDir)
	if err != nil {
		return err
	}
	var files []string
	if flags.recipePath != "" {
		files = append(files, flags.recipePath)
	}
	// A rebuild writes these; watching them would trigger the next rebuild.
	exclude := []string{s.provisionConfig().StagingDir}
	if flags.lockPath != "" {
		exclude = append(exclude, flags.lockPath)
	}

	w, err := watch.New(watch.Config{
		Dir:      contextDir,
		Files:    files,
		Exclude:  exclude,
		Debounce: flags.debounce,
		Logger:   s.logger,
		OnChange: func(ctx context.Context, changed []string) error {
			fmt.Fprintf(app.stdout, "%s %s changed, rebuilding\n", infoIcon, strings.Join(changed, ", "))
			if err := runBuild(ctx, app, flags); err != nil {
				app.report(err, s.verbose)
			}
			return nil
		},
	})
	if err != nil {
		return issue.WrapWithContext(err, "watch build context", contextDir)
	}

	if err := runBuild(ctx, app, flags); err != nil {
		app.report(err, s.verbose)
	}
	fmt.Fprintf(app.stdout, "%s Watching %s for changes\n", infoIcon, CmdStyle.Render(contextDir))
	return w.Run(ctx)
}

func writeLock(ctx context.Context, engine container.Engine, image string, planKey digest.Digest, path string) error {
	m, err := manifest.Collect(ctx, engine, image)
	if err != nil {
		return issue.WrapWithContext(err, "collect installed packages", image)
	}
	if err := manifest.WriteLock(path, manifest.NewLock(m, planKey)); err != nil {
		return issue.WrapWithContext(err, "write lock file", path)
	}
	return nil
}

func shortKey(d digest.Digest) string {
	enc := d.Encoded()
	if len(enc) > 12 {
		return enc[:12]
	}
	return enc
}
