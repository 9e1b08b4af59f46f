// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/terraref/imgprov/internal/config"
	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/internal/provision"
	"github.com/terraref/imgprov/pkg/recipe"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every command handler receives an App and gets
	// its configuration, logger and container engine from it.
	App struct {
		Config  ConfigProvider
		Engines EngineFactory
		stdout  io.Writer
		stderr  io.Writer

		flags globalFlags
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  ConfigProvider
		Engines EngineFactory
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Loaded, error)
	}

	// EngineFactory returns a usable engine of the requested type.
	EngineFactory func(engine config.ContainerEngine) (container.Engine, error)

	globalFlags struct {
		configPath string
		verbose    bool
		engine     string
	}

	// session is the per-invocation state derived from flags and configuration.
	session struct {
		cfg     *config.Config
		cfgPath string
		logger  *log.Logger
		verbose bool
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Engines == nil {
		deps.Engines = newEngine
	}

	return &App{
		Config:  deps.Config,
		Engines: deps.Engines,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
	}
}

func newEngine(engine config.ContainerEngine) (container.Engine, error) {
	e, err := container.NewEngine(engine.EngineType())
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("find container engine").
			WithResource(string(engine)).
			WithIssue(issue.ContainerEngineNotFoundId).
			WithSuggestion("Install Podman or Docker, or select one with --engine").
			Wrap(err).
			BuildError()
	}
	return e, nil
}

// session loads the configuration and builds the logger. Flags win over the
// configuration file.
func (a *App) session(ctx context.Context) (*session, error) {
	loaded, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.flags.configPath})
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config

	if a.flags.engine != "" {
		engine := config.ContainerEngine(a.flags.engine)
		if valid, errs := engine.IsValid(); !valid {
			return nil, errors.Join(errs...)
		}
		cfg.ContainerEngine = engine
	}

	verbose := a.flags.verbose || cfg.UI.Verbose
	level := cfg.Log.Level.Level()
	if verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix: "imgprov",
		Level:  level,
	})

	return &session{cfg: cfg, cfgPath: loaded.Path, logger: logger, verbose: verbose}, nil
}

// engine returns the configured container engine.
func (a *App) engine(s *session) (container.Engine, error) {
	e, err := a.Engines(s.cfg.ContainerEngine)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("using container engine", "engine", e.Name())
	return e, nil
}

// provisionConfig maps the loaded configuration onto provisioner settings.
func (s *session) provisionConfig(opts ...provision.Option) *provision.Config {
	b := s.cfg.Build
	pc := provision.DefaultConfig()
	pc.Apply(
		provision.WithNoCache(b.NoCache),
		provision.WithPull(b.Pull),
		provision.WithStrictPins(b.StrictPins),
		provision.WithSkipVerify(!b.Verify),
		provision.WithPackageRetries(b.PackageRetries),
		provision.WithRetry(b.RetryPolicy()),
	)
	if b.StagingDir != "" {
		pc.Apply(provision.WithStagingDir(b.StagingDir))
	}
	pc.Apply(opts...)
	return pc
}

// loadRecipe reads the recipe given with --recipe, or imgprov.cue in the
// build context.
func loadRecipe(recipePath, contextDir string) (*recipe.Recipe, string, error) {
	path := recipePath
	if path == "" {
		path = filepath.Join(contextDir, recipe.FileName)
	}

	r, err := recipe.Load(path)
	switch {
	case err == nil:
		return r, path, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, path, issue.NewErrorContext().
			WithOperation("load recipe").
			WithResource(path).
			WithIssue(issue.RecipeNotFoundId).
			WithSuggestion("Run 'imgprov recipe default > imgprov.cue' to start from the reference recipe").
			Wrap(err).
			BuildError()
	default:
		return nil, path, issue.NewErrorContext().
			WithOperation("load recipe").
			WithResource(path).
			WithIssue(issue.RecipeInvalidId).
			WithSuggestionf("Run 'imgprov validate --recipe %s' for details", path).
			Wrap(err).
			BuildError()
	}
}

// failed reports err and returns an ExitError so that cobra and fang stay
// quiet.
func (a *App) failed(cmd *cobra.Command, err error, verbose bool) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	a.report(err, verbose)
	return &ExitError{Code: 1, Err: err}
}

// report renders err on stderr. In verbose mode the linked catalog entry is
// rendered too.
func (a *App) report(err error, verbose bool) {
	fmt.Fprintf(a.stderr, "%s %s\n", errorIcon, formatErrorForDisplay(err, verbose))
	if !verbose {
		return
	}
	if iss := issue.IssueOf(err); iss != nil {
		if rendered, renderErr := iss.Render("auto"); renderErr == nil {
			fmt.Fprint(a.stderr, rendered)
		}
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// absContext resolves the --context flag, defaulting to the working directory.
func absContext(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve build context: %w", err)
	}
	return abs, nil
}
