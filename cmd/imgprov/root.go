// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the imgprov command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "imgprov",
		Short: "Provision container images for pipeline extractors",
		Long: TitleStyle.Render("imgprov") + SubtitleStyle.Render(" - provision container images for pipeline extractors") + `

imgprov builds the runtime image of an extractor from a CUE recipe: it
creates an unprivileged user, installs pinned OS and Python packages,
copies the extractor's files into the user's home, extends the library
search path and sets a single entrypoint. The image is verified before
it is tagged.

` + SubtitleStyle.Render("Examples:") + `
  imgprov recipe default > imgprov.cue   Start from the bin2tif recipe
  imgprov plan --format dockerfile       Show what would be built
  imgprov build --lock imgprov.lock      Build, verify and record packages
  imgprov run IMAGE -- raw.bin meta.json /workspace`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVar(&app.flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/imgprov/config.cue)")
	pf.StringVar(&app.flags.engine, "engine", "", "container engine to use (podman or docker)")

	rootCmd.AddCommand(
		newBuildCommand(app),
		newPlanCommand(app),
		newValidateCommand(app),
		newVerifyCommand(app),
		newManifestCommand(app),
		newLayerCommand(app),
		newRunCommand(app),
		newRecipeCommand(app),
		newConfigCommand(app),
	)

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Main runs the CLI and returns the process exit code.
func Main() int {
	rootCmd := NewRootCommand(NewApp(Dependencies{}))
	return exitStatus(fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(errorHandler),
	))
}

// errorHandler leaves ExitErrors alone: their message, if any, was already
// rendered by the failing command.
func errorHandler(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// Execute runs the CLI and exits. It is called by main.main().
func Execute() {
	os.Exit(Main())
}
