// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"os"
	"path/filepath"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/internal/pipeline"
)

type (
	// Config controls how images are provisioned.
	Config struct {
		// ForceRebuild bypasses the plan key cache.
		ForceRebuild bool

		// NoCache disables the engine's build cache.
		NoCache bool

		// Pull always pulls the base image.
		Pull bool

		// StrictPins turns unpinned package findings into errors.
		StrictPins bool

		// SkipVerify publishes the image without running the checks.
		SkipVerify bool

		// Retry bounds engine builds that fail with transient errors.
		Retry container.RetryPolicy

		// PackageRetries is passed to apt and pip for their own downloads.
		PackageRetries int

		// StagingDir is the parent of the temporary build contexts.
		// Default: ~/imgprov-build
		StagingDir string

		// TagSuffix is appended to staging tags so parallel runs never share one.
		// Can be set via IMGPROV_PROVISION_TAG_SUFFIX.
		TagSuffix string
	}

	// Option is a functional option for configuring a Config.
	Option func(*Config)
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Retry:          container.DefaultRetryPolicy(),
		PackageRetries: pipeline.DefaultRetries,
		StagingDir:     defaultStagingDir(),
		TagSuffix:      os.Getenv("IMGPROV_PROVISION_TAG_SUFFIX"),
	}
}

// defaultStagingDir picks a visible directory in the user's home. Docker
// installed via Snap cannot read /tmp or hidden directories such as ~/.cache.
func defaultStagingDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		if _, err := os.Stat(home); err == nil {
			return filepath.Join(home, "imgprov-build")
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, ".imgprov-build")
	}
	return filepath.Join(os.TempDir(), "imgprov-build")
}

// WithForceRebuild returns an Option that sets ForceRebuild on the config.
func WithForceRebuild(force bool) Option {
	return func(c *Config) {
		c.ForceRebuild = force
	}
}

// WithNoCache returns an Option that sets NoCache on the config.
func WithNoCache(noCache bool) Option {
	return func(c *Config) {
		c.NoCache = noCache
	}
}

// WithPull returns an Option that sets Pull on the config.
func WithPull(pull bool) Option {
	return func(c *Config) {
		c.Pull = pull
	}
}

// WithStrictPins returns an Option that sets StrictPins on the config.
func WithStrictPins(strict bool) Option {
	return func(c *Config) {
		c.StrictPins = strict
	}
}

// WithSkipVerify returns an Option that sets SkipVerify on the config.
func WithSkipVerify(skip bool) Option {
	return func(c *Config) {
		c.SkipVerify = skip
	}
}

// WithRetry returns an Option that sets the build retry policy.
func WithRetry(policy container.RetryPolicy) Option {
	return func(c *Config) {
		c.Retry = policy
	}
}

// WithPackageRetries returns an Option that sets PackageRetries on the config.
func WithPackageRetries(n int) Option {
	return func(c *Config) {
		c.PackageRetries = n
	}
}

// WithStagingDir returns an Option that sets StagingDir on the config.
func WithStagingDir(dir string) Option {
	return func(c *Config) {
		c.StagingDir = dir
	}
}

// WithTagSuffix returns an Option that sets TagSuffix on the config.
func WithTagSuffix(suffix string) Option {
	return func(c *Config) {
		c.TagSuffix = suffix
	}
}

// Apply applies the given options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
