// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/terraref/imgprov/internal/container"

	"github.com/charmbracelet/log"
)

const (
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"

	// LogLevelDebug logs every provisioning decision.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs progress and results.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs findings and retries only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs failures only.
	LogLevelError LogLevel = "error"

	maxPackageRetries = 10
	maxRetryAttempts  = 10
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidBuildConfig is the sentinel error wrapped by InvalidBuildConfigError.
	ErrInvalidBuildConfig = errors.New("invalid build config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	// It wraps ErrInvalidContainerEngine for errors.Is() compatibility.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// LogLevel is the minimum level of the CLI logger.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidBuildConfigError collects field-level errors of a BuildConfig.
	// It wraps ErrInvalidBuildConfig for errors.Is() compatibility.
	InvalidBuildConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// ContainerEngine specifies whether to use "podman" or "docker"
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		// Build configures image provisioning
		Build BuildConfig `json:"build" mapstructure:"build"`
		// Log configures the CLI logger
		Log LogConfig `json:"log" mapstructure:"log"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// BuildConfig configures image provisioning.
	BuildConfig struct {
		// NoCache disables the engine's build cache
		NoCache bool `json:"no_cache" mapstructure:"no_cache"`
		// Pull always pulls the base image
		Pull bool `json:"pull" mapstructure:"pull"`
		// StrictPins fails the build on unpinned packages (default: false, findings are warnings)
		StrictPins bool `json:"strict_pins" mapstructure:"strict_pins"`
		// Verify runs the post-build checks before tagging (default: true)
		Verify bool `json:"verify" mapstructure:"verify"`
		// PackageRetries is handed to apt and pip for their own downloads
		PackageRetries int `json:"package_retries" mapstructure:"package_retries"`
		// StagingDir overrides the parent directory of temporary build contexts
		StagingDir string `json:"staging_dir" mapstructure:"staging_dir"`
		// Retry bounds engine builds that fail with transient errors
		Retry RetryConfig `json:"retry" mapstructure:"retry"`
	}

	// RetryConfig bounds retried engine operations.
	RetryConfig struct {
		MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
		BaseBackoff time.Duration `json:"base_backoff" mapstructure:"base_backoff"`
	}

	// LogConfig configures the CLI logger.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// Error implements the error interface for InvalidContainerEngineError.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: podman, docker)", e.Value)
}

// Unwrap returns ErrInvalidContainerEngine for errors.Is() compatibility.
func (e *InvalidContainerEngineError) Unwrap() error { return ErrInvalidContainerEngine }

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// IsValid returns whether the ContainerEngine is one of the defined engine types.
func (ce ContainerEngine) IsValid() (bool, []error) {
	switch ce {
	case ContainerEnginePodman, ContainerEngineDocker:
		return true, nil
	default:
		return false, []error{&InvalidContainerEngineError{Value: ce}}
	}
}

// EngineType converts the configured engine for container.NewEngine.
func (ce ContainerEngine) EngineType() container.EngineType {
	if ce == ContainerEngineDocker {
		return container.EngineTypeDocker
	}
	return container.EngineTypePodman
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// IsValid returns whether the LogLevel is one of the defined levels.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Level returns the charm log level. Unknown values map to info.
func (l LogLevel) Level() log.Level {
	lvl, err := log.ParseLevel(string(l))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// IsValid returns whether the BuildConfig has valid fields.
func (c BuildConfig) IsValid() (bool, []error) {
	var errs []error
	if c.PackageRetries < 0 || c.PackageRetries > maxPackageRetries {
		errs = append(errs, fmt.Errorf("build.package_retries: %d is outside 0..%d", c.PackageRetries, maxPackageRetries))
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > maxRetryAttempts {
		errs = append(errs, fmt.Errorf("build.retry.max_attempts: %d is outside 1..%d", c.Retry.MaxAttempts, maxRetryAttempts))
	}
	if c.Retry.BaseBackoff < 0 {
		errs = append(errs, fmt.Errorf("build.retry.base_backoff: %s is negative", c.Retry.BaseBackoff))
	}
	if c.StagingDir != "" && strings.TrimSpace(c.StagingDir) == "" {
		errs = append(errs, errors.New("build.staging_dir: must not be whitespace-only"))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidBuildConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// RetryPolicy converts the retry settings for the container package.
func (c BuildConfig) RetryPolicy() container.RetryPolicy {
	return container.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseBackoff: c.Retry.BaseBackoff,
	}
}

// Error implements the error interface for InvalidBuildConfigError.
func (e *InvalidBuildConfigError) Error() string {
	return fmt.Sprintf("invalid build config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidBuildConfig for errors.Is() compatibility.
func (e *InvalidBuildConfigError) Unwrap() error { return ErrInvalidBuildConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to the sub-components and collects their errors.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ContainerEngine.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Build.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		var build *InvalidBuildConfigError
		if errors.As(err, &build) {
			for _, fe := range build.FieldErrors {
				msgs = append(msgs, fe.Error())
			}
			continue
		}
		msgs = append(msgs, err.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig and the field errors, so errors.Is matches
// both the config sentinel and the field sentinels.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEnginePodman,
		Build: BuildConfig{
			Verify:         true,
			PackageRetries: 3,
			StagingDir:     "", // Will use the provisioner default if empty
			Retry: RetryConfig{
				MaxAttempts: container.DefaultMaxAttempts,
				BaseBackoff: container.DefaultBaseBackoff,
			},
		},
		Log: LogConfig{Level: LogLevelInfo},
		UI:  UIConfig{Verbose: false},
	}
}
