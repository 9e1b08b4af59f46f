// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/pkg/cueutil"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "imgprov"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. IMGPROV_BUILD_PULL.
	EnvPrefix = "IMGPROV"
)

//go:embed config_schema.cue
var configSchemaSource []byte

var configSchema = cueutil.Schema{Source: configSchemaSource, Definition: "#Config"}

// ConfigDir returns the imgprov configuration directory: $XDG_CONFIG_HOME/imgprov,
// defaulting to ~/.config/imgprov.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	// Allow tests to override the config directory
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	// Set defaults. Every key needs one so that AutomaticEnv can see it.
	defaults := DefaultConfig()
	v.SetDefault("container_engine", string(defaults.ContainerEngine))
	v.SetDefault("build.no_cache", defaults.Build.NoCache)
	v.SetDefault("build.pull", defaults.Build.Pull)
	v.SetDefault("build.strict_pins", defaults.Build.StrictPins)
	v.SetDefault("build.verify", defaults.Build.Verify)
	v.SetDefault("build.package_retries", defaults.Build.PackageRetries)
	v.SetDefault("build.staging_dir", defaults.Build.StagingDir)
	v.SetDefault("build.retry.max_attempts", defaults.Build.Retry.MaxAttempts)
	v.SetDefault("build.retry.base_backoff", defaults.Build.Retry.BaseBackoff.String())
	v.SetDefault("log.level", string(defaults.Log.Level))
	v.SetDefault("ui.verbose", defaults.UI.Verbose)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", cueLoadError(resolvedPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("parse configuration").
			WithResource(resolvedPath).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check IMGPROV_* environment variables for malformed values").
			Wrap(fmt.Errorf("failed to parse config: %w", err)).
			BuildError()
	}

	// CUE validates the file; environment overrides are only checked here.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check IMGPROV_* environment variables against 'imgprov config show'").
			Wrap(errors.Join(errs...)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// resolveConfigFile returns the file to load: --config when given (it must
// exist), else the first of $CONFIG_DIR/config.cue and ./config.cue that
// exists, else "" for pure defaults.
func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if fileExists(opts.ConfigFilePath) {
			return opts.ConfigFilePath, nil
		}
		return "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(opts.ConfigFilePath).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Verify the file path is correct").
			WithSuggestion("Run 'imgprov config init' to create a configuration file").
			Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
			BuildError()
	}

	dir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	name := ConfigFileName + "." + ConfigFileExt
	for _, path := range []string{filepath.Join(dir, name), name} {
		if fileExists(path) {
			return path, nil
		}
	}
	return "", nil
}

func cueLoadError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithIssue(issue.ConfigLoadFailedId).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithSuggestion("See 'imgprov config --help' for configuration options").
		Wrap(err).
		BuildError()
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper validates a config file against #Config and merges it over
// the defaults already registered in v.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	values, err := cueutil.DecodeMap(configSchema, data, cueutil.WithFilename(path))
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig creates a default config file if it doesn't exist and
// returns its path.
func CreateDefaultConfig() (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// imgprov configuration file\n\n")

	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)

	sb.WriteString("\nbuild: {\n")
	fmt.Fprintf(&sb, "\tno_cache:        %v\n", cfg.Build.NoCache)
	fmt.Fprintf(&sb, "\tpull:            %v\n", cfg.Build.Pull)
	fmt.Fprintf(&sb, "\tstrict_pins:     %v\n", cfg.Build.StrictPins)
	fmt.Fprintf(&sb, "\tverify:          %v\n", cfg.Build.Verify)
	fmt.Fprintf(&sb, "\tpackage_retries: %d\n", cfg.Build.PackageRetries)
	if cfg.Build.StagingDir != "" {
		fmt.Fprintf(&sb, "\tstaging_dir:     %q\n", cfg.Build.StagingDir)
	}
	sb.WriteString("\tretry: {\n")
	fmt.Fprintf(&sb, "\t\tmax_attempts: %d\n", cfg.Build.Retry.MaxAttempts)
	fmt.Fprintf(&sb, "\t\tbase_backoff: %q\n", cfg.Build.Retry.BaseBackoff.String())
	sb.WriteString("\t}\n")
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}
