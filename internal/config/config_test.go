// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/internal/testutil"
)

func loadFrom(t *testing.T, content string) (*Config, string, error) {
	t.Helper()
	dir := t.TempDir()
	path := testutil.MustWriteFile(t, dir, "config.cue", content, 0o644)
	return loadWithOptions(context.Background(), LoadOptions{ConfigFilePath: path})
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.ContainerEngine != ContainerEnginePodman {
		t.Errorf("expected default container engine to be podman, got %s", cfg.ContainerEngine)
	}
	if !cfg.Build.Verify {
		t.Error("expected verification to be enabled by default")
	}
	if cfg.Build.StrictPins {
		t.Error("expected strict pins to be disabled by default")
	}
	if cfg.Build.Retry.MaxAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Build.Retry.MaxAttempts)
	}
	if cfg.Build.Retry.BaseBackoff != 2*time.Second {
		t.Errorf("expected 2s base backoff, got %s", cfg.Build.Retry.BaseBackoff)
	}
	if cfg.Log.Level != LogLevelInfo {
		t.Errorf("expected info log level, got %s", cfg.Log.Level)
	}
	if valid, errs := cfg.IsValid(); !valid {
		t.Errorf("default config should be valid, got %v", errs)
	}
}

func TestConfigDir(t *testing.T) {
	testXDGPath := filepath.Join(t.TempDir(), "xdg")
	testutil.MustSetenv(t, "XDG_CONFIG_HOME", testXDGPath)

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() returned error: %v", err)
	}
	if expected := filepath.Join(testXDGPath, AppName); dir != expected {
		t.Errorf("ConfigDir() = %s, want %s", dir, expected)
	}

	override := t.TempDir()
	SetConfigDirOverride(override)
	defer Reset()

	dir, err = ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() returned error: %v", err)
	}
	if dir != override {
		t.Errorf("ConfigDir() = %s, want override %s", dir, override)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, path, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("loadWithOptions() error = %v", err)
	}
	if path != "" {
		t.Errorf("expected no resolved path, got %q", path)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_ConfigDirFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := testutil.MustWriteFile(t, dir, "config.cue", `container_engine: "docker"`, 0o644)

	cfg, path, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("loadWithOptions() error = %v", err)
	}
	if path != want {
		t.Errorf("resolved path = %q, want %q", path, want)
	}
	if cfg.ContainerEngine != ContainerEngineDocker {
		t.Errorf("container engine = %s, want docker", cfg.ContainerEngine)
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	t.Parallel()

	cfg, _, err := loadFrom(t, `
build: {
	strict_pins: true
	retry: base_backoff: "500ms"
}
log: level: "debug"
`)
	if err != nil {
		t.Fatalf("loadWithOptions() error = %v", err)
	}

	if !cfg.Build.StrictPins {
		t.Error("expected strict_pins from file")
	}
	if cfg.Build.Retry.BaseBackoff != 500*time.Millisecond {
		t.Errorf("base_backoff = %s, want 500ms", cfg.Build.Retry.BaseBackoff)
	}
	if cfg.Build.Retry.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want default 3", cfg.Build.Retry.MaxAttempts)
	}
	if !cfg.Build.Verify {
		t.Error("expected verify to keep its default")
	}
	if cfg.Log.Level != LogLevelDebug {
		t.Errorf("log level = %s, want debug", cfg.Log.Level)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"unknown engine", `container_engine: "lxc"`, "container_engine"},
		{"unknown field", `build: parallel: true`, "parallel"},
		{"attempts out of range", `build: retry: max_attempts: 0`, "max_attempts"},
		{"bad duration", `build: retry: base_backoff: "soon"`, "base_backoff"},
		{"bad log level", `log: level: "trace"`, "level"},
		{"syntax error", `build: {`, "config.cue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := loadFrom(t, tt.content)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
			if got := issue.IssueOf(err); got == nil || got.Id() != issue.ConfigLoadFailedId {
				t.Errorf("expected ConfigLoadFailed issue, got %v", got)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.cue")
	_, _, err := loadWithOptions(context.Background(), LoadOptions{ConfigFilePath: missing})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}

	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ActionableError, got %T", err)
	}
	if ae.Resource != missing {
		t.Errorf("resource = %q, want %q", ae.Resource, missing)
	}
	if !ae.HasSuggestions() {
		t.Error("expected suggestions")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	testutil.MustSetenv(t, "IMGPROV_BUILD_STRICT_PINS", "true")
	testutil.MustSetenv(t, "IMGPROV_BUILD_RETRY_MAX_ATTEMPTS", "5")
	testutil.MustSetenv(t, "IMGPROV_CONTAINER_ENGINE", "docker")

	cfg, _, err := loadFrom(t, `build: strict_pins: false`)
	if err != nil {
		t.Fatalf("loadWithOptions() error = %v", err)
	}

	if !cfg.Build.StrictPins {
		t.Error("environment should win over the config file")
	}
	if cfg.Build.Retry.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Build.Retry.MaxAttempts)
	}
	if cfg.ContainerEngine != ContainerEngineDocker {
		t.Errorf("container engine = %s, want docker", cfg.ContainerEngine)
	}
}

func TestLoad_InvalidEnvironmentOverride(t *testing.T) {
	testutil.MustSetenv(t, "IMGPROV_CONTAINER_ENGINE", "lxc")

	_, _, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err == nil {
		t.Fatal("expected error for invalid engine override")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if !errors.Is(err, ErrInvalidContainerEngine) {
		t.Errorf("expected ErrInvalidContainerEngine in chain, got %v", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := loadWithOptions(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateCUE_LoadsBack(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ContainerEngine = ContainerEngineDocker
	cfg.Build.NoCache = true
	cfg.Build.StagingDir = "/var/tmp/imgprov"
	cfg.Build.Retry.BaseBackoff = 90 * time.Second
	cfg.Log.Level = LogLevelWarn

	loaded, _, err := loadFrom(t, GenerateCUE(cfg))
	if err != nil {
		t.Fatalf("generated CUE failed to load: %v\n%s", err, GenerateCUE(cfg))
	}
	if *loaded != *cfg {
		t.Errorf("loaded = %+v, want %+v", loaded, cfg)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), AppName)
	SetConfigDirOverride(dir)
	defer Reset()

	path, err := CreateDefaultConfig()
	if err != nil {
		t.Fatalf("CreateDefaultConfig() error = %v", err)
	}
	if path != filepath.Join(dir, "config.cue") {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), `container_engine: "podman"`) {
		t.Errorf("unexpected default config:\n%s", data)
	}

	// An existing file is left alone.
	if err := os.WriteFile(path, []byte(`ui: verbose: true`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateDefaultConfig(); err != nil {
		t.Fatalf("second CreateDefaultConfig() error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "ui: verbose: true\n" {
		t.Errorf("existing config was overwritten:\n%s", data)
	}
}
