// SPDX-License-Identifier: MPL-2.0

package container

import (
	"errors"
	"strings"
	"testing"

	"github.com/terraref/imgprov/internal/issue"
)

func TestDockerEngine_Build(t *testing.T) {
	t.Parallel()

	engine, rec := newMockDocker(t)
	err := engine.Build(t.Context(), BuildOptions{ContextDir: "/ctx", Dockerfile: "Dockerfile", Tag: "staging:1"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if rec.Invocations[0].Name != "docker" {
		t.Errorf("binary = %q, want docker", rec.Invocations[0].Name)
	}
	if !rec.HasArgPair("-t", "staging:1") || !rec.HasArgPair("-f", "/ctx/Dockerfile") {
		t.Errorf("unexpected build args: %v", rec.LastArgs())
	}
}

func TestDockerEngine_BuildFailureKeepsOutput(t *testing.T) {
	t.Parallel()

	engine, rec := newMockDocker(t)
	rec.ExitCode = 1
	rec.Stderr = "E: Failed to fetch http://archive.ubuntu.com/ubuntu/pool/main/g/gdal/gdal-bin.deb  Temporary failure resolving 'archive.ubuntu.com'"

	err := engine.Build(t.Context(), BuildOptions{ContextDir: "/ctx", Tag: "staging:1"})
	if err == nil {
		t.Fatal("expected build error")
	}

	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ActionableError, got %T", err)
	}
	if ae.Issue != issue.PackageInstallFailedId {
		t.Errorf("issue = %d, want PackageInstallFailedId", ae.Issue)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || !strings.Contains(cmdErr.Output, "Temporary failure resolving") {
		t.Errorf("expected engine output in error, got %v", err)
	}
	if !IsTransientError(err) {
		t.Error("a name resolution failure during build should be transient")
	}
}

func TestDockerEngine_BuildInvalidOptions(t *testing.T) {
	t.Parallel()

	engine, rec := newMockDocker(t)
	if err := engine.Build(t.Context(), BuildOptions{Tag: "x"}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions, got %v", err)
	}
	if len(rec.Invocations) != 0 {
		t.Error("invalid options must not invoke the engine")
	}
}

func TestDockerEngine_RunExitCode(t *testing.T) {
	t.Parallel()

	engine, rec := newMockDocker(t)
	rec.ExitCode = 3

	result, err := engine.Run(t.Context(), RunOptions{Image: "x:1", Command: []string{"a", "b"}, Remove: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ExitCode != 3 || result.Error != nil {
		t.Errorf("result = %+v, want exit code 3 without error", result)
	}
	rec.AssertArgsContainAll(t, "run", "--rm", "x:1 a b")
}

func TestDockerEngine_Tag(t *testing.T) {
	t.Parallel()

	engine, rec := newMockDocker(t)
	if err := engine.Tag(t.Context(), "staging:1", "final:1"); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	rec.AssertArgsContainAll(t, "tag staging:1 final:1")

	rec.FailOnCommand = "tag"
	if err := engine.Tag(t.Context(), "staging:1", "final:1"); err == nil {
		t.Error("expected tag failure")
	}
}

func TestDockerEngine_InspectImage(t *testing.T) {
	t.Parallel()

	engine, rec := newMockDocker(t)
	rec.Stdout = `[{"Id":"sha256:1","Config":{"User":"49044:49044"}}]`

	info, err := engine.InspectImage(t.Context(), "final:1")
	if err != nil {
		t.Fatalf("InspectImage() error = %v", err)
	}
	if info.Config.User != "49044:49044" {
		t.Errorf("User = %q", info.Config.User)
	}
	rec.AssertArgsContainAll(t, "image inspect final:1")
}

func TestDockerEngine_ImageExists(t *testing.T) {
	t.Parallel()

	engine, rec := newMockDocker(t)
	if ok, _ := engine.ImageExists(t.Context(), "x:1"); !ok {
		t.Error("expected image to exist")
	}
	rec.ExitCode = 1
	if ok, _ := engine.ImageExists(t.Context(), "x:1"); ok {
		t.Error("expected image to be missing")
	}
}

func TestPodmanEngine_ImageExists(t *testing.T) {
	t.Parallel()

	engine, rec := newMockPodman(t)
	if ok, err := engine.ImageExists(t.Context(), "x:1"); !ok || err != nil {
		t.Errorf("ImageExists() = %v, %v", ok, err)
	}
	rec.AssertArgsContainAll(t, "image exists x:1")

	rec.ExitCode = 1
	if ok, err := engine.ImageExists(t.Context(), "x:1"); ok || err != nil {
		t.Errorf("missing image: ImageExists() = %v, %v", ok, err)
	}

	rec.ExitCode = 125
	if _, err := engine.ImageExists(t.Context(), "x:1"); err == nil {
		t.Error("engine failure should be reported")
	}
}

func TestPodmanEngine_RunLabelsVolumes(t *testing.T) {
	t.Parallel()

	engine, rec := newMockPodman(t)
	if _, err := engine.Run(t.Context(), RunOptions{Image: "x:1", Volumes: []string{"/data:/work"}}); err != nil {
		t.Fatal(err)
	}
	if !rec.HasArgPair("-v", "/data:/work:z") {
		t.Errorf("expected labeled volume, got %v", rec.LastArgs())
	}
}

func TestEngineNames(t *testing.T) {
	t.Parallel()

	if got := NewDockerEngine().Name(); got != "docker" {
		t.Errorf("docker Name() = %q", got)
	}
	if got := NewPodmanEngine().Name(); got != "podman" {
		t.Errorf("podman Name() = %q", got)
	}
	if _, err := NewEngine("containerd"); err == nil {
		t.Error("unknown engine type should fail")
	}
}

func TestEngineUnavailableWithoutBinary(t *testing.T) {
	t.Parallel()

	if NewDockerEngine(WithBinaryPath("")).Available() {
		t.Error("docker without binary must be unavailable")
	}
	if NewPodmanEngine(WithBinaryPath("")).Available() {
		t.Error("podman without binary must be unavailable")
	}
}
