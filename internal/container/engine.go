// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
)

// ErrInvalidOptions is wrapped by option validation failures.
var ErrInvalidOptions = errors.New("invalid engine options")

type (
	// Engine is the set of container operations used by the provisioner.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available reports whether the engine can be used.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)

		// Build builds an image from a Dockerfile.
		Build(ctx context.Context, opts BuildOptions) error
		// Run runs a container to completion. A non-zero exit code is reported
		// in RunResult, not as an error.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// Tag adds target as a name for source.
		Tag(ctx context.Context, source, target string) error
		// ImageExists reports whether image is present locally.
		ImageExists(ctx context.Context, image string) (bool, error)
		// InspectImage returns the image ID and configuration.
		InspectImage(ctx context.Context, image string) (*ImageInfo, error)
		// RemoveImage removes an image or one of its tags.
		RemoveImage(ctx context.Context, image string, force bool) error
	}

	// EngineType identifies the container engine.
	EngineType string

	// BuildOptions configures an image build.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the Dockerfile path, relative to ContextDir unless absolute.
		Dockerfile string
		// Tag names the built image.
		Tag string
		// BuildArgs are build-time variables.
		BuildArgs map[string]string
		// Labels are added to the image.
		Labels map[string]string
		// NoCache disables the build cache.
		NoCache bool
		// Pull always attempts to pull a newer base image.
		Pull bool
		Stdout io.Writer
		Stderr io.Writer
	}

	// RunOptions configures a container run.
	RunOptions struct {
		Image string
		// Command is appended after the image, as arguments to the entrypoint.
		Command []string
		// Entrypoint overrides the image entrypoint when non-empty.
		Entrypoint string
		// User overrides the image user when non-empty.
		User    string
		WorkDir string
		Env     map[string]string
		// Volumes are bind mounts in "host:container[:options]" format.
		Volumes []string
		// Remove removes the container after it exits.
		Remove bool
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
	}

	// RunResult is the outcome of a container run.
	RunResult struct {
		ExitCode int
		// Error is set for failures that are not an exit code of the container
		// process, such as a missing engine binary.
		Error error
	}

	// ImageInfo is the inspected state of a local image.
	ImageInfo struct {
		ID     string
		Config v1.Config
	}

	// ErrEngineNotAvailable is returned when no usable engine was found.
	ErrEngineNotAvailable struct {
		Engine string
		Reason string
	}
)

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Validate checks the options required by every engine.
func (o BuildOptions) Validate() error {
	if o.ContextDir == "" {
		return fmt.Errorf("%w: build context directory is required", ErrInvalidOptions)
	}
	if o.Tag == "" {
		return fmt.Errorf("%w: image tag is required", ErrInvalidOptions)
	}
	return nil
}

// Validate checks the options required by every engine.
func (o RunOptions) Validate() error {
	if o.Image == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidOptions)
	}
	for _, v := range o.Volumes {
		if _, _, ok := strings.Cut(v, ":"); !ok {
			return fmt.Errorf("%w: volume %q must be host:container", ErrInvalidOptions, v)
		}
	}
	return nil
}

// Label returns the value of an image label.
func (i *ImageInfo) Label(key string) (string, bool) {
	v, ok := i.Config.Labels[key]
	return v, ok
}

// Env returns the value of an environment variable in the image config.
func (i *ImageInfo) Env(name string) (string, bool) {
	for _, kv := range i.Config.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == name {
			return v, true
		}
	}
	return "", false
}

// NewEngine returns the preferred engine, falling back to the other one.
func NewEngine(preferredType EngineType) (Engine, error) {
	var primary, fallback Engine
	switch preferredType {
	case EngineTypePodman:
		primary, fallback = NewPodmanEngine(), NewDockerEngine()
	case EngineTypeDocker:
		primary, fallback = NewDockerEngine(), NewPodmanEngine()
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferredType)
	}

	if primary.Available() {
		return primary, nil
	}
	if fallback.Available() {
		return fallback, nil
	}
	return nil, &ErrEngineNotAvailable{
		Engine: string(preferredType),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available", primary.Name(), fallback.Name()),
	}
}

// AutoDetectEngine returns the first available engine, trying Podman first.
func AutoDetectEngine() (Engine, error) {
	if podman := NewPodmanEngine(); podman.Available() {
		return podman, nil
	}
	if docker := NewDockerEngine(); docker.Available() {
		return docker, nil
	}
	return nil, &ErrEngineNotAvailable{
		Engine: "any",
		Reason: "no container engine (podman or docker) is available on this system",
	}
}
