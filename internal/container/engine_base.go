// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/terraref/imgprov/internal/issue"
)

// maxOutputTail bounds how much engine output is kept for error messages.
const maxOutputTail = 8 << 10

type (
	// ExecCommandFunc creates the exec.Cmd for an engine invocation. Tests
	// replace it to record arguments.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc rewrites a volume argument. Podman uses it to add
	// SELinux labels.
	VolumeFormatFunc func(volume string) string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine implements the operations shared by the Docker and Podman
	// clients. Engine-specific methods (Available, Version, ImageExists) live
	// on the concrete types.
	BaseCLIEngine struct {
		name            string
		binaryPath      string
		execCommand     ExecCommandFunc
		volumeFormatter VolumeFormatFunc
	}

	// CommandError is a failed engine invocation with the tail of its output.
	CommandError struct {
		Args   []string
		Output string
		Err    error
	}

	// tailBuffer keeps the last max bytes written to it.
	tailBuffer struct {
		mu  sync.Mutex
		max int
		buf []byte
	}
)

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithVolumeFormatter sets a custom volume formatter.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.volumeFormatter = fn
	}
}

// WithBinaryPath overrides the engine binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// NewBaseCLIEngine creates a base engine for the given binary.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:      binaryPath,
		execCommand:     exec.CommandContext,
		volumeFormatter: func(v string) string { return v },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newCLIEngine locates the binary of engine t on PATH. defaults are applied
// before the caller's options so tests can override them.
func newCLIEngine(t EngineType, defaults, opts []BaseCLIEngineOption) *BaseCLIEngine {
	path, _ := exec.LookPath(string(t))
	all := append([]BaseCLIEngineOption{WithName(string(t))}, defaults...)
	return NewBaseCLIEngine(path, append(all, opts...)...)
}

// queryVersion runs "version --format tmpl" and returns the trimmed result.
func (e *BaseCLIEngine) queryVersion(ctx context.Context, tmpl string) (string, error) {
	if e.binaryPath == "" {
		return "", fmt.Errorf("%s: %w", e.name, exec.ErrNotFound)
	}
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", tmpl)
	if err != nil {
		return "", fmt.Errorf("query %s version: %w", e.name, err)
	}
	return strings.TrimSpace(out), nil
}

// BinaryPath returns the path to the engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// BuildArgs returns the arguments of a build invocation:
//
//	build [-f FILE] -t TAG [--no-cache] [--pull] [--build-arg K=V]... [--label K=V]... CONTEXT
//
// Build args and labels are sorted by key so the invocation is stable.
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Dockerfile != "" {
		dockerfile := opts.Dockerfile
		if !filepath.IsAbs(dockerfile) && opts.ContextDir != "" {
			dockerfile = filepath.Join(opts.ContextDir, dockerfile)
		}
		args = append(args, "-f", dockerfile)
	}
	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if opts.Pull {
		args = append(args, "--pull")
	}
	for _, k := range slices.Sorted(maps.Keys(opts.BuildArgs)) {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	return append(args, opts.ContextDir)
}

// RunArgs returns the arguments of a run invocation:
//
//	run [--rm] [--entrypoint E] [-u USER] [-w DIR] [-i] [-e K=V]... [-v VOL]... IMAGE [ARGS...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Entrypoint != "" {
		args = append(args, "--entrypoint", opts.Entrypoint)
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	if opts.Stdin != nil {
		args = append(args, "-i")
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", e.volumeFormatter(v))
	}

	args = append(args, opts.Image)
	return append(args, opts.Command...)
}

// RemoveImageArgs returns the arguments of an image removal.
func (e *BaseCLIEngine) RemoveImageArgs(image string, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	return append(args, image)
}

// RunCommandStatus executes a command and returns only its error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var tail bytes.Buffer
	cmd.Stderr = &tail
	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Output: tail.String(), Err: err}
	}
	return nil
}

// RunCommandWithOutput executes a command and returns its stdout.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", &CommandError{Args: args, Output: errOut.String(), Err: err}
	}
	return out.String(), nil
}

// CreateCommand creates an exec.Cmd for the engine binary.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// Build builds an image. Engine output is streamed to opts.Stdout and
// opts.Stderr, and its tail is kept in the returned error so that transient
// network failures inside RUN steps can be recognized.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	args := e.BuildArgs(opts)
	cmd := e.CreateCommand(ctx, args...)
	tail := &tailBuffer{max: maxOutputTail}
	cmd.Stdout = teeWriter(opts.Stdout, tail)
	cmd.Stderr = teeWriter(opts.Stderr, tail)

	if err := cmd.Run(); err != nil {
		return buildContainerError(e.name, opts, &CommandError{Args: args, Output: tail.String(), Err: err})
	}
	return nil
}

// Run runs a container. A non-zero exit code is captured in
// RunResult.ExitCode; only infrastructure failures set RunResult.Error.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cmd := e.CreateCommand(ctx, e.RunArgs(opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	result := &RunResult{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
			result.Error = runContainerError(e.name, opts, err)
		}
	}
	return result, nil
}

// Tag adds target as a name for source.
func (e *BaseCLIEngine) Tag(ctx context.Context, source, target string) error {
	if err := e.RunCommandStatus(ctx, "tag", source, target); err != nil {
		return fmt.Errorf("failed to tag %s as %s: %w", source, target, err)
	}
	return nil
}

// RemoveImage removes an image or one of its tags.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

// InspectImage returns the ID and configuration of a local image.
func (e *BaseCLIEngine) InspectImage(ctx context.Context, image string) (*ImageInfo, error) {
	out, err := e.RunCommandWithOutput(ctx, "image", "inspect", image)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image %s: %w", image, err)
	}
	return parseInspect(image, []byte(out))
}

// parseInspect decodes the JSON array printed by "image inspect". Docker and
// Podman both use the Docker field names for the image config.
func parseInspect(image string, data []byte) (*ImageInfo, error) {
	var inspected []struct {
		ID     string    `json:"Id"`
		Config v1.Config `json:"Config"`
	}
	if err := json.Unmarshal(data, &inspected); err != nil {
		return nil, fmt.Errorf("failed to decode inspection of %s: %w", image, err)
	}
	if len(inspected) == 0 {
		return nil, fmt.Errorf("image %s not found", image)
	}
	return &ImageInfo{ID: inspected[0].ID, Config: inspected[0].Config}, nil
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s failed: %v", strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = slices.Delete(t.buf, 0, over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func teeWriter(w io.Writer, tail *tailBuffer) io.Writer {
	if w == nil {
		return tail
	}
	return io.MultiWriter(w, tail)
}

// buildContainerError creates an actionable error for build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("build container image").
		WithResource(opts.Tag)

	if IsTransientError(cause) {
		ctx.WithSuggestion("The failure looks transient (network or engine storage); retry the build")
	}
	ctx.WithSuggestion("Check that the pinned package versions exist for the base image")
	ctx.WithSuggestionf("Ensure the base image is available (try: %s pull <base-image>)", engine)
	ctx.WithSuggestion("Run with --verbose to see the full build output")

	return ctx.WithIssue(issue.PackageInstallFailedId).Wrap(cause).BuildError()
}

// runContainerError creates an actionable error for run failures.
func runContainerError(engine string, opts RunOptions, cause error) error {
	return issue.NewErrorContext().
		WithOperation("run container").
		WithResource(opts.Image).
		WithSuggestionf("Verify the image exists (try: %s images)", engine).
		WithSuggestion("Check that volume mount paths exist on the host").
		Wrap(cause).
		BuildError()
}
