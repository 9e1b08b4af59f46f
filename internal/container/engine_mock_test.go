// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
)

type (
	// MockCommandRecorder captures engine invocations. Commands are executed
	// by re-running the test binary as TestHelperProcess.
	MockCommandRecorder struct {
		Invocations []MockInvocation
		ExitCode    int
		Stdout      string
		Stderr      string
		// FailOnCommand makes invocations whose first argument matches exit 1.
		FailOnCommand string
	}

	// MockInvocation is one recorded invocation.
	MockInvocation struct {
		Name string
		Args []string
	}
)

func NewMockCommandRecorder() *MockCommandRecorder {
	return &MockCommandRecorder{}
}

// ContextCommandFunc returns an ExecCommandFunc that records invocations.
func (m *MockCommandRecorder) ContextCommandFunc(t *testing.T) ExecCommandFunc {
	t.Helper()
	return func(_ context.Context, name string, args ...string) *exec.Cmd {
		m.Invocations = append(m.Invocations, MockInvocation{Name: name, Args: args})

		exitCode := m.ExitCode
		if m.FailOnCommand != "" && len(args) > 0 && args[0] == m.FailOnCommand {
			exitCode = 1
		}

		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...) //nolint:gosec,noctx // test helper process
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("GO_HELPER_EXIT_CODE=%d", exitCode),
			"GO_HELPER_STDOUT=" + m.Stdout,
			"GO_HELPER_STDERR=" + m.Stderr,
		}
		return cmd
	}
}

func (m *MockCommandRecorder) LastArgs() []string {
	if len(m.Invocations) == 0 {
		return nil
	}
	return m.Invocations[len(m.Invocations)-1].Args
}

func (m *MockCommandRecorder) AssertArgsContainAll(t *testing.T, expected ...string) {
	t.Helper()
	joined := strings.Join(m.LastArgs(), " ")
	for _, exp := range expected {
		if !strings.Contains(joined, exp) {
			t.Errorf("expected args to contain %q, got: %v", exp, m.LastArgs())
		}
	}
}

func (m *MockCommandRecorder) HasArgPair(flag, value string) bool {
	args := m.LastArgs()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func (m *MockCommandRecorder) HasArg(arg string) bool {
	return slices.Contains(m.LastArgs(), arg)
}

// TestHelperProcess is not a real test. It is the process started by the
// mock and replies with the configured output and exit code.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if stdout := os.Getenv("GO_HELPER_STDOUT"); stdout != "" {
		fmt.Fprint(os.Stdout, stdout)
	}
	if stderr := os.Getenv("GO_HELPER_STDERR"); stderr != "" {
		fmt.Fprint(os.Stderr, stderr)
	}
	exitCode := 0
	if code := os.Getenv("GO_HELPER_EXIT_CODE"); code != "" {
		_, _ = fmt.Sscanf(code, "%d", &exitCode)
	}
	os.Exit(exitCode)
}

func newMockDocker(t *testing.T) (*DockerEngine, *MockCommandRecorder) {
	t.Helper()
	rec := NewMockCommandRecorder()
	return NewDockerEngine(WithBinaryPath("docker"), WithExecCommand(rec.ContextCommandFunc(t))), rec
}

func newMockPodman(t *testing.T) (*PodmanEngine, *MockCommandRecorder) {
	t.Helper()
	rec := NewMockCommandRecorder()
	return NewPodmanEngine(
		WithBinaryPath("podman"),
		WithExecCommand(rec.ContextCommandFunc(t)),
		WithVolumeFormatter(labelVolume),
	), rec
}
