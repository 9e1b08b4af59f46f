// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const podmanVersionFormat = "{{.Version}}"

// selinuxEnforcePath is read to decide whether volumes need a label.
var selinuxEnforcePath = "/sys/fs/selinux/enforce"

// PodmanEngine implements Engine with the Podman CLI. On hosts with SELinux
// enforcing, bind mounts such as the run workspace get the :z label.
type PodmanEngine struct {
	*BaseCLIEngine
}

// NewPodmanEngine creates a Podman engine using the podman binary on PATH.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	defaults := []BaseCLIEngineOption{WithVolumeFormatter(addSELinuxLabel)}
	return &PodmanEngine{newCLIEngine(EngineTypePodman, defaults, opts)}
}

func (e *PodmanEngine) Name() string { return string(EngineTypePodman) }

// Available reports whether Podman answers.
func (e *PodmanEngine) Available() bool {
	_, err := e.queryVersion(context.Background(), podmanVersionFormat)
	return err == nil
}

// Version returns the Podman version.
func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	return e.queryVersion(ctx, podmanVersionFormat)
}

// ImageExists reports whether image is present locally. "podman image exists"
// exits 1 for a missing image; any other failure is returned.
func (e *PodmanEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	err := e.RunCommandStatus(ctx, "image", "exists", image)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return false, nil
	default:
		return false, err
	}
}

func addSELinuxLabel(volume string) string {
	data, err := os.ReadFile(selinuxEnforcePath)
	if err != nil || strings.TrimSpace(string(data)) != "1" {
		return volume
	}
	return labelVolume(volume)
}

// labelVolume adds the shared z label to a host:container[:opts] volume
// unless it already has z or Z.
func labelVolume(volume string) string {
	_, rest, ok := strings.Cut(volume, ":")
	if !ok {
		return volume
	}
	_, opts, hasOpts := strings.Cut(rest, ":")
	if !hasOpts {
		return volume + ":z"
	}
	if slices.ContainsFunc(strings.Split(opts, ","), func(o string) bool { return o == "z" || o == "Z" }) {
		return volume
	}
	return volume + ",z"
}
