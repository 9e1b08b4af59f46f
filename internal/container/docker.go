// SPDX-License-Identifier: MPL-2.0

package container

import "context"

// dockerVersionFormat asks for the server version, which fails when the
// daemon is down even though the client is installed.
const dockerVersionFormat = "{{.Server.Version}}"

// DockerEngine implements Engine with the Docker CLI.
type DockerEngine struct {
	*BaseCLIEngine
}

// NewDockerEngine creates a Docker engine using the docker binary on PATH.
func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	return &DockerEngine{newCLIEngine(EngineTypeDocker, nil, opts)}
}

func (e *DockerEngine) Name() string { return string(EngineTypeDocker) }

// Available reports whether the Docker daemon answers.
func (e *DockerEngine) Available() bool {
	_, err := e.queryVersion(context.Background(), dockerVersionFormat)
	return err == nil
}

// Version returns the Docker server version.
func (e *DockerEngine) Version(ctx context.Context) (string, error) {
	return e.queryVersion(ctx, dockerVersionFormat)
}

// ImageExists reports whether image is present locally. Docker has no
// "image exists"; a failed inspect means the image cannot be reused, so the
// error is not returned.
func (e *DockerEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	return e.RunCommandStatus(ctx, "image", "inspect", "--format", "{{.Id}}", image) == nil, nil
}
