// SPDX-License-Identifier: MPL-2.0

// Package container drives the Docker and Podman command line clients.
//
// The Engine interface covers what image provisioning needs: Build, Run, Tag,
// ImageExists, InspectImage and RemoveImage. DockerEngine and PodmanEngine
// both embed BaseCLIEngine, which builds the argument lists and executes them.
//
// NewEngine selects an engine with fallback to the other one when the preferred
// engine is unavailable. AutoDetectEngine tries Podman first.
//
// RetryWithBackoff and IsTransientError bound retries of operations that touch
// registries and package mirrors.
package container
