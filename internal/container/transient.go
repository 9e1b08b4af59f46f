// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// transientMarkers are fragments of engine, apt and pip output that indicate
// a failure worth retrying.
var transientMarkers = []string{
	// rootless Podman races and OCI runtime errors
	"ping_group_range",
	"OCI runtime error",
	// name resolution and connectivity, from the registry or a package mirror
	"Temporary failure resolving",
	"Temporary failure in name resolution",
	"Could not resolve host",
	"connection timed out",
	"connection refused",
	"Connection reset by peer",
	"TLS handshake timeout",
	"i/o timeout",
	"Failed to fetch",
	"Hash Sum mismatch",
	"ReadTimeoutError",
	"Max retries exceeded",
	"toomanyrequests",
	"503 Service Unavailable",
	// overlay mount races on rootless Podman
	"error creating overlay mount",
	"error mounting layer",
}

// IsTransientError reports whether err is a container engine failure that may
// succeed on retry: network errors while pulling the base image or installing
// packages, engine storage races and generic engine errors (exit code 125).
// Context cancellation and deadline errors are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
