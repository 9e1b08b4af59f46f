// SPDX-License-Identifier: MPL-2.0

// Package verify checks a built image against the properties its plan
// promises: an unprivileged runtime user with the fixed UID, a single
// entrypoint owned by that user and executable, a search path that was
// extended rather than replaced, and copied files owned by the user.
//
// Configuration checks read the image config through the engine. Runtime
// checks start short-lived containers with the entrypoint overridden.
package verify
