// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the imgprov command tree.
//
// Every handler receives an *App, the composition root that owns the
// configuration provider, the container engine factory and the output
// streams. Tests replace those through Dependencies.
package cmd
