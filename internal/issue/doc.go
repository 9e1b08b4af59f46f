// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of known failure
// modes rendered as Markdown for the terminal.
package issue
