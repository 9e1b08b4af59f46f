// SPDX-License-Identifier: MPL-2.0

// Package ocilayer assembles the application files of a recipe into a
// deterministic OCI layer.
//
// Entries are written in path order with a fixed modification time, the
// execution identity as owner and normalized modes, so the same files always
// produce the same layer digest. The digest is what the pipeline uses as the
// content key of a copy step.
package ocilayer
