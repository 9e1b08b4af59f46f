// SPDX-License-Identifier: MPL-2.0

// Package manifest records which packages an image actually contains.
//
// Collect queries dpkg and pip inside the image. A Manifest can be stored as
// a TOML lock file and later compared with a rebuilt image to detect drift,
// and it can be checked against the pins of the recipe that produced it.
package manifest
