// SPDX-License-Identifier: MPL-2.0

// Package testutil provides test helpers: environment and filesystem setup
// that fails the test on error, a scriptable fake container engine, an
// extractor build context fixture and build slots that bound concurrent real
// image builds.
package testutil
