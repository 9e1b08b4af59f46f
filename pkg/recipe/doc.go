// SPDX-License-Identifier: MPL-2.0

// Package recipe defines the declarative provisioning recipe consumed by imgprov.
//
// A recipe names a pinned base image, the unprivileged execution identity, the OS
// and language packages to install, the files to copy into the identity's home,
// the library search path variable to extend and the single entrypoint:
//
//	base_image: "ubuntu:18.04"
//	user: {name: "extractor", uid: 49044, home: "/home/extractor"}
//	lang_packages: [{name: "numpy", version: "1.19.5"}]
//	copies: [{source: "terrautils"}, {source: "*.py"}]
//	search_path: name: "PYTHONPATH"
//	entrypoint: "bin2tif.py"
//
// Recipes are CUE documents validated against the embedded #Recipe schema, then
// against rules CUE cannot express (see Recipe.Validate). Default returns the
// reference recipe for the bin2tif extractor.
package recipe
