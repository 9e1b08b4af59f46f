// SPDX-License-Identifier: MPL-2.0

// Package config handles imgprov configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/imgprov/config.cue (defaulting to
// ~/.config/imgprov/config.cue), from config.cue in the working directory, or from the
// file given with --config. Values are validated against an embedded CUE schema
// (config_schema.cue) and can be overridden with IMGPROV_ environment variables, for
// example IMGPROV_BUILD_STRICT_PINS=true.
package config
