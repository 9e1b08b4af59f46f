// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates CUE documents against an embedded schema
// definition and decodes them into Go values. Recipes and the tool
// configuration both go through it, so their errors share one format: the
// file, the CUE path of the offending field and the schema's complaint.
//
//	//go:embed recipe_schema.cue
//	var src []byte
//
//	r, err := cueutil.Decode[Recipe](
//	    cueutil.Schema{Source: src, Definition: "#Recipe"},
//	    data,
//	    cueutil.WithFilename("imgprov.cue"),
//	)
package cueutil
