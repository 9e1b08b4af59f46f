// SPDX-License-Identifier: MPL-2.0

package recipe

import _ "embed"

//go:embed bin2tif.cue
var bin2tifRecipe []byte

// DefaultSource returns the CUE source of the reference bin2tif recipe.
func DefaultSource() []byte {
	return append([]byte(nil), bin2tifRecipe...)
}

// Default returns the reference bin2tif recipe. It panics if the embedded
// document is invalid, which the package tests rule out.
func Default() *Recipe {
	r, err := Parse(bin2tifRecipe, "bin2tif.cue")
	if err != nil {
		panic("recipe: embedded bin2tif recipe is invalid: " + err.Error())
	}
	return r
}
