// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/terraref/imgprov/pkg/cueutil"
)

// FileName is the conventional recipe file name in a build context.
const FileName = "imgprov.cue"

//go:embed recipe_schema.cue
var schemaSource []byte

var schema = cueutil.Schema{Source: schemaSource, Definition: "#Recipe"}

// Parse decodes and validates a recipe document. filename is used in errors.
func Parse(data []byte, filename string) (*Recipe, error) {
	result, err := cueutil.Decode[Recipe](schema, data, cueutil.WithFilename(filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}

	r := result.Value
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads and parses the recipe at path.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}
	return Parse(data, path)
}
