// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

type (
	// Schema names a definition inside an embedded CUE source.
	Schema struct {
		Source []byte
		// Definition is the root the document is unified with, e.g. "#Recipe".
		Definition string
	}

	// ParseResult holds a decoded document.
	ParseResult[T any] struct {
		Value *T

		// Unified is the document after unification with the schema, for
		// callers that need fields the Go type does not carry.
		Unified cue.Value
	}
)

// root compiles the schema source and returns its definition.
func (s Schema) root(ctx *cue.Context) (cue.Value, error) {
	src := ctx.CompileBytes(s.Source)
	if err := src.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: compile schema: %w", err)
	}
	def := src.LookupPath(cue.ParsePath(s.Definition))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s: %w", s.Definition, err)
	}
	return def, nil
}

// Decode validates data against s and decodes the unified value into T.
// Errors in the document are returned as *ValidationError.
func Decode[T any](s Schema, data []byte, opts ...Option) (*ParseResult[T], error) {
	o := newOptions(opts)
	if err := CheckFileSize(data, o.maxFileSize, o.filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()
	def, err := s.root(ctx)
	if err != nil {
		return nil, err
	}

	doc := ctx.CompileBytes(data, cue.Filename(o.filename))
	if err := doc.Err(); err != nil {
		return nil, FormatError(err, o.filename)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(o.concrete)); err != nil {
		return nil, FormatError(err, o.filename)
	}

	out := new(T)
	if err := unified.Decode(out); err != nil {
		return nil, FormatError(err, o.filename)
	}
	return &ParseResult[T]{Value: out, Unified: unified}, nil
}

// DecodeMap decodes a partial document into a generic map, for layering over
// defaults in viper. Fields need not be concrete.
func DecodeMap(s Schema, data []byte, opts ...Option) (map[string]any, error) {
	result, err := Decode[map[string]any](s, data, append(opts, WithConcrete(false))...)
	if err != nil {
		return nil, err
	}
	return *result.Value, nil
}
