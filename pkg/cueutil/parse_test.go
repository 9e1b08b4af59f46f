// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"

	cueerrors "cuelang.org/go/cue/errors"
)

const testSchema = `
#Thing: {
	name:   string & !=""
	count:  int & >=1 | *1
	extra?: string
}
`

var thingSchema = Schema{Source: []byte(testSchema), Definition: "#Thing"}

type thing struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Extra string `json:"extra,omitempty"`
}

func TestDecode(t *testing.T) {
	t.Parallel()

	result, err := Decode[thing](thingSchema, []byte(`name: "gdal"`), WithFilename("thing.cue"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value.Name != "gdal" {
		t.Errorf("Name = %q, want %q", result.Value.Name, "gdal")
	}
	if result.Value.Count != 1 {
		t.Errorf("Count = %d, want default 1", result.Value.Count)
	}
}

func TestDecode_SchemaViolation(t *testing.T) {
	t.Parallel()

	_, err := Decode[thing](thingSchema, []byte(`name: "x", count: 0`), WithFilename("thing.cue"))
	if err == nil {
		t.Fatal("expected error for count below bound")
	}
	if !strings.Contains(err.Error(), "thing.cue") {
		t.Errorf("error should name the file, got: %v", err)
	}
	if !strings.Contains(err.Error(), "count") {
		t.Errorf("error should name the field, got: %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error is %T, want *ValidationError in the chain", err)
	}
	if verr.File != "thing.cue" || len(verr.Lines) == 0 {
		t.Errorf("ValidationError = %+v", verr)
	}
	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		t.Error("the CUE error should stay reachable through Unwrap")
	}
}

func TestDecode_SizeLimit(t *testing.T) {
	t.Parallel()

	_, err := Decode[thing](thingSchema, []byte(`name: "abcdef"`), WithMaxFileSize(4))
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestDecode_UnknownDefinition(t *testing.T) {
	t.Parallel()

	_, err := Decode[thing](Schema{Source: []byte(testSchema), Definition: "#Missing"}, []byte(`name: "x"`))
	if err == nil || !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestDecodeMap(t *testing.T) {
	t.Parallel()

	m, err := DecodeMap(thingSchema, []byte(`name: "x", count: 2`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["name"] != "x" {
		t.Errorf("name = %v, want x", m["name"])
	}
	if _, err := DecodeMap(thingSchema, []byte(`count: 0`)); err == nil {
		t.Error("expected bound violation in a partial document")
	}
}
