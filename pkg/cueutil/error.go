// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ValidationError is a CUE error flattened into "<json-path>: <message>"
// lines. It unwraps to the original CUE error.
type ValidationError struct {
	File  string
	Lines []string
	Err   error
}

func (e *ValidationError) Error() string {
	if len(e.Lines) == 1 {
		return e.File + ": " + e.Lines[0]
	}
	return e.File + ": validation failed:\n  " + strings.Join(e.Lines, "\n  ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// FormatError flattens a CUE error into a *ValidationError:
//
//	imgprov.cue: lang_packages[2].version: conflicting values "1.0" and int
//	config.cue: build.retry.max_attempts: invalid value 0 (out of bound >=1)
//
// Errors that do not come from CUE are wrapped with the file path only.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}
	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	list := cueerrors.Errors(err)
	lines := make([]string, 0, len(list))
	for _, e := range list {
		pathStr := formatPath(cueerrors.Path(e))
		msg := e.Error()

		// CUE repeats the path at the start of some messages.
		if pathStr != "" && strings.HasPrefix(msg, pathStr) {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, pathStr), ":"))
		}

		if pathStr != "" {
			lines = append(lines, pathStr+": "+msg)
		} else {
			lines = append(lines, msg)
		}
	}
	return &ValidationError{File: filePath, Lines: lines, Err: err}
}

// formatPath renders ["copies", "0", "source"] as "copies[0].source".
func formatPath(path []string) string {
	var result strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			result.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			result.WriteString(".")
		}
		result.WriteString(part)
	}
	return result.String()
}

func isIndex(part string) bool {
	if part == "" {
		return false
	}
	for _, c := range part {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize rejects documents larger than maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes",
			filename, len(data), maxSize)
	}
	return nil
}
