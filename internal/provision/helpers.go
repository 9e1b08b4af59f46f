// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"os"
	"path/filepath"
	"strings"
)

// skipped reports whether a file or directory is left out of the image.
func skipped(name string, dir bool) bool {
	if dir {
		return name == ".git" || name == "__pycache__"
	}
	return strings.HasSuffix(name, ".pyc")
}

func skippedPath(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, p := range parts {
		if skipped(p, i < len(parts)-1) {
			return true
		}
	}
	return false
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, `*?[{`)
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
