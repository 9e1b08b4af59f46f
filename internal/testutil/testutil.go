// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// MustSetenv sets key for the duration of the test.
func MustSetenv(t testing.TB, key, value string) {
	t.Helper()
	original, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, original)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

// SetHomeDir points HOME and XDG_CONFIG_HOME at dir for the duration of the test.
func SetHomeDir(t testing.TB, dir string) {
	t.Helper()
	MustSetenv(t, "HOME", dir)
	MustSetenv(t, "XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
}

// MustWriteFile writes content to dir/name, creating parent directories.
func MustWriteFile(t testing.TB, dir, name, content string, perm os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", p, err)
	}
	if err := os.WriteFile(p, []byte(content), perm); err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
	return p
}

// ExtractorContext creates a build context laid out like the bin2tif
// extractor checkout and returns its path.
func ExtractorContext(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	MustWriteFile(t, dir, "bin2tif.py", "#!/usr/bin/env python3\nimport terrautils.formats\n", 0o755)
	MustWriteFile(t, dir, "terraref_extractor.py", "from pyclowder.extractors import Extractor\n", 0o644)
	MustWriteFile(t, dir, "terraref/__init__.py", "", 0o644)
	MustWriteFile(t, dir, "terraref/stereo_rgb/__init__.py", "", 0o644)
	MustWriteFile(t, dir, "terraref/stereo_rgb/stereo_rgb.py", "def process_raw(shape, path): pass\n", 0o644)
	MustWriteFile(t, dir, "sensors/stereoTop.json", "{}\n", 0o644)
	MustWriteFile(t, dir, "terrautils/__init__.py", "", 0o644)
	MustWriteFile(t, dir, "terrautils/formats.py", "def create_geotiff(): pass\n", 0o644)
	MustWriteFile(t, dir, "terrautils/spatial.py", "def geojson_to_tuples(bb): pass\n", 0o644)
	return dir
}
