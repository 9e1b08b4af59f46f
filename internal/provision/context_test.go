// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/terraref/imgprov/internal/ocilayer"
	"github.com/terraref/imgprov/internal/testutil"
	"github.com/terraref/imgprov/pkg/recipe"
)

func targets(src Source) []string {
	var out []string
	for _, f := range src.Files {
		out = append(out, f.Target)
	}
	return out
}

func TestResolveCopies_Extractor(t *testing.T) {
	t.Parallel()

	dir := testutil.ExtractorContext(t)
	testutil.MustWriteFile(t, dir, "terrautils/__pycache__/formats.cpython-36.pyc", "x", 0o644)
	testutil.MustWriteFile(t, dir, "terraref/stale.pyc", "x", 0o644)

	sources, err := ResolveCopies(dir, recipe.Default())
	if err != nil {
		t.Fatalf("ResolveCopies() error = %v", err)
	}
	if len(sources) != 4 {
		t.Fatalf("ResolveCopies() returned %d sources, want 4", len(sources))
	}

	want := [][]string{
		{
			"/home/extractor/terraref/__init__.py",
			"/home/extractor/terraref/stereo_rgb/__init__.py",
			"/home/extractor/terraref/stereo_rgb/stereo_rgb.py",
		},
		{"/home/extractor/sensors/stereoTop.json"},
		{
			"/home/extractor/terrautils/__init__.py",
			"/home/extractor/terrautils/formats.py",
			"/home/extractor/terrautils/spatial.py",
		},
		{"/home/extractor/bin2tif.py", "/home/extractor/terraref_extractor.py"},
	}
	for i, src := range sources {
		if got := targets(src); !slices.Equal(got, want[i]) {
			t.Errorf("sources[%d] targets = %v, want %v", i, got, want[i])
		}
		if src.StagedDir() != fmt.Sprintf("files/%d", i) {
			t.Errorf("sources[%d].StagedDir() = %q", i, src.StagedDir())
		}
	}

	for _, f := range sources[3].Files {
		if wantExec := f.Target == "/home/extractor/bin2tif.py"; f.Executable != wantExec {
			t.Errorf("%s Executable = %v, want %v", f.Target, f.Executable, wantExec)
		}
	}
}

func TestResolveCopies_Missing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(r *recipe.Recipe)
		setup  func(t *testing.T, dir string)
	}{
		{
			name:   "missing directory",
			mutate: func(r *recipe.Recipe) { r.Copies[1].Source = "calibration" },
		},
		{
			name:   "glob without matches",
			mutate: func(r *recipe.Recipe) { r.Copies = append(r.Copies, recipe.CopyEntry{Source: "*.sh"}) },
		},
		{
			name: "directory without files",
			mutate: func(r *recipe.Recipe) {
				r.Copies = append(r.Copies, recipe.CopyEntry{Source: "empty", Dest: "empty"})
			},
			setup: func(t *testing.T, dir string) {
				if err := os.MkdirAll(filepath.Join(dir, "empty", "nested"), 0o755); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := testutil.ExtractorContext(t)
			if tt.setup != nil {
				tt.setup(t, dir)
			}
			r := recipe.Default()
			tt.mutate(r)

			_, err := ResolveCopies(dir, r)
			if !errors.Is(err, ErrCopySourceMissing) {
				t.Fatalf("ResolveCopies() error = %v, want ErrCopySourceMissing", err)
			}
			if !errors.Is(err, ErrProvisioning) {
				t.Errorf("ResolveCopies() error = %v should be a provisioning error", err)
			}
		})
	}
}

func TestResolveCopies_BadContext(t *testing.T) {
	t.Parallel()

	_, err := ResolveCopies(filepath.Join(t.TempDir(), "nowhere"), recipe.Default())
	if !errors.Is(err, ErrCopySourceMissing) {
		t.Errorf("ResolveCopies() error = %v, want ErrCopySourceMissing", err)
	}
}

func TestCopySteps_ContentDigest(t *testing.T) {
	t.Parallel()

	dir := testutil.ExtractorContext(t)
	r := recipe.Default()

	steps := func() []string {
		t.Helper()
		sources, err := ResolveCopies(dir, r)
		if err != nil {
			t.Fatal(err)
		}
		cs, err := CopySteps(sources, r.User)
		if err != nil {
			t.Fatal(err)
		}
		var keys []string
		for _, c := range cs {
			keys = append(keys, c.Content.String())
		}
		return keys
	}

	first := steps()
	if again := steps(); !slices.Equal(first, again) {
		t.Fatalf("content digests differ between identical resolutions: %v vs %v", first, again)
	}

	testutil.MustWriteFile(t, dir, "sensors/stereoTop.json", `{"fov": 1}`+"\n", 0o644)
	changed := steps()
	if changed[1] == first[1] {
		t.Error("changing a sensors file did not change its copy digest")
	}
	if changed[0] != first[0] || changed[2] != first[2] || changed[3] != first[3] {
		t.Error("changing a sensors file changed other copy digests")
	}
}

func TestStage(t *testing.T) {
	t.Parallel()

	dir := testutil.ExtractorContext(t)
	sources, err := ResolveCopies(dir, recipe.Default())
	if err != nil {
		t.Fatal(err)
	}

	parent := filepath.Join(t.TempDir(), "imgprov-build")
	bc, err := Stage(parent, sources, "FROM scratch\n")
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	for _, rel := range []string{
		"Dockerfile",
		"files/0/__init__.py",
		"files/0/stereo_rgb/stereo_rgb.py",
		"files/1/stereoTop.json",
		"files/2/formats.py",
		"files/3/bin2tif.py",
		"files/3/terraref_extractor.py",
	} {
		if _, err := os.Stat(filepath.Join(bc.Dir, filepath.FromSlash(rel))); err != nil {
			t.Errorf("staged context is missing %s: %v", rel, err)
		}
	}
	fi, err := os.Stat(filepath.Join(bc.Dir, "files", "3", "bin2tif.py"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0o100 == 0 {
		t.Errorf("staged entrypoint mode = %v, want executable", fi.Mode())
	}

	bc.Cleanup()
	if _, err := os.Stat(bc.Dir); !os.IsNotExist(err) {
		t.Errorf("Cleanup() left %s behind", bc.Dir)
	}
}

func TestStage_NormalizesModes(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	files := map[string]os.FileMode{"run.sh": 0o700, "secret.json": 0o600, "plain.py": 0o664}
	var entries []ocilayer.Entry
	for name, mode := range files {
		p := filepath.Join(host, name)
		if err := os.WriteFile(p, []byte(name), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(p, mode); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, ocilayer.Entry{Source: p, Target: "/home/extractor/" + name})
	}

	src := Source{Index: 0, Dest: "/home/extractor", Files: entries}
	bc, err := Stage(t.TempDir(), []Source{src}, "FROM scratch\n")
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	t.Cleanup(bc.Cleanup)

	want := map[string]os.FileMode{"run.sh": ocilayer.ExecMode, "secret.json": ocilayer.FileMode, "plain.py": ocilayer.FileMode}
	for name, mode := range want {
		fi, err := os.Stat(filepath.Join(bc.Dir, "files", "0", name))
		if err != nil {
			t.Fatal(err)
		}
		if fi.Mode().Perm() != mode {
			t.Errorf("staged %s mode = %o, want %o", name, fi.Mode().Perm(), mode)
		}
	}
}

func TestSkippedPath(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"formats.py":                     false,
		"__pycache__/formats.pyc":        true,
		"a/__pycache__/x.py":             true,
		".git/config":                    true,
		"stale.pyc":                      true,
		"stereo_rgb/stereo_rgb.py":       false,
		"docs/__pycache__":               false,
		"nested/.github/workflows/x.yml": false,
	}
	for rel, want := range tests {
		if got := skippedPath(rel); got != want {
			t.Errorf("skippedPath(%q) = %v, want %v", rel, got, want)
		}
	}
}
