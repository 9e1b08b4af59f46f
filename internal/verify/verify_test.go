// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/internal/testutil"
	"github.com/terraref/imgprov/pkg/recipe"
)

const image = "terraref/extractor-bin2tif:1.0"

// goodEngine holds a correctly provisioned image of the reference recipe on
// top of a base image that already sets PYTHONPATH.
func goodEngine(t *testing.T) (*testutil.FakeEngine, *recipe.Recipe) {
	t.Helper()
	r := recipe.Default()
	engine := testutil.NewFakeEngine()
	engine.Images[r.BaseImage] = &container.ImageInfo{ID: "sha256:base"}
	engine.Images[r.BaseImage].Config.Env = []string{"PYTHONPATH=/usr/lib/python3/dist-packages"}
	engine.Images[image] = &container.ImageInfo{ID: "sha256:img", Config: testutil.ImageConfigFor(r, "/usr/lib/python3/dist-packages")}
	engine.RunHook = testutil.ProbesFor(r)
	return engine, r
}

func newVerifier(engine container.Engine) *Verifier {
	return New(engine, WithLogger(log.New(io.Discard)))
}

func TestVerify_AllPass(t *testing.T) {
	t.Parallel()

	engine, r := goodEngine(t)
	report, err := newVerifier(engine).Verify(t.Context(), image, FromRecipe(r))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Passed() {
		t.Fatalf("expected all checks to pass, failed: %+v", report.Failed())
	}
	if err := report.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}

	names := make(map[string]bool)
	for _, c := range report.Checks {
		names[c.Name] = true
	}
	for _, want := range []string{CheckUser, CheckEffectiveUID, CheckPasswd, CheckEntrypoint, CheckEntrypointConfig, CheckSearchPath, CheckOwnership} {
		if !names[want] {
			t.Errorf("check %s did not run", want)
		}
	}

	for _, run := range engine.Runs {
		if !run.Remove {
			t.Errorf("probe %s must remove its container", run.Entrypoint)
		}
		if run.User != "" {
			t.Errorf("probe %s must run as the image user, got override %q", run.Entrypoint, run.User)
		}
	}
}

func TestVerify_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(e *testutil.FakeEngine, r *recipe.Recipe)
		failed string
		detail string
	}{
		{
			name:   "root user",
			mutate: func(e *testutil.FakeEngine, _ *recipe.Recipe) { e.Images[image].Config.User = "" },
			failed: CheckUser,
			detail: "root",
		},
		{
			name:   "other user",
			mutate: func(e *testutil.FakeEngine, _ *recipe.Recipe) { e.Images[image].Config.User = "1000" },
			failed: CheckUser,
			detail: "is not extractor",
		},
		{
			name: "second entrypoint element",
			mutate: func(e *testutil.FakeEngine, r *recipe.Recipe) {
				e.Images[image].Config.Entrypoint = []string{r.EntrypointPath(), "-d"}
			},
			failed: CheckEntrypointConfig,
		},
		{
			name: "search path replaced",
			mutate: func(e *testutil.FakeEngine, _ *recipe.Recipe) {
				e.Images[image].Config.Env = []string{"PYTHONPATH=/home/extractor"}
			},
			failed: CheckSearchPath,
			detail: "dropped",
		},
		{
			name: "search path missing dir",
			mutate: func(e *testutil.FakeEngine, _ *recipe.Recipe) {
				e.Images[image].Config.Env = []string{"PYTHONPATH=/usr/lib/python3/dist-packages"}
			},
			failed: CheckSearchPath,
			detail: "does not contain",
		},
		{
			name: "effective uid root",
			mutate: func(e *testutil.FakeEngine, r *recipe.Recipe) {
				e.RunHook = override(testutil.ProbesFor(r), "id", "0\n", 0)
			},
			failed: CheckEffectiveUID,
			detail: "UID 0",
		},
		{
			name: "passwd uid mismatch",
			mutate: func(e *testutil.FakeEngine, r *recipe.Recipe) {
				e.RunHook = override(testutil.ProbesFor(r), "cat", "extractor:x:1000:1000::/home/extractor:/bin/sh\n", 0)
			},
			failed: CheckPasswd,
			detail: "has UID 1000",
		},
		{
			name: "entrypoint not executable",
			mutate: func(e *testutil.FakeEngine, r *recipe.Recipe) {
				e.RunHook = override(testutil.ProbesFor(r), "stat", "49044 644\n", 0)
			},
			failed: CheckEntrypoint,
			detail: "cannot execute",
		},
		{
			name: "entrypoint owned by root",
			mutate: func(e *testutil.FakeEngine, r *recipe.Recipe) {
				e.RunHook = override(testutil.ProbesFor(r), "stat", "0 755\n", 0)
			},
			failed: CheckEntrypoint,
			detail: "owned by UID 0",
		},
		{
			name: "foreign files",
			mutate: func(e *testutil.FakeEngine, r *recipe.Recipe) {
				e.RunHook = override(testutil.ProbesFor(r), "find", "/home/extractor/terrautils/formats.py\n", 0)
			},
			failed: CheckOwnership,
			detail: "terrautils/formats.py",
		},
		{
			name: "probe exits non-zero",
			mutate: func(e *testutil.FakeEngine, r *recipe.Recipe) {
				e.RunHook = override(testutil.ProbesFor(r), "stat", "", 1)
			},
			failed: CheckEntrypoint,
			detail: "exited with 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine, r := goodEngine(t)
			tt.mutate(engine, r)

			report, err := newVerifier(engine).Verify(t.Context(), image, FromRecipe(r))
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			failed := report.Failed()
			if len(failed) != 1 || failed[0].Name != tt.failed {
				t.Fatalf("failed checks = %+v, want only %s", failed, tt.failed)
			}
			if !strings.Contains(failed[0].Detail, tt.detail) {
				t.Errorf("detail %q does not mention %q", failed[0].Detail, tt.detail)
			}
			if err := report.Err(); !errors.Is(err, ErrVerificationFailed) {
				t.Errorf("Err() = %v, want ErrVerificationFailed", err)
			}
		})
	}
}

func TestVerify_BaseImageMissing(t *testing.T) {
	t.Parallel()

	engine, r := goodEngine(t)
	delete(engine.Images, r.BaseImage)

	report, err := newVerifier(engine).Verify(t.Context(), image, FromRecipe(r))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Passed() {
		t.Errorf("a missing base image should only skip the preserved component check: %+v", report.Failed())
	}
}

func TestVerify_ImageMissing(t *testing.T) {
	t.Parallel()

	engine, r := goodEngine(t)
	if _, err := newVerifier(engine).Verify(t.Context(), "nope:1", FromRecipe(r)); err == nil {
		t.Error("expected error for a missing image")
	}
}

func TestSplitPath(t *testing.T) {
	t.Parallel()

	got := splitPath("/a::/b:")
	if len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Errorf("splitPath() = %v", got)
	}
}

func override(base func(container.RunOptions) (string, int), entrypoint, stdout string, code int) func(container.RunOptions) (string, int) {
	return func(opts container.RunOptions) (string, int) {
		if opts.Entrypoint == entrypoint {
			return stdout, code
		}
		return base(opts)
	}
}
