// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/internal/testutil"
	"github.com/terraref/imgprov/pkg/recipe"
)

// newTestProvisioner returns a quiet provisioner with fast retries, staging
// under a temp dir, on a fake engine that builds correct images of r.
func newTestProvisioner(t *testing.T, r *recipe.Recipe, opts ...Option) (*LayerProvisioner, *testutil.FakeEngine) {
	t.Helper()

	engine := testutil.NewFakeEngine()
	engine.BuildHook = testutil.ProvisionedBuildHook(r)
	engine.RunHook = testutil.ProbesFor(r)

	cfg := DefaultConfig()
	cfg.StagingDir = t.TempDir()
	cfg.TagSuffix = ""
	cfg.Retry = container.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond}
	cfg.Apply(opts...)

	p := NewLayerProvisioner(engine, cfg, WithLogger(log.New(io.Discard)), WithOutput(io.Discard))
	return p, engine
}

func planDefault(t *testing.T) *Planned {
	t.Helper()
	p, _ := newTestProvisioner(t, recipe.Default())
	planned, err := p.Plan(Request{Recipe: recipe.Default(), ContextDir: testutil.ExtractorContext(t)})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	return planned
}
