// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"
	"testing"
)

func TestId_Constants(t *testing.T) {
	ids := []Id{
		RecipeNotFoundId,
		RecipeInvalidId,
		UnpinnedPackagesId,
		ContainerEngineNotFoundId,
		CopySourceMissingId,
		PackageInstallFailedId,
		VerificationFailedId,
		ConfigLoadFailedId,
		PermissionDeniedId,
		LockDriftId,
	}

	seen := make(map[Id]bool)
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate ID: %d", id)
		}
		seen[id] = true
		if Get(id) == nil {
			t.Errorf("Get(%d) returned nil", id)
		}
	}

	if RecipeNotFoundId != 1 {
		t.Errorf("RecipeNotFoundId = %d, want 1", RecipeNotFoundId)
	}
	if len(Values()) != len(ids) {
		t.Errorf("Values() has %d entries, want %d", len(Values()), len(ids))
	}
}

func TestValues_Sorted(t *testing.T) {
	values := Values()
	for i := 1; i < len(values); i++ {
		if values[i-1].Id() >= values[i].Id() {
			t.Errorf("Values() not sorted at %d: %d >= %d", i, values[i-1].Id(), values[i].Id())
		}
	}
	for _, v := range values {
		if strings.TrimSpace(string(v.MarkdownMsg())) == "" {
			t.Errorf("issue %d has an empty message", v.Id())
		}
		if !strings.Contains(string(v.MarkdownMsg()), "# ") {
			t.Errorf("issue %d has no heading", v.Id())
		}
	}
}

func TestGet_Unknown(t *testing.T) {
	if Get(0) != nil {
		t.Error("Get(0) should return nil")
	}
	if Get(Id(1000)) != nil {
		t.Error("Get(1000) should return nil")
	}
}

func TestIssue_LinksAreCloned(t *testing.T) {
	issue := Get(ContainerEngineNotFoundId)
	links := issue.DocLinks()
	if len(links) == 0 {
		t.Fatal("ContainerEngineNotFoundId should have doc links")
	}
	original := links[0]
	links[0] = "modified"
	if issue.DocLinks()[0] != original {
		t.Error("DocLinks() should return a clone")
	}

	ext := Get(UnpinnedPackagesId).ExtLinks()
	if len(ext) == 0 {
		t.Fatal("UnpinnedPackagesId should have external links")
	}
	ext[0] = "modified"
	if Get(UnpinnedPackagesId).ExtLinks()[0] == "modified" {
		t.Error("ExtLinks() should return a clone")
	}
}

func TestIssue_Render(t *testing.T) {
	originalRender := render
	defer func() { render = originalRender }()

	var gotStyle string
	render = func(in string, stylePath string) (string, error) {
		gotStyle = stylePath
		return in, nil
	}

	rendered, err := Get(ContainerEngineNotFoundId).Render("notty")
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}
	if gotStyle != "notty" {
		t.Errorf("Render() style = %q, want notty", gotStyle)
	}
	for _, want := range []string{"No container engine found", "## See also", "<https://podman.io/docs/installation>"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("Render() output should contain %q, got:\n%s", want, rendered)
		}
	}

	rendered, err = Get(CopySourceMissingId).Render("notty")
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}
	if strings.Contains(rendered, "See also") {
		t.Error("Render() should not add a See also section without links")
	}
}

func TestIssue_RenderGlamour(t *testing.T) {
	rendered, err := Get(RecipeNotFoundId).Render("notty")
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}
	if !strings.Contains(rendered, "imgprov recipe default") {
		t.Errorf("rendered issue should keep the command, got:\n%s", rendered)
	}
}
