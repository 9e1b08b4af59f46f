// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"fmt"
	"strings"

	"github.com/terraref/imgprov/internal/pipeline"
)

// Describe returns a one-line summary of what a layer does.
func Describe(l pipeline.Layer) string {
	switch s := l.Step.(type) {
	case pipeline.BaseStep:
		return "from " + s.Image
	case pipeline.CreateUserStep:
		return fmt.Sprintf("create user %s (uid %d, gid %d, home %s)", s.User.Name, s.User.UID, s.User.GroupID(), s.User.Home)
	case pipeline.PackagesStep:
		names := make([]string, 0, len(s.Packages))
		for _, p := range s.Packages {
			names = append(names, PackageSpec(s.Type, p))
		}
		return fmt.Sprintf("install %s packages: %s", s.Type, strings.Join(names, " "))
	case pipeline.CopyStep:
		return fmt.Sprintf("copy %s to %s (%d files)", s.Origin, s.Dest, len(s.Files))
	case pipeline.PermissionsStep:
		return fmt.Sprintf("give %s to %s, make %s executable", strings.Join(s.Paths, " "), s.Owner.Name, s.Executable)
	case pipeline.DropPrivilegesStep:
		return fmt.Sprintf("switch to %s", s.User.Name)
	case pipeline.EnvStep:
		return fmt.Sprintf("prepend %s to %s", s.Dir, s.Name)
	case pipeline.EntrypointStep:
		return "entrypoint " + s.Path
	}
	return string(l.Step.Kind())
}

// DescribeLayers lists the plan's layers, one per line.
func DescribeLayers(p *pipeline.Plan) string {
	var sb strings.Builder
	for _, l := range p.Layers() {
		fmt.Fprintf(&sb, "%2d  %-16s %s  %s\n", l.Index, l.Step.Kind(), l.Key.Encoded()[:12], Describe(l))
	}
	return sb.String()
}

// Markdown renders the plan, its pin findings and its Dockerfile as a
// Markdown document.
func (pl *Planned) Markdown() (string, error) {
	dockerfile, err := RenderDockerfile(pl.Plan, pl.Recipe.Labels)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", pl.Recipe.ImageTag())
	fmt.Fprintf(&sb, "Plan key `%s`, running as `%s` (uid %d).\n\n", pl.Plan.Key(), pl.Plan.User().Name, pl.Plan.User().UID)

	sb.WriteString("## Layers\n\n| # | Step | Key | Description |\n|---|---|---|---|\n")
	for _, l := range pl.Plan.Layers() {
		fmt.Fprintf(&sb, "| %d | %s | `%s` | %s |\n", l.Index, l.Step.Kind(), l.Key.Encoded()[:12], strings.ReplaceAll(Describe(l), "|", `\|`))
	}

	if len(pl.Findings) > 0 {
		sb.WriteString("\n## Unpinned packages\n\n")
		for _, f := range pl.Findings {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	fmt.Fprintf(&sb, "\n## Dockerfile\n\n~~~dockerfile\n%s~~~\n", dockerfile)
	return sb.String(), nil
}
