// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/terraref/imgprov/internal/pipeline"
	"github.com/terraref/imgprov/pkg/recipe"
)

// aptLists is removed after installing OS packages to keep the layer small.
const aptLists = "/var/lib/apt/lists/*"

// RenderDockerfile renders a finished plan. Every privileged step becomes a
// single instruction; labels are written next to the plan key label.
func RenderDockerfile(p *pipeline.Plan, labels map[string]string) (string, error) {
	var sb strings.Builder
	for _, l := range p.Layers() {
		if l.Index > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# %s\n", l)

		var err error
		switch s := l.Step.(type) {
		case pipeline.BaseStep:
			err = renderBase(&sb, s, p.Key().String(), labels)
		case pipeline.CreateUserStep:
			var cmds []string
			if cmds, err = createUserCommands(s.User); err == nil {
				err = writeRun(&sb, cmds...)
			}
		case pipeline.PackagesStep:
			var cmds []string
			if cmds, err = packagesCommands(s); err == nil {
				err = writeRun(&sb, cmds...)
			}
		case pipeline.CopyStep:
			fmt.Fprintf(&sb, "COPY --chown=%s %s/ %s/\n", owner(p.User()), s.Source, strings.TrimSuffix(s.Dest, "/"))
		case pipeline.PermissionsStep:
			var cmds []string
			if cmds, err = permissionsCommands(s); err == nil {
				err = writeRun(&sb, cmds...)
			}
		case pipeline.DropPrivilegesStep:
			fmt.Fprintf(&sb, "USER %s\n", owner(s.User))
		case pipeline.EnvStep:
			fmt.Fprintf(&sb, "ENV %s=\"%s${%s:+:${%s}}\"\n", s.Name, s.Dir, s.Name, s.Name)
		case pipeline.EntrypointStep:
			entry, _ := json.Marshal([]string{s.Path}) // a []string always encodes
			fmt.Fprintf(&sb, "ENTRYPOINT %s\n", entry)
		default:
			err = fmt.Errorf("unsupported step %s", l.Step.Kind())
		}
		if err != nil {
			return "", fmt.Errorf("failed to render layer %s: %w", l, err)
		}
	}
	return sb.String(), nil
}

func renderBase(sb *strings.Builder, s pipeline.BaseStep, planKey string, labels map[string]string) error {
	fmt.Fprintf(sb, "FROM %s\n", s.Image)
	fmt.Fprintf(sb, "LABEL %s=%s", PlanKeyLabel, strconv.Quote(planKey))
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		if k == PlanKeyLabel {
			return fmt.Errorf("label %s is reserved", PlanKeyLabel)
		}
		fmt.Fprintf(sb, " \\\n      %s=%s", strconv.Quote(k), strconv.Quote(labels[k]))
	}
	sb.WriteString("\n")
	return nil
}

func createUserCommands(u recipe.Identity) ([]string, error) {
	uid, gid := strconv.Itoa(u.UID), strconv.Itoa(u.GroupID())
	return quoteEach(
		[]string{"groupadd", "--gid", gid, u.Name},
		[]string{"useradd", "--uid", uid, "--gid", gid, "--home-dir", u.Home, "--create-home", "--shell", "/bin/sh", "--no-log-init", u.Name},
	)
}

func packagesCommands(s pipeline.PackagesStep) ([]string, error) {
	retries := strconv.Itoa(s.Retries)
	specs := make([]string, 0, len(s.Packages))
	for _, p := range s.Packages {
		specs = append(specs, PackageSpec(s.Type, p))
	}

	if s.Type == recipe.KindLang {
		return quoteEach(append([]string{"python3", "-m", "pip", "install", "--no-cache-dir", "--retries", retries}, specs...))
	}

	cmds, err := quoteEach(
		[]string{"apt-get", "-o", "Acquire::Retries=" + retries, "update"},
		append([]string{"apt-get", "install", "-y", "--no-install-recommends", "-o", "Acquire::Retries=" + retries}, specs...),
	)
	if err != nil {
		return nil, err
	}
	cmds[1] = "DEBIAN_FRONTEND=noninteractive " + cmds[1]
	return append(cmds, "rm -rf "+aptLists), nil
}

func permissionsCommands(s pipeline.PermissionsStep) ([]string, error) {
	return quoteEach(
		append([]string{"chown", "-R", owner(s.Owner)}, s.Paths...),
		[]string{"chmod", "+x", s.Executable},
	)
}

// PackageSpec renders a package the way its package manager accepts it:
// "name=version" for apt, "name==version" or "name<constraint>" for pip.
func PackageSpec(kind recipe.PackageKind, p recipe.Package) string {
	v := strings.TrimSpace(p.Version)
	switch {
	case v == "":
		return p.Name
	case kind == recipe.KindOS:
		return p.Name + "=" + v
	case strings.ContainsAny(v[:1], "=<>~!"):
		return p.Name + v
	default:
		return p.Name + "==" + v
	}
}

// writeRun writes cmds as one RUN instruction chained with "&&", after
// checking that the chain parses as a POSIX shell program.
func writeRun(sb *strings.Builder, cmds ...string) error {
	line := strings.Join(cmds, " && ")
	if _, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(line), ""); err != nil {
		return fmt.Errorf("invalid shell command %q: %w", line, err)
	}
	fmt.Fprintf(sb, "RUN %s\n", strings.Join(cmds, " \\\n    && "))
	return nil
}

func owner(u recipe.Identity) string {
	return strconv.Itoa(u.UID) + ":" + strconv.Itoa(u.GroupID())
}

// quoteEach quotes the words of every command and joins them with spaces.
func quoteEach(cmds ...[]string) ([]string, error) {
	out := make([]string, 0, len(cmds))
	for _, args := range cmds {
		quoted := make([]string, 0, len(args))
		for _, a := range args {
			q, err := syntax.Quote(a, syntax.LangPOSIX)
			if err != nil {
				return nil, fmt.Errorf("cannot quote %q: %w", a, err)
			}
			quoted = append(quoted, q)
		}
		out = append(out, strings.Join(quoted, " "))
	}
	return out, nil
}
