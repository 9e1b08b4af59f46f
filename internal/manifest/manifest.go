// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	_ "crypto/sha256" // registers the digest algorithm
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/pkg/recipe"
)

// dpkgFormat prints one "status<TAB>name<TAB>version" line per package.
const dpkgFormat = "${db:Status-Abbrev}\t${Package}\t${Version}\n"

var pipNameSeparators = regexp.MustCompile(`[-_.]+`)

// Manifest is the sorted set of packages installed in an image.
type Manifest struct {
	Image string
	OS    []recipe.Package
	Lang  []recipe.Package
}

// Collect runs the package managers inside image and returns its manifest.
func Collect(ctx context.Context, engine container.Engine, image string) (*Manifest, error) {
	dpkg, err := run(ctx, engine, image, "dpkg-query", "-W", "-f", dpkgFormat)
	if err != nil {
		return nil, err
	}
	pip, err := run(ctx, engine, image, "python3", "-m", "pip", "freeze", "--all")
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Image: image,
		OS:    ParseDpkg(dpkg),
		Lang:  ParsePipFreeze(pip),
	}
	return m, nil
}

// Digest identifies the manifest content, independent of the image name.
func (m *Manifest) Digest() digest.Digest {
	var sb strings.Builder
	for _, p := range m.OS {
		fmt.Fprintf(&sb, "os %s=%s\n", p.Name, p.Version)
	}
	for _, p := range m.Lang {
		fmt.Fprintf(&sb, "lang %s==%s\n", p.Name, p.Version)
	}
	return digest.FromString(sb.String())
}

// ParseDpkg parses dpkg-query output in dpkgFormat. Only installed packages
// are kept. Lines with just a name and a version are accepted too.
func ParseDpkg(out string) []recipe.Package {
	var pkgs []recipe.Package
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
		switch len(fields) {
		case 3:
			if !strings.HasPrefix(fields[0], "ii") {
				continue
			}
			fields = fields[1:]
		case 2:
		default:
			continue
		}
		name := strings.TrimSpace(fields[0])
		if name == "" {
			continue
		}
		pkgs = append(pkgs, recipe.Package{Name: name, Version: strings.TrimSpace(fields[1])})
	}
	return sortPackages(pkgs)
}

// ParsePipFreeze parses "pip freeze" output. Editable installs, direct URL
// references and comments are skipped; names are normalized.
func ParsePipFreeze(out string) []recipe.Package {
	var pkgs []recipe.Package
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") || strings.Contains(line, " @ ") {
			continue
		}
		name, version, ok := strings.Cut(line, "==")
		if !ok {
			continue
		}
		pkgs = append(pkgs, recipe.Package{Name: NormalizeName(recipe.KindLang, name), Version: strings.TrimSpace(version)})
	}
	return sortPackages(pkgs)
}

// NormalizeName returns the canonical package name: lower case, and for
// Python packages with runs of "-", "_" and "." collapsed to "-".
func NormalizeName(kind recipe.PackageKind, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if kind == recipe.KindLang {
		name = pipNameSeparators.ReplaceAllString(name, "-")
	}
	return name
}

func sortPackages(pkgs []recipe.Package) []recipe.Package {
	slices.SortFunc(pkgs, func(a, b recipe.Package) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Version, b.Version))
	})
	return slices.CompactFunc(pkgs, func(a, b recipe.Package) bool { return a == b })
}

func run(ctx context.Context, engine container.Engine, image, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	result, err := engine.Run(ctx, container.RunOptions{
		Image:      image,
		Entrypoint: name,
		Command:    args,
		Remove:     true,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run %s in %s: %w", name, image, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("failed to run %s in %s: %w", name, image, result.Error)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("%s in %s exited with %d: %s", name, image, result.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
