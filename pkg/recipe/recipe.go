// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"maps"
	"path"
	"slices"
	"strings"
)

// DefaultTag is used when neither the recipe nor the caller names an image tag.
const DefaultTag = "imgprov/extractor:latest"

type (
	// Identity is the unprivileged account the image runs as.
	Identity struct {
		Name string `json:"name"`
		UID  int    `json:"uid"`
		// GID defaults to UID when zero.
		GID  int    `json:"gid,omitempty"`
		Home string `json:"home"`
	}

	// Package is an OS or language package, optionally pinned to Version.
	Package struct {
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
	}

	// CopyEntry copies Source (relative to the build context, glob allowed)
	// into Dest (relative to the user's home, or absolute under it).
	CopyEntry struct {
		Source string `json:"source"`
		Dest   string `json:"dest,omitempty"`
	}

	// SearchPath names the library search path variable to extend and the
	// directory to prepend to it. Dir defaults to the user's home.
	SearchPath struct {
		Name string `json:"name"`
		Dir  string `json:"dir,omitempty"`
	}

	// Recipe is the immutable provisioning input. Use Clone before handing a
	// recipe to code that may mutate it.
	Recipe struct {
		BaseImage    string            `json:"base_image"`
		Tag          string            `json:"tag,omitempty"`
		User         Identity          `json:"user"`
		OSPackages   []Package         `json:"os_packages"`
		LangPackages []Package         `json:"lang_packages"`
		Copies       []CopyEntry       `json:"copies"`
		SearchPath   SearchPath        `json:"search_path"`
		Entrypoint   string            `json:"entrypoint"`
		Labels       map[string]string `json:"labels,omitempty"`
	}
)

// GroupID returns GID, falling back to UID.
func (i Identity) GroupID() int {
	if i.GID == 0 {
		return i.UID
	}
	return i.GID
}

// Resolve returns p as an absolute, cleaned path. Relative paths are
// interpreted against the home directory.
func (i Identity) Resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(i.Home, p)
}

// Contains reports whether the absolute path p is the home directory or below it.
func (i Identity) Contains(p string) bool {
	home := path.Clean(i.Home)
	p = path.Clean(p)
	return p == home || strings.HasPrefix(p, strings.TrimSuffix(home, "/")+"/")
}

// String returns the package in "name=version" form, or the bare name.
func (p Package) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "=" + p.Version
}

// DestDir returns the absolute destination directory of the entry.
func (c CopyEntry) DestDir(user Identity) string {
	dest := c.Dest
	if dest == "" {
		dest = "."
	}
	return user.Resolve(dest)
}

// Clone returns a deep copy of the recipe.
func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	c := *r
	c.OSPackages = slices.Clone(r.OSPackages)
	c.LangPackages = slices.Clone(r.LangPackages)
	c.Copies = slices.Clone(r.Copies)
	c.Labels = maps.Clone(r.Labels)
	return &c
}

// ImageTag returns the recipe tag or DefaultTag.
func (r *Recipe) ImageTag() string {
	if r.Tag != "" {
		return r.Tag
	}
	return DefaultTag
}

// EntrypointPath returns the absolute entrypoint path inside the image.
func (r *Recipe) EntrypointPath() string {
	return r.User.Resolve(r.Entrypoint)
}

// SearchPathDir returns the directory prepended to the search path variable.
func (r *Recipe) SearchPathDir() string {
	if r.SearchPath.Dir != "" {
		return path.Clean(r.SearchPath.Dir)
	}
	return path.Clean(r.User.Home)
}
