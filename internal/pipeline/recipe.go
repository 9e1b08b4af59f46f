// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"github.com/terraref/imgprov/pkg/recipe"
)

// DefaultRetries bounds package manager retries on transient network failures.
const DefaultRetries = 3

// Options tunes FromRecipe.
type Options struct {
	// Retries is passed to the package managers. Zero means DefaultRetries.
	Retries int
}

// FromRecipe builds the canonical plan for a recipe:
//
//	base → create user → OS packages → language packages → copies →
//	permissions → drop privileges → extend search path → entrypoint
//
// copies are the resolved copy steps (see provision.ResolveCopies); empty
// package lists are skipped.
func FromRecipe(r *recipe.Recipe, copies []CopyStep, opts Options) (*Plan, error) {
	retries := opts.Retries
	if retries == 0 {
		retries = DefaultRetries
	}

	p, err := New(r.BaseImage)
	if err != nil {
		return nil, err
	}
	if _, err := p.CreateUser(r.User); err != nil {
		return nil, err
	}
	if len(r.OSPackages) > 0 {
		if _, err := p.InstallOSPackages(r.OSPackages, retries); err != nil {
			return nil, err
		}
	}
	if len(r.LangPackages) > 0 {
		if _, err := p.InstallLangPackages(r.LangPackages, retries); err != nil {
			return nil, err
		}
	}
	for _, c := range copies {
		if _, err := p.Copy(c); err != nil {
			return nil, err
		}
	}
	if _, err := p.SetPermissions(r.EntrypointPath()); err != nil {
		return nil, err
	}

	u, err := p.DropPrivileges()
	if err != nil {
		return nil, err
	}
	if _, err := u.ExtendSearchPath(r.SearchPath.Name, r.SearchPathDir()); err != nil {
		return nil, err
	}
	return u.Entrypoint(r.EntrypointPath())
}
