// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-zglob"
)

var (
	// ErrInvalidRecipe is wrapped by every recipe parse or validation failure.
	ErrInvalidRecipe = errors.New("invalid recipe")

	// ErrUnpinnedPackage is wrapped by StrictPins when a package is not pinned.
	ErrUnpinnedPackage = errors.New("unpinned package")
)

// Validate checks the rules the CUE schema cannot express. All problems are
// reported at once.
func (r *Recipe) Validate() error {
	var merr *multierror.Error

	if strings.TrimSpace(r.BaseImage) == "" {
		merr = multierror.Append(merr, errors.New("base_image: must not be empty"))
	}

	if r.User.UID <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("user.uid: %d is privileged or invalid", r.User.UID))
	}
	if r.User.GID < 0 {
		merr = multierror.Append(merr, fmt.Errorf("user.gid: %d is invalid", r.User.GID))
	}
	if r.User.Name == "" || r.User.Name == "root" {
		merr = multierror.Append(merr, fmt.Errorf("user.name: %q cannot be used as the execution identity", r.User.Name))
	}
	if !path.IsAbs(r.User.Home) || path.Clean(r.User.Home) == "/" {
		merr = multierror.Append(merr, fmt.Errorf("user.home: %q must be an absolute directory other than /", r.User.Home))
	}

	merr = multierror.Append(merr, duplicatePackages("os_packages", r.OSPackages)...)
	merr = multierror.Append(merr, duplicatePackages("lang_packages", r.LangPackages)...)

	if len(r.Copies) == 0 {
		merr = multierror.Append(merr, errors.New("copies: at least one entry is required"))
	}
	for i, c := range r.Copies {
		if strings.TrimSpace(c.Source) == "" {
			merr = multierror.Append(merr, fmt.Errorf("copies[%d].source: must not be empty", i))
		}
		if path.IsAbs(c.Source) || hasParentRef(c.Source) {
			merr = multierror.Append(merr, fmt.Errorf("copies[%d].source: %q must stay inside the build context", i, c.Source))
		}
		if hasParentRef(c.Dest) || !r.User.Contains(c.DestDir(r.User)) {
			merr = multierror.Append(merr, fmt.Errorf("copies[%d].dest: %q must resolve under %s", i, c.Dest, r.User.Home))
		}
	}

	if r.SearchPath.Name == "" {
		merr = multierror.Append(merr, errors.New("search_path.name: must not be empty"))
	}
	if r.SearchPath.Dir != "" && !r.User.Contains(r.SearchPathDir()) {
		merr = multierror.Append(merr, fmt.Errorf("search_path.dir: %q is not a copied directory under %s", r.SearchPath.Dir, r.User.Home))
	}

	entry := r.EntrypointPath()
	switch {
	case r.Entrypoint == "":
		merr = multierror.Append(merr, errors.New("entrypoint: must not be empty"))
	case !r.User.Contains(entry) || entry == path.Clean(r.User.Home):
		merr = multierror.Append(merr, fmt.Errorf("entrypoint: %q must be a file under %s", r.Entrypoint, r.User.Home))
	case !r.coversEntrypoint(entry):
		merr = multierror.Append(merr, fmt.Errorf("entrypoint: %q is not provided by any copies entry", r.Entrypoint))
	}

	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	return nil
}

// coversEntrypoint reports whether some copy entry can place a file at entry.
// A file or glob source lands at dest/<name>; a directory source spills its
// contents into dest, so any path strictly below a non-home dest is covered.
// The build context resolver confirms the file really exists.
func (r *Recipe) coversEntrypoint(entry string) bool {
	home := path.Clean(r.User.Home)
	for _, c := range r.Copies {
		dest := c.DestDir(r.User)
		if path.Dir(entry) == dest {
			if ok, err := zglob.Match(path.Base(path.Clean(c.Source)), path.Base(entry)); err == nil && ok {
				return true
			}
		}
		if dest != home && strings.HasPrefix(entry, dest+"/") {
			return true
		}
	}
	return false
}

func duplicatePackages(field string, pkgs []Package) []error {
	var errs []error
	seen := make(map[string]int, len(pkgs))
	for i, p := range pkgs {
		key := strings.ToLower(p.Name)
		if first, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s[%d]: duplicate package %q (same as %s[%d])", field, i, p.Name, field, first))
			continue
		}
		seen[key] = i
	}
	return errs
}

func hasParentRef(p string) bool {
	for _, part := range strings.Split(path.Clean(p), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
