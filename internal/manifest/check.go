// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/terraref/imgprov/pkg/recipe"
)

// ErrPinMismatch is returned when an installed package does not have the
// version its recipe pins.
var ErrPinMismatch = errors.New("installed version does not match pin")

// CheckRecipe checks that every package of r is installed and, when pinned,
// installed at the pinned version. Unpinned packages only need to be present.
func CheckRecipe(r *recipe.Recipe, m *Manifest) error {
	var merr *multierror.Error
	check := func(kind recipe.PackageKind, want []recipe.Package, have []recipe.Package, version func(recipe.Package) string) {
		installed := make(map[string]string, len(have))
		for _, p := range have {
			installed[NormalizeName(kind, p.Name)] = p.Version
		}
		for _, p := range want {
			got, ok := installed[NormalizeName(kind, p.Name)]
			if !ok {
				merr = multierror.Append(merr, fmt.Errorf("%w: %s package %s is not installed", ErrPinMismatch, kind, p.Name))
				continue
			}
			if pin := version(p); pin != "" && !strings.ContainsAny(pin, "*<>~^!,") && pin != got {
				merr = multierror.Append(merr, fmt.Errorf("%w: %s package %s is %s, want %s", ErrPinMismatch, kind, p.Name, got, pin))
			}
		}
	}
	check(recipe.KindOS, r.OSPackages, m.OS, func(p recipe.Package) string { return strings.TrimSpace(p.Version) })
	check(recipe.KindLang, r.LangPackages, m.Lang, recipe.LangVersion)
	return merr.ErrorOrNil()
}
