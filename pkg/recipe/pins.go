// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-multierror"
)

const (
	// KindOS marks packages installed by the OS package manager.
	KindOS PackageKind = "os"
	// KindLang marks packages installed by the language package manager.
	KindLang PackageKind = "lang"
)

type (
	// PackageKind tells OS packages from language packages.
	PackageKind string

	// PinFinding reports a package that is not pinned to an exact version.
	PinFinding struct {
		Kind    PackageKind
		Package Package
		Reason  string
	}
)

// String renders the finding as a one-line warning.
func (f PinFinding) String() string {
	return fmt.Sprintf("%s package %q: %s", f.Kind, f.Package.Name, f.Reason)
}

// PinReport lists every package that is not pinned to an exact version, OS
// packages first, in recipe order.
func (r *Recipe) PinReport() []PinFinding {
	var findings []PinFinding
	for _, p := range r.OSPackages {
		if reason, ok := osPinned(p.Version); !ok {
			findings = append(findings, PinFinding{Kind: KindOS, Package: p, Reason: reason})
		}
	}
	for _, p := range r.LangPackages {
		if reason, ok := langPinned(p.Version); !ok {
			findings = append(findings, PinFinding{Kind: KindLang, Package: p, Reason: reason})
		}
	}
	return findings
}

// StrictPins turns every PinReport finding into an error.
func (r *Recipe) StrictPins() error {
	var merr *multierror.Error
	for _, f := range r.PinReport() {
		merr = multierror.Append(merr, fmt.Errorf("%w: %s", ErrUnpinnedPackage, f))
	}
	return merr.ErrorOrNil()
}

// LangVersion returns the exact version a language package is pinned to, with
// any leading "==" removed.
func LangVersion(p Package) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p.Version), "=="))
}

func osPinned(version string) (string, bool) {
	v := strings.TrimSpace(version)
	switch {
	case v == "":
		return "no version given", false
	case strings.Contains(v, "*"):
		return fmt.Sprintf("wildcard version %q", v), false
	default:
		return "", true
	}
}

func langPinned(version string) (string, bool) {
	v := LangVersion(Package{Version: version})
	if v == "" {
		return "no version given", false
	}
	if _, err := semver.NewVersion(v); err == nil {
		return "", true
	}
	// Anything semver accepts as a constraint but not as a version is a range
	// or wildcard. Versions neither accepts (e.g. "1.0.post1") are opaque exact pins.
	if _, err := semver.NewConstraint(v); err == nil {
		return fmt.Sprintf("version constraint %q is not an exact pin", v), false
	}
	if strings.ContainsAny(v, "<>~^!,*") {
		return fmt.Sprintf("version constraint %q is not an exact pin", v), false
	}
	return "", true
}
