// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"
	"github.com/pelletier/go-toml/v2"

	"github.com/terraref/imgprov/pkg/recipe"
)

const (
	// LockFileName is the default lock file name, next to the recipe.
	LockFileName = "imgprov.lock"

	// LockVersion is the lock file format version written by WriteLock.
	LockVersion = 1

	// DriftAdded is a package installed in the image but absent from the lock.
	DriftAdded DriftKind = "added"
	// DriftRemoved is a locked package no longer installed.
	DriftRemoved DriftKind = "removed"
	// DriftChanged is a package installed at a version other than the locked one.
	DriftChanged DriftKind = "changed"
)

var (
	// ErrLockVersion is returned when a lock file has an unknown format version.
	ErrLockVersion = errors.New("unsupported lock file version")

	// ErrLockDigest is returned when a lock file's package lists do not match
	// its recorded digest.
	ErrLockDigest = errors.New("lock file digest mismatch")
)

type (
	// LockedPackage is one package entry of a lock file.
	LockedPackage struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	}

	// Lock is the on-disk record of an image manifest.
	Lock struct {
		Version int             `toml:"version"`
		Image   string          `toml:"image"`
		PlanKey string          `toml:"plan_key,omitempty"`
		Digest  string          `toml:"digest"`
		OS      []LockedPackage `toml:"os"`
		Lang    []LockedPackage `toml:"lang"`
	}

	// DriftKind classifies a Drift.
	DriftKind string

	// Drift is a difference between a lock file and an image.
	Drift struct {
		Kind      DriftKind
		Type      recipe.PackageKind
		Name      string
		Locked    string
		Installed string
	}
)

// NewLock records m together with the plan key the image was built from.
func NewLock(m *Manifest, planKey digest.Digest) *Lock {
	l := &Lock{
		Version: LockVersion,
		Image:   m.Image,
		Digest:  m.Digest().String(),
		OS:      toLocked(m.OS),
		Lang:    toLocked(m.Lang),
	}
	if planKey != "" {
		l.PlanKey = planKey.String()
	}
	return l
}

// Manifest converts the lock back into a manifest.
func (l *Lock) Manifest() *Manifest {
	return &Manifest{
		Image: l.Image,
		OS:    fromLocked(l.OS),
		Lang:  fromLocked(l.Lang),
	}
}

// WriteLock writes the lock as TOML, replacing path atomically.
func WriteLock(path string, l *Lock) error {
	var buf bytes.Buffer
	buf.WriteString("# Generated by imgprov. Do not edit.\n\n")
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(l); err != nil {
		return fmt.Errorf("failed to encode lock file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".imgprov-lock-*")
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace lock file %s: %w", path, err)
	}
	return nil
}

// ReadLock reads and checks a lock file written by WriteLock.
func ReadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	var l Lock
	if err := toml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lock file %s: %w", path, err)
	}
	if l.Version != LockVersion {
		return nil, fmt.Errorf("%w: %d", ErrLockVersion, l.Version)
	}
	if got := l.Manifest().Digest().String(); got != l.Digest {
		return nil, fmt.Errorf("%w: recorded %s, content %s", ErrLockDigest, l.Digest, got)
	}
	return &l, nil
}

// Compare lists the differences between a lock and an installed manifest,
// OS packages first, each group sorted by name.
func Compare(l *Lock, m *Manifest) []Drift {
	locked := l.Manifest()
	drift := comparePackages(recipe.KindOS, locked.OS, m.OS)
	return append(drift, comparePackages(recipe.KindLang, locked.Lang, m.Lang)...)
}

// String renders the drift as a one-line message.
func (d Drift) String() string {
	switch d.Kind {
	case DriftAdded:
		return fmt.Sprintf("%s package %s %s was added", d.Type, d.Name, d.Installed)
	case DriftRemoved:
		return fmt.Sprintf("%s package %s %s was removed", d.Type, d.Name, d.Locked)
	default:
		return fmt.Sprintf("%s package %s changed from %s to %s", d.Type, d.Name, d.Locked, d.Installed)
	}
}

func comparePackages(kind recipe.PackageKind, locked, installed []recipe.Package) []Drift {
	want := versions(locked)
	have := versions(installed)

	var drift []Drift
	for name, v := range want {
		switch got, ok := have[name]; {
		case !ok:
			drift = append(drift, Drift{Kind: DriftRemoved, Type: kind, Name: name, Locked: v})
		case got != v:
			drift = append(drift, Drift{Kind: DriftChanged, Type: kind, Name: name, Locked: v, Installed: got})
		}
	}
	for name, v := range have {
		if _, ok := want[name]; !ok {
			drift = append(drift, Drift{Kind: DriftAdded, Type: kind, Name: name, Installed: v})
		}
	}
	slices.SortFunc(drift, func(a, b Drift) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Kind, b.Kind))
	})
	return drift
}

func versions(pkgs []recipe.Package) map[string]string {
	m := make(map[string]string, len(pkgs))
	for _, p := range pkgs {
		m[p.Name] = p.Version
	}
	return m
}

func toLocked(pkgs []recipe.Package) []LockedPackage {
	out := make([]LockedPackage, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, LockedPackage(p))
	}
	return out
}

func fromLocked(pkgs []LockedPackage) []recipe.Package {
	out := make([]recipe.Package, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, recipe.Package(p))
	}
	return sortPackages(out)
}
