// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	_ "crypto/sha256" // registers the digest algorithm
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/terraref/imgprov/pkg/recipe"
)

const (
	// KindBase selects the base image.
	KindBase Kind = "base"
	// KindCreateUser adds the unprivileged user and its home.
	KindCreateUser Kind = "create-user"
	// KindOSPackages installs distribution packages.
	KindOSPackages Kind = "os-packages"
	// KindLangPackages installs Python packages.
	KindLangPackages Kind = "lang-packages"
	// KindCopy copies files from the build context.
	KindCopy Kind = "copy"
	// KindPermissions hands the home to the user and marks the entrypoint executable.
	KindPermissions Kind = "permissions"
	// KindDropPrivileges switches to the unprivileged user.
	KindDropPrivileges Kind = "drop-privileges"
	// KindEnv extends the search path variable.
	KindEnv Kind = "env"
	// KindEntrypoint declares the single entrypoint.
	KindEntrypoint Kind = "entrypoint"
)

type (
	// Kind identifies a provisioning step.
	Kind string

	// Step is the immutable configuration of one provisioning step.
	Step interface {
		Kind() Kind
	}

	// Layer is the descriptor produced by one step.
	Layer struct {
		Index int
		Step  Step
		// Key chains the previous layer's key with this step's content.
		Key digest.Digest
	}

	// BaseStep selects the base image.
	BaseStep struct {
		Image string `json:"image"`
	}

	// CreateUserStep creates the unprivileged account and its home directory.
	CreateUserStep struct {
		User recipe.Identity `json:"user"`
	}

	// PackagesStep installs OS or language packages. Retries bounds the
	// package manager's own retries on transient network failures.
	PackagesStep struct {
		Type     recipe.PackageKind `json:"type"`
		Packages []recipe.Package   `json:"packages"`
		Retries  int                `json:"retries"`
	}

	// CopyStep copies a staged build context directory into Dest.
	CopyStep struct {
		// Source is the staged directory, relative to the build context.
		Source string `json:"source"`
		// Origin is the recipe source pattern, kept for display.
		Origin string `json:"origin"`
		Dest   string `json:"dest"`
		// Files lists the copied files as absolute image paths, sorted.
		Files []string `json:"files"`
		// Content is the digest of the copied files and their modes.
		Content digest.Digest `json:"content"`
	}

	// PermissionsStep assigns ownership of Paths to Owner and marks
	// Executable as executable.
	PermissionsStep struct {
		Owner      recipe.Identity `json:"owner"`
		Paths      []string        `json:"paths"`
		Executable string          `json:"executable"`
	}

	// DropPrivilegesStep switches the active identity to User.
	DropPrivilegesStep struct {
		User recipe.Identity `json:"user"`
	}

	// EnvStep prepends Dir to the Name variable, keeping any prior value.
	EnvStep struct {
		Name string `json:"name"`
		Dir  string `json:"dir"`
	}

	// EntrypointStep binds the image's single entrypoint.
	EntrypointStep struct {
		Path string `json:"path"`
	}
)

func (BaseStep) Kind() Kind           { return KindBase }
func (CreateUserStep) Kind() Kind     { return KindCreateUser }
func (DropPrivilegesStep) Kind() Kind { return KindDropPrivileges }
func (CopyStep) Kind() Kind           { return KindCopy }
func (PermissionsStep) Kind() Kind    { return KindPermissions }
func (EnvStep) Kind() Kind            { return KindEnv }
func (EntrypointStep) Kind() Kind     { return KindEntrypoint }

// Kind returns KindOSPackages or KindLangPackages depending on Type.
func (s PackagesStep) Kind() Kind {
	if s.Type == recipe.KindLang {
		return KindLangPackages
	}
	return KindOSPackages
}

// String returns a short human readable description of the layer.
func (l Layer) String() string {
	return fmt.Sprintf("#%d %s %s", l.Index, l.Step.Kind(), l.Key.Encoded()[:12])
}

// chainKey derives a layer key from the previous key and the step content.
func chainKey(prev digest.Digest, step Step) (digest.Digest, error) {
	body, err := json.Marshal(step)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s step: %w", step.Kind(), err)
	}
	return digest.FromString(prev.String() + "\n" + string(step.Kind()) + "\n" + string(body)), nil
}
