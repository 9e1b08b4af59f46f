// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/terraref/imgprov/pkg/recipe"
)

var (
	// ErrSealed is returned when a step is added to a stage that was already
	// closed by DropPrivileges or Entrypoint.
	ErrSealed = errors.New("stage is sealed")

	// ErrOutOfOrder is returned when a step would run before a step it depends on.
	ErrOutOfOrder = errors.New("step out of order")

	// ErrInvalidStep is returned when a step's configuration is unusable.
	ErrInvalidStep = errors.New("invalid step")
)

// phase orders privileged steps: a step may repeat its own phase or advance,
// never go back.
var phase = map[Kind]int{
	KindBase:         0,
	KindCreateUser:   1,
	KindOSPackages:   2,
	KindLangPackages: 3,
	KindCopy:         4,
	KindPermissions:  4,
}

type (
	// layerSet accumulates layers and their chained keys.
	layerSet struct {
		layers []Layer
	}

	// Privileged is the build stage that still holds elevated rights.
	Privileged struct {
		set     layerSet
		user    *recipe.Identity
		phase   int
		copies  int
		dirty   bool // a copy happened after the last permissions step
		chmoded bool
		sealed  bool
	}

	// Unprivileged is the stage after the privilege drop. It cannot add
	// privileged steps.
	Unprivileged struct {
		set    layerSet
		user   recipe.Identity
		env    *EnvStep
		sealed bool
	}

	// Plan is a finished, immutable layer set with exactly one entrypoint.
	Plan struct {
		layers     []Layer
		user       recipe.Identity
		env        EnvStep
		entrypoint string
	}
)

func (s *layerSet) add(step Step) (Layer, error) {
	var prev digest.Digest
	if n := len(s.layers); n > 0 {
		prev = s.layers[n-1].Key
	}
	key, err := chainKey(prev, step)
	if err != nil {
		return Layer{}, err
	}
	l := Layer{Index: len(s.layers), Step: step, Key: key}
	s.layers = append(s.layers, l)
	return l, nil
}

// New starts a plan on top of the given base image.
func New(baseImage string) (*Privileged, error) {
	if strings.TrimSpace(baseImage) == "" {
		return nil, fmt.Errorf("%w: empty base image", ErrInvalidStep)
	}
	p := &Privileged{}
	if _, err := p.set.add(BaseStep{Image: baseImage}); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Privileged) advance(k Kind) error {
	if p.sealed {
		return fmt.Errorf("%w: cannot add %s after the privilege drop", ErrSealed, k)
	}
	next := phase[k]
	if next < p.phase {
		return fmt.Errorf("%w: %s cannot follow %s", ErrOutOfOrder, k, p.set.layers[len(p.set.layers)-1].Step.Kind())
	}
	p.phase = next
	return nil
}

// CreateUser adds the step creating the execution identity. It must come
// first and only once.
func (p *Privileged) CreateUser(user recipe.Identity) (Layer, error) {
	if p.user != nil {
		return Layer{}, fmt.Errorf("%w: user %q already created", ErrInvalidStep, p.user.Name)
	}
	if user.UID <= 0 || user.Name == "" || user.Name == "root" || !path.IsAbs(user.Home) {
		return Layer{}, fmt.Errorf("%w: %q (uid %d) is not an unprivileged identity", ErrInvalidStep, user.Name, user.UID)
	}
	if err := p.advance(KindCreateUser); err != nil {
		return Layer{}, err
	}
	u := user
	u.GID = user.GroupID()
	p.user = &u
	return p.set.add(CreateUserStep{User: u})
}

// InstallOSPackages adds an OS package installation step.
func (p *Privileged) InstallOSPackages(pkgs []recipe.Package, retries int) (Layer, error) {
	return p.installPackages(recipe.KindOS, pkgs, retries)
}

// InstallLangPackages adds a language package installation step.
func (p *Privileged) InstallLangPackages(pkgs []recipe.Package, retries int) (Layer, error) {
	return p.installPackages(recipe.KindLang, pkgs, retries)
}

func (p *Privileged) installPackages(kind recipe.PackageKind, pkgs []recipe.Package, retries int) (Layer, error) {
	step := PackagesStep{Type: kind, Packages: slices.Clone(pkgs), Retries: max(retries, 0)}
	if len(step.Packages) == 0 {
		return Layer{}, fmt.Errorf("%w: no %s packages", ErrInvalidStep, kind)
	}
	if err := p.advance(step.Kind()); err != nil {
		return Layer{}, err
	}
	return p.set.add(step)
}

// Copy adds a copy step. The user must exist because copies are owned by it.
func (p *Privileged) Copy(step CopyStep) (Layer, error) {
	if p.user == nil {
		return Layer{}, fmt.Errorf("%w: copy before the user is created", ErrOutOfOrder)
	}
	if step.Source == "" || !p.user.Contains(step.Dest) {
		return Layer{}, fmt.Errorf("%w: copy %q -> %q must land under %s", ErrInvalidStep, step.Source, step.Dest, p.user.Home)
	}
	if err := p.advance(KindCopy); err != nil {
		return Layer{}, err
	}
	step.Files = slices.Clone(step.Files)
	slices.Sort(step.Files)
	p.copies++
	p.dirty = true
	return p.set.add(step)
}

// SetPermissions hands the user's home to the user and marks executable as
// executable. It must follow the copies it covers.
func (p *Privileged) SetPermissions(executable string) (Layer, error) {
	if p.user == nil {
		return Layer{}, fmt.Errorf("%w: permissions before the user is created", ErrOutOfOrder)
	}
	if !path.IsAbs(executable) || !p.user.Contains(executable) {
		return Layer{}, fmt.Errorf("%w: executable %q must be under %s", ErrInvalidStep, executable, p.user.Home)
	}
	if err := p.advance(KindPermissions); err != nil {
		return Layer{}, err
	}
	p.dirty = false
	p.chmoded = true
	return p.set.add(PermissionsStep{
		Owner:      *p.user,
		Paths:      []string{path.Clean(p.user.Home)},
		Executable: path.Clean(executable),
	})
}

// DropPrivileges seals the privileged stage and switches to the created user.
// Every copy must be followed by a permissions step first.
func (p *Privileged) DropPrivileges() (*Unprivileged, error) {
	if p.sealed {
		return nil, fmt.Errorf("%w: privileges already dropped", ErrSealed)
	}
	switch {
	case p.user == nil:
		return nil, fmt.Errorf("%w: no user to switch to", ErrOutOfOrder)
	case !p.chmoded || p.dirty:
		return nil, fmt.Errorf("%w: permissions must be set after the last copy", ErrOutOfOrder)
	}
	if _, err := p.set.add(DropPrivilegesStep{User: *p.user}); err != nil {
		return nil, err
	}
	p.sealed = true
	return &Unprivileged{
		set:  layerSet{layers: slices.Clone(p.set.layers)},
		user: *p.user,
	}, nil
}

// Layers returns the layers added so far.
func (p *Privileged) Layers() []Layer {
	return slices.Clone(p.set.layers)
}

// User returns the identity the stage runs as.
func (u *Unprivileged) User() recipe.Identity {
	return u.user
}

// ExtendSearchPath prepends dir to the name variable. The previous value is
// kept, so the variable is extended rather than replaced.
func (u *Unprivileged) ExtendSearchPath(name, dir string) (Layer, error) {
	if u.sealed {
		return Layer{}, fmt.Errorf("%w: entrypoint already declared", ErrSealed)
	}
	if u.env != nil {
		return Layer{}, fmt.Errorf("%w: %s already extended", ErrInvalidStep, u.env.Name)
	}
	if name == "" || !path.IsAbs(dir) {
		return Layer{}, fmt.Errorf("%w: search path %q with dir %q", ErrInvalidStep, name, dir)
	}
	step := EnvStep{Name: name, Dir: path.Clean(dir)}
	l, err := u.set.add(step)
	if err != nil {
		return Layer{}, err
	}
	u.env = &step
	return l, nil
}

// Entrypoint binds the image entrypoint and finishes the plan. It can only be
// called once.
func (u *Unprivileged) Entrypoint(p string) (*Plan, error) {
	if u.sealed {
		return nil, fmt.Errorf("%w: entrypoint already declared", ErrSealed)
	}
	if !path.IsAbs(p) || !u.user.Contains(p) {
		return nil, fmt.Errorf("%w: entrypoint %q must be under %s", ErrInvalidStep, p, u.user.Home)
	}
	if u.env == nil {
		return nil, fmt.Errorf("%w: search path must be extended before the entrypoint", ErrOutOfOrder)
	}
	if _, err := u.set.add(EntrypointStep{Path: path.Clean(p)}); err != nil {
		return nil, err
	}
	u.sealed = true
	return &Plan{
		layers:     slices.Clone(u.set.layers),
		user:       u.user,
		env:        *u.env,
		entrypoint: path.Clean(p),
	}, nil
}

// Layers returns a copy of the plan's layers in build order.
func (p *Plan) Layers() []Layer { return slices.Clone(p.layers) }

// Key identifies the whole plan. Equal keys mean equal inputs.
func (p *Plan) Key() digest.Digest { return p.layers[len(p.layers)-1].Key }

// Base returns the base image.
func (p *Plan) Base() string { return p.layers[0].Step.(BaseStep).Image }

// User returns the execution identity.
func (p *Plan) User() recipe.Identity { return p.user }

// SearchPath returns the environment extension step.
func (p *Plan) SearchPath() EnvStep { return p.env }

// EntrypointPath returns the absolute entrypoint path.
func (p *Plan) EntrypointPath() string { return p.entrypoint }

// Copies returns the copy steps in order.
func (p *Plan) Copies() []CopyStep {
	var out []CopyStep
	for _, l := range p.layers {
		if c, ok := l.Step.(CopyStep); ok {
			out = append(out, c)
		}
	}
	return out
}

// Files returns every copied file path, sorted and deduplicated.
func (p *Plan) Files() []string {
	var files []string
	for _, c := range p.Copies() {
		files = append(files, c.Files...)
	}
	slices.Sort(files)
	return slices.Compact(files)
}
