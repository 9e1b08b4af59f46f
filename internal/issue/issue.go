// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	RecipeNotFoundId Id = iota + 1
	RecipeInvalidId
	UnpinnedPackagesId
	ContainerEngineNotFoundId
	CopySourceMissingId
	PackageInstallFailedId
	VerificationFailedId
	ConfigLoadFailedId
	PermissionDeniedId
	LockDriftId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the Markdown body of an issue.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string

	// Issue is a known failure mode with remediation steps.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue with glamour using the given style ("dark",
// "light", "notty" or a path to a JSON style).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range append(slices.Clone(i.docLinks), i.extLinks...) {
			md.WriteString("\n- <" + string(link) + ">")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	recipeNotFoundIssue = &Issue{
		id: RecipeNotFoundId,
		mdMsg: `
# No recipe found!

imgprov looks for ` + "`imgprov.cue`" + ` in the build context, unless ` + "`--recipe`" + ` is given.

## Things you can try:
- Start from the reference extractor recipe:
~~~
$ imgprov recipe default > imgprov.cue
~~~

- Or point at an existing recipe:
~~~
$ imgprov build --recipe path/to/recipe.cue
~~~`,
	}

	recipeInvalidIssue = &Issue{
		id: RecipeInvalidId,
		mdMsg: `
# The recipe is invalid!

The recipe did not match the schema or broke one of the provisioning rules.

## Rules checked:
- ` + "`user.uid`" + ` and ` + "`user.gid`" + ` are non-zero
- ` + "`user.home`" + ` is absolute and every copy destination stays inside it
- the entrypoint lives under the home directory and is delivered by a copy entry
- package names are unique within their list

## Things you can try:
~~~
$ imgprov validate --recipe imgprov.cue
~~~`,
	}

	unpinnedPackagesIssue = &Issue{
		id: UnpinnedPackagesId,
		mdMsg: `
# Unpinned packages!

Some packages have no exact version, so rebuilding the recipe may install
different software.

## Things you can try:
- Pin OS packages to the exact Debian version, e.g. ` + "`gdal-bin=2.2.3+dfsg-2`" + `
- Pin Python packages with an exact version, e.g. ` + "`numpy==1.19.5`" + `
- Record what was installed and pin from it:
~~~
$ imgprov manifest IMAGE --write imgprov.lock
~~~`,
		extLinks: []HttpLink{"https://pip.pypa.io/en/stable/topics/repeatable-installs/"},
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine found!

imgprov drives Docker or Podman through their command line clients.

## Things you can try:
- Install Podman or Docker and make sure the binary is in your PATH
- Check that the daemon (Docker) or the user socket (Podman) is running:
~~~
$ docker version
$ podman version
~~~

- Select an engine explicitly:
~~~cue
container_engine: "docker"
~~~`,
		docLinks: []HttpLink{"https://podman.io/docs/installation", "https://docs.docker.com/engine/install/"},
	}

	copySourceMissingIssue = &Issue{
		id: CopySourceMissingId,
		mdMsg: `
# A copy source is missing!

Every ` + "`copies`" + ` entry must match at least one file in the build context.
Nothing was built.

## Things you can try:
- Run imgprov from the extractor checkout, or pass ` + "`--context DIR`" + `
- Check the spelling and glob syntax of the ` + "`source`" + ` field`,
	}

	packageInstallFailedIssue = &Issue{
		id: PackageInstallFailedId,
		mdMsg: `
# Package installation failed!

The image build stopped at a package step. No image was tagged.

## Things you can try:
- Check that the pinned versions exist for the base image release
- Retry later if the mirror or package index was unreachable
- Raise ` + "`build.retry.max_attempts`" + ` in your config for flaky networks
- Run with ` + "`--verbose`" + ` to see the full build output`,
	}

	verificationFailedIssue = &Issue{
		id: VerificationFailedId,
		mdMsg: `
# The built image failed verification!

The image was built but did not have the required properties, so it was
discarded and the target tag was left unchanged.

## Things you can try:
- Run the checks against an existing image:
~~~
$ imgprov verify IMAGE
~~~

- Inspect the rendered Dockerfile:
~~~
$ imgprov plan --format dockerfile
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

## Things you can try:
- Check the CUE syntax of your config file
- Show the effective configuration:
~~~
$ imgprov config show
~~~

- Remove the file to fall back to the defaults`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

## Common causes:
- The current user cannot talk to the Docker daemon
- A copy source in the build context is not readable

## Things you can try:
- Add yourself to the docker group or use rootless Podman:
~~~
$ sudo usermod -aG docker $USER
~~~

- Check the permissions of the build context`,
	}

	lockDriftIssue = &Issue{
		id: LockDriftId,
		mdMsg: `
# Installed packages drifted from the lock file!

The image contains packages or versions that differ from the recorded lock.

## Things you can try:
- Pin the drifted packages in the recipe and rebuild
- If the change is intended, refresh the lock:
~~~
$ imgprov manifest IMAGE --write imgprov.lock
~~~`,
	}

	issues = map[Id]*Issue{
		recipeNotFoundIssue.Id():          recipeNotFoundIssue,
		recipeInvalidIssue.Id():           recipeInvalidIssue,
		unpinnedPackagesIssue.Id():        unpinnedPackagesIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		copySourceMissingIssue.Id():       copySourceMissingIssue,
		packageInstallFailedIssue.Id():    packageInstallFailedIssue,
		verificationFailedIssue.Id():      verificationFailedIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
		lockDriftIssue.Id():               lockDriftIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	values := maps.Values(issues)
	slices.SortFunc(values, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return values
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
