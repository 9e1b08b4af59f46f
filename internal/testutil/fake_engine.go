// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/pkg/recipe"
)

var _ container.Engine = (*FakeEngine)(nil)

const planKeyLabel = "io.imgprov.plan-key"

type (
	// FakeEngine is an in-memory container.Engine. Built and tagged images
	// are kept in Images; runs are answered by RunHook.
	FakeEngine struct {
		mu sync.Mutex

		Images map[string]*container.ImageInfo
		// BuildErrs are returned by successive Build calls; nil entries succeed.
		BuildErrs []error
		// BuildHook returns the config of a successfully built image. When nil
		// the image gets an empty config.
		BuildHook func(opts container.BuildOptions) (*container.ImageInfo, error)
		// RunHook answers Run with stdout and an exit code.
		RunHook func(opts container.RunOptions) (stdout string, exitCode int)
		// TagErr is returned by Tag when set.
		TagErr error

		Builds  []container.BuildOptions
		Runs    []container.RunOptions
		Tags    [][2]string
		Removed []string
	}
)

// NewFakeEngine creates an engine that already holds the given images.
func NewFakeEngine(images ...string) *FakeEngine {
	f := &FakeEngine{Images: make(map[string]*container.ImageInfo)}
	for _, img := range images {
		f.Images[img] = &container.ImageInfo{ID: "sha256:" + img}
	}
	return f
}

func (f *FakeEngine) Name() string    { return "fake" }
func (f *FakeEngine) Available() bool { return true }

func (f *FakeEngine) Version(context.Context) (string, error) {
	return "0.0.0-fake", nil
}

func (f *FakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	f.mu.Lock()
	f.Builds = append(f.Builds, opts)
	var err error
	if len(f.BuildErrs) > 0 {
		err, f.BuildErrs = f.BuildErrs[0], f.BuildErrs[1:]
	}
	hook := f.BuildHook
	f.mu.Unlock()

	if err != nil {
		return err
	}
	info := &container.ImageInfo{}
	if hook != nil {
		if info, err = hook(opts); err != nil {
			return err
		}
	}
	if info.ID == "" {
		info.ID = "sha256:" + opts.Tag
	}
	if len(opts.Labels) > 0 {
		if info.Config.Labels == nil {
			info.Config.Labels = make(map[string]string)
		}
		maps.Copy(info.Config.Labels, opts.Labels)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Images[opts.Tag] = info
	return nil
}

func (f *FakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	f.mu.Lock()
	f.Runs = append(f.Runs, opts)
	_, exists := f.Images[opts.Image]
	hook := f.RunHook
	f.mu.Unlock()

	if !exists {
		return &container.RunResult{ExitCode: 125, Error: fmt.Errorf("image %s not found", opts.Image)}, nil
	}
	if hook == nil {
		return &container.RunResult{}, nil
	}
	stdout, code := hook(opts)
	if opts.Stdout != nil {
		_, _ = io.WriteString(opts.Stdout, stdout)
	}
	return &container.RunResult{ExitCode: code}, nil
}

func (f *FakeEngine) Tag(_ context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tags = append(f.Tags, [2]string{source, target})
	if f.TagErr != nil {
		return f.TagErr
	}
	img, ok := f.Images[source]
	if !ok {
		return fmt.Errorf("image %s not found", source)
	}
	f.Images[target] = img
	return nil
}

func (f *FakeEngine) ImageExists(_ context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Images[image]
	return ok, nil
}

func (f *FakeEngine) InspectImage(_ context.Context, image string) (*container.ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.Images[image]
	if !ok {
		return nil, fmt.Errorf("image %s not found", image)
	}
	c := *img
	return &c, nil
}

func (f *FakeEngine) RemoveImage(_ context.Context, image string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, image)
	if _, ok := f.Images[image]; !ok {
		return fmt.Errorf("image %s not found", image)
	}
	delete(f.Images, image)
	return nil
}

// BuildCount returns the number of Build calls so far.
func (f *FakeEngine) BuildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Builds)
}

// RunCount returns the number of Run calls so far.
func (f *FakeEngine) RunCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Runs)
}

// HasImage reports whether image is held by the engine.
func (f *FakeEngine) HasImage(image string) bool {
	ok, _ := f.ImageExists(context.Background(), image)
	return ok
}

// ImageConfigFor returns the config a correctly provisioned image of r has.
// basePath is the search path value of the base image, if any.
func ImageConfigFor(r *recipe.Recipe, basePath string) v1.Config {
	value := r.SearchPathDir()
	if basePath != "" {
		value += ":" + basePath
	}
	uid := strconv.Itoa(r.User.UID)
	return v1.Config{
		User:       uid + ":" + strconv.Itoa(r.User.GroupID()),
		Env:        []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin", r.SearchPath.Name + "=" + value},
		Entrypoint: []string{r.EntrypointPath()},
		Labels:     maps.Clone(r.Labels),
	}
}

// ProvisionedBuildHook returns a BuildHook that "builds" a correctly
// provisioned image of r, labelled with the plan key found in the staged
// Dockerfile.
func ProvisionedBuildHook(r *recipe.Recipe) func(container.BuildOptions) (*container.ImageInfo, error) {
	return func(opts container.BuildOptions) (*container.ImageInfo, error) {
		f, err := os.Open(filepath.Join(opts.ContextDir, opts.Dockerfile))
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()

		cfg := ImageConfigFor(r, "")
		if cfg.Labels == nil {
			cfg.Labels = make(map[string]string)
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if v, ok := strings.CutPrefix(sc.Text(), "LABEL "+planKeyLabel+"="); ok {
				if cfg.Labels[planKeyLabel], err = strconv.Unquote(strings.TrimSuffix(v, " \\")); err != nil {
					return nil, fmt.Errorf("bad plan key label %q: %w", v, err)
				}
			}
		}
		return &container.ImageInfo{Config: cfg}, sc.Err()
	}
}

// ProbesFor answers the verification probes the way a correctly provisioned
// image of r does.
func ProbesFor(r *recipe.Recipe) func(container.RunOptions) (string, int) {
	uid := strconv.Itoa(r.User.UID)
	gid := strconv.Itoa(r.User.GroupID())
	return func(opts container.RunOptions) (string, int) {
		switch opts.Entrypoint {
		case "id":
			return uid + "\n", 0
		case "cat":
			return "root:x:0:0:root:/root:/bin/bash\n" +
				r.User.Name + ":x:" + uid + ":" + gid + "::" + r.User.Home + ":/bin/sh\n", 0
		case "stat":
			return uid + " 755\n", 0
		case "find":
			return "", 0
		case "dpkg-query":
			var sb strings.Builder
			for _, p := range r.OSPackages {
				sb.WriteString(p.Name + "\t" + p.Version + "\n")
			}
			return sb.String(), 0
		case "python3":
			var sb strings.Builder
			for _, p := range r.LangPackages {
				sb.WriteString(p.Name + "==" + recipe.LangVersion(p) + "\n")
			}
			return sb.String(), 0
		}
		return "", 0
	}
}
