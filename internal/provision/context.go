// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/mattn/go-zglob"
	"github.com/otiai10/copy"

	"github.com/terraref/imgprov/internal/ocilayer"
	"github.com/terraref/imgprov/internal/pipeline"
	"github.com/terraref/imgprov/pkg/recipe"
)

// DockerfileName is the name of the rendered Dockerfile in a staged context.
const DockerfileName = "Dockerfile"

type (
	// Source is a copy entry resolved against the build context.
	Source struct {
		// Index is the entry's position in the recipe; it names the staged directory.
		Index int
		Entry recipe.CopyEntry
		// Dest is the absolute destination directory in the image.
		Dest string
		// Matches are the host paths the entry matched, sorted.
		Matches []string
		// Files place every regular file under the matches in the image.
		Files []ocilayer.Entry
	}

	// BuildContext is a staged build context directory.
	BuildContext struct {
		Dir string
	}
)

// ResolveCopies resolves the recipe's copy entries against contextDir.
//
// A literal directory source has its contents copied into the destination.
// Every other match, whether a file or a directory matched by a glob, is
// copied into the destination under its own name. A source that matches
// nothing fails with ErrCopySourceMissing.
func ResolveCopies(contextDir string, r *recipe.Recipe) ([]Source, error) {
	root, err := filepath.Abs(contextDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve build context: %w", err)
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: build context %s is not a directory", ErrCopySourceMissing, contextDir)
	}

	entrypoint := r.EntrypointPath()
	sources := make([]Source, 0, len(r.Copies))
	for i, entry := range r.Copies {
		src := Source{Index: i, Entry: entry, Dest: entry.DestDir(r.User)}
		if src.Matches, err = matchSource(root, entry.Source); err != nil {
			return nil, err
		}

		contents := len(src.Matches) == 1 && !hasMeta(entry.Source) && isDir(src.Matches[0])
		for _, m := range src.Matches {
			target := path.Join(src.Dest, filepath.Base(m))
			if contents {
				target = src.Dest
			}
			files, err := collectFiles(m, target, entrypoint)
			if err != nil {
				return nil, err
			}
			src.Files = append(src.Files, files...)
		}
		if len(src.Files) == 0 {
			return nil, fmt.Errorf("%w: %q contains no files", ErrCopySourceMissing, entry.Source)
		}
		slices.SortFunc(src.Files, func(a, b ocilayer.Entry) int { return strings.Compare(a.Target, b.Target) })
		sources = append(sources, src)
	}
	return sources, nil
}

// CopySteps turns resolved sources into pipeline copy steps. The content
// digest of each step covers the bytes, modes and ownership of its files.
func CopySteps(sources []Source, user recipe.Identity) ([]pipeline.CopyStep, error) {
	opts := ocilayer.Options{UID: user.UID, GID: user.GroupID(), Home: user.Home}
	steps := make([]pipeline.CopyStep, 0, len(sources))
	for _, src := range sources {
		content, err := ocilayer.Digest(src.Files, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to hash copy source %q: %w", src.Entry.Source, err)
		}
		targets := make([]string, 0, len(src.Files))
		for _, f := range src.Files {
			targets = append(targets, f.Target)
		}
		steps = append(steps, pipeline.CopyStep{
			Source:  src.StagedDir(),
			Origin:  src.Entry.Source,
			Dest:    src.Dest,
			Files:   targets,
			Content: content,
		})
	}
	return steps, nil
}

// StagedDir returns the source's directory relative to the build context.
func (s Source) StagedDir() string {
	return path.Join("files", strconv.Itoa(s.Index))
}

// Stage creates a build context under parent holding the sources and the
// Dockerfile. The caller must call Cleanup.
func Stage(parent string, sources []Source, dockerfile string) (*BuildContext, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create build context parent directory: %w", err)
	}
	dir, err := os.MkdirTemp(parent, "ctx-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	bc := &BuildContext{Dir: dir}

	for _, src := range sources {
		if err := bc.stageSource(src); err != nil {
			bc.Cleanup()
			return nil, err
		}
	}
	if err := os.WriteFile(filepath.Join(dir, DockerfileName), []byte(dockerfile), 0o644); err != nil {
		bc.Cleanup()
		return nil, fmt.Errorf("failed to write Dockerfile: %w", err)
	}
	return bc, nil
}

// Cleanup removes the staged directory.
func (bc *BuildContext) Cleanup() {
	_ = os.RemoveAll(bc.Dir) // staged copies only; the image does not need them
}

// stageSource lays the files out the way the COPY instruction expects:
// the staged directory mirrors the destination directory.
func (bc *BuildContext) stageSource(src Source) error {
	root := filepath.Join(bc.Dir, filepath.FromSlash(src.StagedDir()))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to stage %q: %w", src.Entry.Source, err)
	}
	for _, f := range src.Files {
		rel := strings.TrimPrefix(strings.TrimPrefix(f.Target, src.Dest), "/")
		dst := filepath.Join(root, filepath.FromSlash(rel))
		if err := copy.Copy(f.Source, dst, copyOptions()); err != nil {
			return stagingError(src, err)
		}
		// The staged mode must match the one the content digest hashed.
		fi, err := os.Stat(f.Source)
		if err != nil {
			return stagingError(src, err)
		}
		if err := os.Chmod(dst, fs.FileMode(ocilayer.NormalizeMode(fi.Mode(), f.Executable))); err != nil {
			return stagingError(src, err)
		}
	}
	return nil
}

func stagingError(src Source, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: cannot read %q: %w", ErrPermission, src.Entry.Source, err)
	}
	return fmt.Errorf("failed to stage %q: %w", src.Entry.Source, err)
}

func copyOptions() copy.Options {
	return copy.Options{
		OnSymlink:         func(string) copy.SymlinkAction { return copy.Deep },
		PermissionControl: copy.AddPermission(0o444),
	}
}

func matchSource(root, source string) ([]string, error) {
	pattern := filepath.Join(root, filepath.FromSlash(source))
	if !hasMeta(source) {
		if _, err := os.Stat(pattern); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil, fmt.Errorf("%w: %q: %w", ErrPermission, source, err)
			}
			return nil, fmt.Errorf("%w: %q not found in build context", ErrCopySourceMissing, source)
		}
		return []string{pattern}, nil
	}

	matches, err := zglob.Glob(pattern)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to match copy source %q: %w", source, err)
	}
	matches = slices.DeleteFunc(matches, func(m string) bool {
		fi, err := os.Stat(m)
		return err != nil || skipped(fi.Name(), fi.IsDir())
	})
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %q matches nothing in build context", ErrCopySourceMissing, source)
	}
	slices.Sort(matches)
	return slices.Compact(matches), nil
}

// collectFiles lists the regular files under hostPath placed at target.
func collectFiles(hostPath, target, entrypoint string) ([]ocilayer.Entry, error) {
	fi, err := os.Stat(hostPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", hostPath, err)
	}
	if !fi.IsDir() {
		return []ocilayer.Entry{{Source: hostPath, Target: target, Executable: target == entrypoint}}, nil
	}

	found, err := zglob.Glob(filepath.Join(hostPath, "**", "*"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to list %s: %w", hostPath, err)
	}
	var files []ocilayer.Entry
	for _, f := range found {
		rel, err := filepath.Rel(hostPath, f)
		if err != nil || skippedPath(rel) {
			continue
		}
		fi, err := os.Stat(f)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		t := path.Join(target, filepath.ToSlash(rel))
		files = append(files, ocilayer.Entry{Source: f, Target: t, Executable: t == entrypoint})
	}
	return files, nil
}
