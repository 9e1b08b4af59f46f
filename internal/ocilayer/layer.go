// SPDX-License-Identifier: MPL-2.0

package ocilayer

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/opencontainers/go-digest"
)

const (
	// FileMode is used for regular files without any execute bit.
	FileMode = 0o644
	// ExecMode is used for files with any execute bit and for directories.
	ExecMode = 0o755
)

// ErrNoEntries is returned when a layer would be empty.
var ErrNoEntries = errors.New("layer has no entries")

type (
	// Entry places a host file at an absolute image path.
	Entry struct {
		Source string
		Target string
		// Executable forces ExecMode. Files whose host mode has an execute bit
		// are executable regardless.
		Executable bool
	}

	// Options control ownership and timestamps of the layer.
	Options struct {
		UID int
		GID int
		// Home bounds ownership. Directories above it belong to root.
		// Empty gives every entry to UID and GID.
		Home string
		// ModTime is written on every header. The zero value means the Unix epoch.
		ModTime time.Time
		// Dir holds the buffer file. Empty means os.TempDir().
		Dir string
	}

	// BufferedLayer is a layer backed by a temporary tar file. Close removes it.
	BufferedLayer struct {
		Layer v1.Layer
		file  string
	}
)

// Build writes entries into a tar buffer and exposes it as a v1.Layer.
func Build(entries []Entry, opts Options) (_ *BufferedLayer, err error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	if opts.ModTime.IsZero() {
		opts.ModTime = time.Unix(0, 0).UTC()
	}

	f, err := os.CreateTemp(opts.Dir, "imgprov-layer-*.tar")
	if err != nil {
		return nil, fmt.Errorf("failed to create layer buffer: %w", err)
	}
	name := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(name) // buffer is useless after a failure
		}
	}()

	if err := writeTar(f, entries, opts); err != nil {
		_ = f.Close() // write error takes precedence
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close layer buffer: %w", err)
	}

	result := &BufferedLayer{file: name}
	if result.Layer, err = tarball.LayerFromOpener(result.open); err != nil {
		return nil, fmt.Errorf("failed to open layer: %w", err)
	}
	return result, nil
}

func writeTar(w io.Writer, entries []Entry, opts Options) error {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return strings.Compare(a.Target, b.Target) })

	tw := tar.NewWriter(w)
	created := make(map[string]struct{})

	home := strings.TrimPrefix(path.Clean(opts.Home), "/")
	header := func(name string, typ byte, size, mode int64) *tar.Header {
		h := &tar.Header{
			Typeflag: typ,
			Name:     name,
			Size:     size,
			Mode:     mode,
			Uid:      opts.UID,
			Gid:      opts.GID,
			ModTime:  opts.ModTime,
		}
		if opts.Home != "" && home != "" && !withinHome(strings.TrimSuffix(name, "/"), home) {
			h.Uid, h.Gid = 0, 0
		}
		return h
	}

	for i, e := range sorted {
		if !path.IsAbs(e.Target) {
			return fmt.Errorf("entry %q: target %q must be absolute", e.Source, e.Target)
		}
		if i > 0 && sorted[i-1].Target == e.Target {
			return fmt.Errorf("entry %q: duplicate target %q", e.Source, e.Target)
		}
		target := strings.TrimPrefix(path.Clean(e.Target), "/")

		var dirs []string
		for d := path.Dir(target); d != "." && d != "/"; d = path.Dir(d) {
			if _, ok := created[d]; ok {
				break
			}
			created[d] = struct{}{}
			dirs = append(dirs, d)
		}
		slices.Reverse(dirs)
		for _, d := range dirs {
			if err := tw.WriteHeader(header(d+"/", tar.TypeDir, 0, ExecMode)); err != nil {
				return fmt.Errorf("failed to write directory %q: %w", d, err)
			}
		}

		if err := addFile(tw, e, target, header); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish layer: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, e Entry, target string, header func(string, byte, int64, int64) *tar.Header) (err error) {
	f, err := os.Open(e.Source)
	if err != nil {
		return fmt.Errorf("entry %q: %w", e.Source, err)
	}
	defer func() { _ = f.Close() }() // read-only

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("entry %q: %w", e.Source, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("entry %q: not a regular file", e.Source)
	}

	if err := tw.WriteHeader(header(target, tar.TypeReg, fi.Size(), NormalizeMode(fi.Mode(), e.Executable))); err != nil {
		return fmt.Errorf("entry %q: %w", e.Source, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("entry %q: %w", e.Source, err)
	}
	return nil
}

func withinHome(name, home string) bool {
	return name == home || strings.HasPrefix(name, home+"/")
}

// NormalizeMode maps a host file mode to FileMode or ExecMode.
func NormalizeMode(mode fs.FileMode, executable bool) int64 {
	if executable || mode.Perm()&0o111 != 0 {
		return ExecMode
	}
	return FileMode
}

func (l *BufferedLayer) open() (io.ReadCloser, error) {
	return os.Open(l.file)
}

// DiffID returns the digest of the uncompressed layer. It does not depend on
// compression settings, so it is the stable content identity.
func (l *BufferedLayer) DiffID() (digest.Digest, error) {
	h, err := l.Layer.DiffID()
	if err != nil {
		return "", fmt.Errorf("failed to digest layer: %w", err)
	}
	return digest.Parse(h.String())
}

// WriteTo writes the uncompressed tar stream to w.
func (l *BufferedLayer) WriteTo(w io.Writer) (int64, error) {
	rc, err := l.Layer.Uncompressed()
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }() // read-only
	return io.Copy(w, rc)
}

// Close removes the buffer file.
func (l *BufferedLayer) Close() error {
	if err := os.Remove(l.file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Digest is a convenience wrapper building a layer only to return its DiffID.
func Digest(entries []Entry, opts Options) (digest.Digest, error) {
	l, err := Build(entries, opts)
	if err != nil {
		return "", err
	}
	defer func() { _ = l.Close() }() // temp file
	return l.DiffID()
}
