// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is not set.
const DefaultDebounce = 500 * time.Millisecond

// defaultIgnores never trigger a rebuild.
var defaultIgnores = []string{
	"**/.git/**",
	"**/__pycache__/**",
	"**/*.pyc",
	"**/.imgprov-build/**",
	"**/.imgprov-lock-*",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watch: Run called more than once")

type (
	// Config holds the parameters of a Watcher.
	Config struct {
		// Dir is the build context, watched recursively.
		Dir string

		// Files are watched in addition to Dir, for example a recipe passed
		// with --recipe. Only events on these exact files count.
		Files []string

		// Ignore holds extra doublestar patterns, relative to Dir.
		Ignore []string

		// Exclude holds paths the build itself writes, such as the lock file
		// or the staging directory. Events on them, or below them, are dropped.
		Exclude []string

		// Debounce is the quiet period after the last event before OnChange
		// fires. Zero means DefaultDebounce.
		Debounce time.Duration

		// OnChange receives the sorted changed paths, relative to Dir when they
		// are inside it. It never runs concurrently with itself.
		OnChange func(ctx context.Context, changed []string) error

		Logger *log.Logger
	}

	// Watcher monitors a build context. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		dir      string
		files    map[string]struct{}
		exclude  []string
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		fsw      *fsnotify.Watcher
		started  atomic.Bool
	}
)

// New validates cfg and registers every directory of the build context.
func New(cfg Config) (*Watcher, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve build context: %w", err)
	}
	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pat)
		}
	}

	w := &Watcher{
		cfg:      cfg,
		dir:      dir,
		files:    make(map[string]struct{}, len(cfg.Files)),
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
	}
	for _, p := range cfg.Exclude {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve %s: %w", p, err)
		}
		w.exclude = append(w.exclude, abs)
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "watch"})
	}

	if w.fsw, err = fsnotify.NewWatcher(); err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	if err := w.register(); err != nil {
		_ = w.fsw.Close()
		return nil, err
	}
	return w, nil
}

// register adds the directories of the build context and the parents of the
// extra files.
func (w *Watcher) register() error {
	err := filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("not watching inaccessible path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, _ := filepath.Rel(w.dir, path); rel != "." && (w.ignored(rel+"/") || w.excluded(path)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, f := range w.cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("watch: resolve %s: %w", f, err)
		}
		w.files[abs] = struct{}{}
		if !w.inside(abs) {
			// Editors replace files on save, so the parent directory is watched.
			if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
				return fmt.Errorf("watch: add %s: %w", filepath.Dir(abs), err)
			}
		}
	}
	return nil
}

// Run processes events until ctx is done. It returns nil on cancellation and
// an error when the underlying watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() { _ = w.fsw.Close() }()

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		busy    atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			// The previous rebuild is still running; try again after it.
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer busy.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.logger.Error("rebuild failed", "err", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			rel, ok := w.relevant(evt.Name)
			if !ok {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.addIfDir(evt.Name)
			}
			w.logger.Debug("change", "path", rel, "op", evt.Op.String())

			mu.Lock()
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if isFatal(err) {
				return fmt.Errorf("watch: %w", err)
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

// relevant reports whether an event on path can change the image, and returns
// the path to report.
func (w *Watcher) relevant(path string) (string, bool) {
	if _, ok := w.files[path]; ok {
		if w.inside(path) {
			rel, _ := filepath.Rel(w.dir, path)
			return rel, true
		}
		return path, true
	}
	if !w.inside(path) || w.excluded(path) {
		return "", false
	}
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || w.ignored(rel) || w.ignored(rel+"/") {
		return "", false
	}
	return rel, true
}

func (w *Watcher) inside(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// excluded reports whether path is one of Config.Exclude or below one.
func (w *Watcher) excluded(path string) bool {
	for _, ex := range w.exclude {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(rel string) bool {
	name := filepath.ToSlash(rel)
	for _, pat := range w.ignores {
		if ok, _ := doublestar.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// addIfDir extends the recursive watch to directories created after New.
func (w *Watcher) addIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if rel, _ := filepath.Rel(w.dir, path); w.ignored(rel+"/") || w.excluded(path) {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn("not watching new directory", "path", path, "err", err)
	}
}

// DefaultIgnores returns a copy of the patterns that never trigger a rebuild.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}
