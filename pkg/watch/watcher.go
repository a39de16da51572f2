// Package watch reports changes under the local roots of a
// deployment's mounts, debounced so an editor's burst of writes
// produces one callback.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tqbf/automount/pkg/classify"
	"github.com/tqbf/automount/pkg/paths"
)

const DefaultDebounce = 300 * time.Millisecond

type Config struct {
	// Roots are directories watched recursively, or single files
	// watched through their parent directory.
	Roots []string
	// Classifier filters paths the same way mounts do. Nil means
	// classify.Default.
	Classifier *classify.Classifier
	Debounce   time.Duration
	// OnChange receives the absolute changed paths, sorted. Calls
	// never overlap.
	OnChange func(ctx context.Context, changed []string) error
	Logger   *slog.Logger
}

type root struct {
	path string
	file bool
}

type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	roots    []root
	debounce time.Duration
	log      *slog.Logger
	started  atomic.Bool
}

func New(cfg Config) (*Watcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, errors.New("watch: no roots")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		debounce: cfg.Debounce,
		log:      cfg.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	if w.cfg.Classifier == nil {
		w.cfg.Classifier = classify.Default
	}

	for _, r := range cfg.Roots {
		if err := w.addRoot(r); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addRoot(p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		w.roots = append(w.roots, root{path: abs, file: true})
		if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch: add %s: %w", abs, err)
		}
		return nil
	}
	w.roots = append(w.roots, root{path: abs})
	return w.addTree(abs, abs)
}

// addTree registers every directory under dir the classifier would
// descend into.
func (w *Watcher) addTree(rootPath, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("watch: skipping inaccessible path", "path", p, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != rootPath && !w.include(rootPath, p, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch: add %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) include(rootPath, p string, isDir bool) bool {
	rel, err := filepath.Rel(rootPath, p)
	if err != nil {
		return false
	}
	typ := classify.File
	if isDir {
		typ = classify.Dir
	}
	return w.cfg.Classifier.ShouldInclude(classify.Entry{
		RelPath: filepath.ToSlash(rel),
		Type:    typ,
	})
}

// relevant reports whether an event on p concerns a root, and the
// directory root it falls under if any.
func (w *Watcher) relevant(p string) (string, bool) {
	for _, r := range w.roots {
		if r.file {
			if p == r.path {
				return "", true
			}
			continue
		}
		if p == r.path {
			return r.path, true
		}
		if !paths.IsWithinDir(r.path, p) {
			continue
		}
		isDir := false
		if info, err := os.Stat(p); err == nil {
			isDir = info.IsDir()
		}
		if w.include(r.path, p, isDir) {
			return r.path, true
		}
	}
	return "", false
}

// Run delivers debounced callbacks until ctx is done. It may be
// called once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if w.cfg.OnChange == nil {
			return
		}
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.log.Error("watch: callback failed", "err", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		w.fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
				continue
			}
			rootPath, ok := w.relevant(evt.Name)
			if !ok {
				continue
			}
			if evt.Has(fsnotify.Create) && rootPath != "" {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.addTree(rootPath, evt.Name); err != nil {
						w.log.Warn("watch: add new directory", "path", evt.Name, "err", err)
					}
				}
			}
			w.log.Debug("watch: change", "path", evt.Name, "op", evt.Op.String())

			mu.Lock()
			pending[evt.Name] = struct{}{}
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
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.log.Warn("watch: fsnotify error", "err", err)
		}
	}
}

// isFatal reports watch-limit and descriptor exhaustion, after which
// events are silently lost.
func isFatal(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
