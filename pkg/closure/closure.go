// Package closure finds the local Python modules an entrypoint
// depends on and derives the mounts that ship them.
package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tqbf/automount/pkg/classify"
	"github.com/tqbf/automount/pkg/mount"
	"github.com/tqbf/automount/pkg/pyenv"
)

var (
	ErrAmbiguousEntrypoint = errors.New("ambiguous entrypoint")
	ErrNotLocal            = errors.New("entrypoint is not local code")
)

// OriginPolicy decides whether the recorded origin file of a
// serialized callable is shipped. The callable runs without it, but
// its module was loaded when the callable was defined.
type OriginPolicy int

const (
	IncludeOrigin OriginPolicy = iota
	OmitOrigin
)

type Options struct {
	// WorkDir is searched after a script's own directory, and first
	// in module mode. Empty means the process working directory.
	WorkDir string
	// ExtraPath entries are searched before the interpreter's path.
	ExtraPath []string
	// RemoteRoot is where auto-mounted code lands.
	RemoteRoot       string
	SerializedOrigin OriginPolicy
	// Classifier filters whole-package mounts.
	Classifier *classify.Classifier
	Logger     *slog.Logger
}

type Resolver struct {
	py   *pyenv.Resolver
	opts Options
	log  *slog.Logger
}

func NewResolver(py *pyenv.Resolver, opts Options) *Resolver {
	if opts.RemoteRoot == "" {
		opts.RemoteRoot = mount.DefaultRemotePrefix
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.Default
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{py: py, opts: opts, log: log}
}

// Result is the closure of one entrypoint.
type Result struct {
	Entrypoint Entrypoint
	// Entry is the module whose file runs. A script is named
	// __main__.
	Entry *Module
	// Placement is the remote path of the entry file.
	Placement string
	// Modules are the local modules reached, entry first, in the
	// order they were discovered. A file imported under two names
	// appears once per name.
	Modules []*Module
	// Unresolved import names, sorted. Builtins and anything not
	// found on the search path end up here.
	Unresolved []string
	SearchPath []string
}

func (r *Resolver) workDir() (string, error) {
	if r.opts.WorkDir != "" {
		return filepath.Abs(r.opts.WorkDir)
	}
	return os.Getwd()
}

func (r *Resolver) searchPath(first ...string) ([]string, error) {
	wd, err := r.workDir()
	if err != nil {
		return nil, err
	}
	candidates := append(append([]string(nil), first...), wd)
	candidates = append(candidates, r.opts.ExtraPath...)
	candidates = append(candidates, r.py.Environment().SearchPath...)

	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out, nil
}

// resolveEntry finds the entry module and the search path used to
// resolve its imports.
func (r *Resolver) resolveEntry(ep Entrypoint) (*Module, *finder, error) {
	if ep.Kind == KindModule {
		search, err := r.searchPath()
		if err != nil {
			return nil, nil, err
		}
		f := newFinder(search, r.py.Environment().Builtins)
		m, err := r.entryModule(f, ep.Module)
		if err != nil {
			return nil, nil, err
		}
		return m, f, nil
	}

	abs, err := filepath.Abs(ep.Path)
	if err != nil {
		return nil, nil, &mount.ConfigError{Path: ep.Path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, nil, &mount.ConfigError{Path: abs, Err: err}
	}
	if info.IsDir() {
		return nil, nil, &mount.ConfigError{
			Path: abs,
			Err:  fmt.Errorf("%w: %s is a directory", ErrAmbiguousEntrypoint, ep.Kind),
		}
	}
	name := "__main__"
	if ep.Kind == KindSerialized {
		name = strings.TrimSuffix(filepath.Base(abs), ".py")
	}
	search, err := r.searchPath(filepath.Dir(abs))
	if err != nil {
		return nil, nil, err
	}
	return &Module{Name: name, Kind: Source, Path: abs}, newFinder(search, r.py.Environment().Builtins), nil
}

func (r *Resolver) entryModule(f *finder, name string) (*Module, error) {
	m := f.find(name)
	if m == nil {
		return nil, &mount.ConfigError{
			Path: name,
			Err:  fmt.Errorf("%w: module not found on search path", ErrAmbiguousEntrypoint),
		}
	}
	if m.IsPackage() {
		for _, d := range m.Dirs {
			if main := filepath.Join(d, "__main__.py"); isFile(main) {
				m = &Module{Name: name + ".__main__", Kind: Source, Path: main}
				break
			}
		}
	}
	if m.Compiled() {
		return nil, &mount.ConfigError{
			Path: name,
			Err:  fmt.Errorf("%w: %s is a %s module", ErrAmbiguousEntrypoint, name, m.Kind),
		}
	}
	if m.Kind == Namespace {
		return nil, &mount.ConfigError{
			Path: m.Path,
			Err:  fmt.Errorf("%w: namespace package %s has no __main__", ErrAmbiguousEntrypoint, name),
		}
	}
	if !r.py.IsLocal(m.Path) {
		return nil, &mount.ConfigError{Path: m.Path, Err: ErrNotLocal}
	}
	return m, nil
}

func (r *Resolver) placement(ep Entrypoint, m *Module) string {
	if ep.Kind != KindModule {
		return joinRemote(r.opts.RemoteRoot, filepath.Base(m.Path))
	}
	rel, err := filepath.Rel(m.SearchDir(), m.Path)
	if err != nil {
		rel = filepath.Base(m.Path)
	}
	return joinRemote(r.opts.RemoteRoot, filepath.ToSlash(rel))
}

// ClosureOf scans the entrypoint's imports, and theirs, keeping only
// modules that are local. Non-local modules are not scanned.
func (r *Resolver) ClosureOf(ctx context.Context, ep Entrypoint) (*Result, error) {
	entry, f, err := r.resolveEntry(ep)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Entrypoint: ep,
		Entry:      entry,
		Placement:  r.placement(ep, entry),
		Modules:    []*Module{entry},
		SearchPath: f.search,
	}

	seen := map[string]bool{entry.Name: true}
	unresolved := make(map[string]bool)
	queue := []*Module{entry}

	visit := func(name string, optional bool) {
		if seen[name] {
			return
		}
		seen[name] = true
		m := f.find(name)
		if m == nil {
			if !optional {
				unresolved[name] = true
			}
			return
		}
		if m.Compiled() {
			r.log.Debug("compiled module not shipped", "module", name, "kind", m.Kind)
			return
		}
		if r.py.Overrides().Denied(m.TopLevel()) {
			r.log.Debug("module denied", "module", name)
			return
		}
		if !r.py.IsLocal(m.Path) {
			return
		}
		res.Modules = append(res.Modules, m)
		queue = append(queue, m)
	}

	// Running a submodule imports its parent packages first.
	if ep.Kind == KindModule {
		for _, p := range parents(entry.Name) {
			visit(p, false)
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := queue[0]
		queue = queue[1:]
		if m.Kind == Namespace {
			continue
		}
		src, err := os.ReadFile(m.Path)
		if err != nil {
			r.log.Warn("cannot scan module", "module", m.Name, "path", m.Path, "err", err)
			continue
		}
		for _, imp := range Scan(src) {
			target, ok := absoluteName(imp, m)
			if !ok {
				unresolved[strings.Repeat(".", imp.Level)+imp.Module] = true
				continue
			}
			for _, p := range parents(target) {
				visit(p, false)
			}
			visit(target, false)
			// from-import targets may be attributes, not submodules.
			for _, n := range imp.Names {
				visit(target+"."+n, true)
			}
		}
	}

	for name := range unresolved {
		res.Unresolved = append(res.Unresolved, name)
	}
	sort.Strings(res.Unresolved)
	r.log.Debug("closure resolved",
		"entrypoint", ep.String(),
		"modules", len(res.Modules),
		"unresolved", len(res.Unresolved))
	return res, nil
}

// parents returns the enclosing package names of a dotted name,
// outermost first.
func parents(name string) []string {
	var out []string
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out = append(out, name[:i])
		}
	}
	return out
}

// absoluteName resolves a relative import against the package of
// the importing module. It fails when the importer has no package or
// the import climbs above the top-level package.
func absoluteName(imp Import, from *Module) (string, bool) {
	if imp.Level == 0 {
		return imp.Module, true
	}
	pkg := from.Parent()
	if pkg == "" {
		return "", false
	}
	parts := strings.Split(pkg, ".")
	up := imp.Level - 1
	if up >= len(parts) {
		return "", false
	}
	base := strings.Join(parts[:len(parts)-up], ".")
	if imp.Module == "" {
		return base, true
	}
	return base + "." + imp.Module, true
}
