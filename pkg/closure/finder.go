package closure

import (
	"os"
	"path/filepath"
	"strings"
)

type ModuleKind int

const (
	// Source is a single-file module (name.py).
	Source ModuleKind = iota
	// Package is a regular package (name/__init__.py).
	Package
	// Namespace is a package without __init__.py, possibly split
	// across several search path entries.
	Namespace
	// Extension is a compiled module file (name.so, name.*.so or
	// name.pyd). It cannot be scanned or shipped.
	Extension
	// Builtin is compiled into the interpreter and has no file.
	Builtin
)

func (k ModuleKind) String() string {
	switch k {
	case Source:
		return "source"
	case Package:
		return "package"
	case Namespace:
		return "namespace"
	case Extension:
		return "extension"
	case Builtin:
		return "builtin"
	default:
		return "unknown"
	}
}

// Module is a resolved Python module.
type Module struct {
	Name string
	Kind ModuleKind
	// Path is the source file, or the first portion directory of a
	// namespace package.
	Path string
	// Dirs are the directories submodules are searched in: the
	// package directory, or every namespace portion.
	Dirs []string
}

// IsPackage reports whether the module can contain submodules.
func (m *Module) IsPackage() bool { return m.Kind == Package || m.Kind == Namespace }

// Compiled reports whether m has no Python source to scan or ship.
func (m *Module) Compiled() bool { return m.Kind == Extension || m.Kind == Builtin }

// TopLevel is the first component of the dotted name.
func (m *Module) TopLevel() string {
	top, _, _ := strings.Cut(m.Name, ".")
	return top
}

// Parent is the package that relative imports inside m resolve
// against.
func (m *Module) Parent() string {
	if m.IsPackage() {
		return m.Name
	}
	i := strings.LastIndexByte(m.Name, '.')
	if i < 0 {
		return ""
	}
	return m.Name[:i]
}

// base is the on-disk location of m with any .py or /__init__.py
// removed, so that walking up one level per dotted component reaches
// the search path entry.
func (m *Module) base() string {
	switch m.Kind {
	case Package:
		return filepath.Dir(m.Path)
	case Source:
		return strings.TrimSuffix(m.Path, ".py")
	case Extension:
		last := m.Name[strings.LastIndexByte(m.Name, '.')+1:]
		return filepath.Join(filepath.Dir(m.Path), last)
	default:
		return m.Path
	}
}

// TopLevelPath is the directory or file of m's top-level module.
func (m *Module) TopLevelPath() string {
	p := m.base()
	for range strings.Count(m.Name, ".") {
		p = filepath.Dir(p)
	}
	if m.Kind == Source && !strings.Contains(m.Name, ".") {
		return m.Path
	}
	return p
}

// SearchDir is the search path entry m was found under.
func (m *Module) SearchDir() string {
	top := m.base()
	for range strings.Count(m.Name, ".") {
		top = filepath.Dir(top)
	}
	return filepath.Dir(top)
}

// finder resolves dotted names against a search path the way the
// interpreter's path finder does: builtins win outright, in each entry
// a regular package wins over a module file, an extension module wins
// over a source file, and namespace portions are used only if no entry
// has any of them.
type finder struct {
	search   []string
	builtins map[string]bool
	cache    map[string]*Module
}

func newFinder(search, builtins []string) *finder {
	f := &finder{
		search:   search,
		builtins: make(map[string]bool, len(builtins)),
		cache:    make(map[string]*Module),
	}
	for _, b := range builtins {
		f.builtins[b] = true
	}
	return f
}

func (f *finder) find(name string) *Module {
	if m, ok := f.cache[name]; ok {
		return m
	}
	m := f.lookup(name)
	f.cache[name] = m
	return m
}

func (f *finder) lookup(name string) *Module {
	dirs := f.search
	last := name
	if f.builtins[name] {
		return &Module{Name: name, Kind: Builtin}
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		parent := f.find(name[:i])
		if parent == nil || !parent.IsPackage() {
			return nil
		}
		dirs = parent.Dirs
		last = name[i+1:]
	}

	var portions []string
	for _, d := range dirs {
		pkgDir := filepath.Join(d, last)
		init := filepath.Join(pkgDir, "__init__.py")
		if isFile(init) {
			return &Module{
				Name: name, Kind: Package, Path: init,
				Dirs: []string{pkgDir},
			}
		}
		if ext := extensionFile(d, last); ext != "" {
			return &Module{Name: name, Kind: Extension, Path: ext}
		}
		if file := pkgDir + ".py"; isFile(file) {
			return &Module{Name: name, Kind: Source, Path: file}
		}
		if isDir(pkgDir) {
			portions = append(portions, pkgDir)
		}
	}
	if len(portions) == 0 {
		return nil
	}
	return &Module{
		Name: name, Kind: Namespace, Path: portions[0], Dirs: portions,
	}
}

// extensionFile returns the compiled module file for name in dir, if
// any. Tagged names such as name.cpython-312-x86_64-linux-gnu.so and
// name.abi3.so are matched along with plain name.so and name.pyd.
func extensionFile(dir, name string) string {
	for _, p := range []string{name + ".so", name + ".pyd"} {
		if file := filepath.Join(dir, p); isFile(file) {
			return file
		}
	}
	for _, suffix := range []string{".so", ".pyd"} {
		matches, _ := filepath.Glob(filepath.Join(dir, name+".*"+suffix))
		for _, m := range matches {
			if isFile(m) {
				return m
			}
		}
	}
	return ""
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
