// Package harness builds on-disk fixtures and in-process servers
// shared by tests and the simulate command.
package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tqbf/automount/pkg/pyenv"
)

// MakeTree writes files (slash-separated relative paths) under dir.
func MakeTree(dir string, files map[string]string) error {
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

// Project is the example project: pkg_a holds the entrypoints and
// some plain modules, pkg_b is imported by them, pkg_c is not.
type Project struct {
	Root string
	// Script imports a, b.c, b.e and pkg_b.
	Script string
	// Serialized is the recorded origin of a serialized callable.
	Serialized string
	// Package is the module entrypoint, run as pkg_a.package.
	Package string
	// ImportsAST imports only the standard library.
	ImportsAST string
}

var projectFiles = map[string]string{
	"pkg_a/__init__.py": "",
	"pkg_a/a.py":        "A = 1\n",
	"pkg_a/b/c.py":      "C = 3\n",
	"pkg_a/b/e.py":      "E = 5\n",
	"pkg_a/d.py":        "D = 4\n",
	"pkg_a/script.py": `"""Entrypoint run as a script.

import pkg_c  (mentioned in a docstring, never imported)
"""
import a
import b.c
from b import e  # noqa
import pkg_b

import os, sys


def f():
    return a.A + b.c.C + e.E + pkg_b.F
`,
	"pkg_a/serialized_fn.py": `import a
import b.c, b.e
from pkg_b import (
    f,
)


def f():
    return a.A
`,
	"pkg_a/package.py": `from . import a
from .b import c, e
from . import d as _d
import pkg_b
`,
	"pkg_b/__init__.py": "from .f import F\n",
	"pkg_b/f.py":        "F = 6\n",
	"pkg_b/g/h.py":      "H = 8\n",
	"pkg_c/__init__.py": "",
	"pkg_c/i.py":        "I = 9\n",
	"pkg_c/j/k.py":      "K = 11\n",
	"imports_ast.py":    "import ast\n\nprint(ast.parse('1'))\n",
}

// WriteProject lays out the example project under dir.
func WriteProject(dir string) (*Project, error) {
	if err := MakeTree(dir, projectFiles); err != nil {
		return nil, fmt.Errorf("write project: %w", err)
	}
	return &Project{
		Root:       dir,
		Script:     filepath.Join(dir, "pkg_a", "script.py"),
		Serialized: filepath.Join(dir, "pkg_a", "serialized_fn.py"),
		Package:    "pkg_a.package",
		ImportsAST: filepath.Join(dir, "imports_ast.py"),
	}, nil
}

// ScriptFiles are the remote paths a script-mode deploy of
// Project.Script ships.
var ScriptFiles = []string{
	"/root/a.py",
	"/root/b/c.py",
	"/root/b/e.py",
	"/root/pkg_b/__init__.py",
	"/root/pkg_b/f.py",
	"/root/pkg_b/g/h.py",
	"/root/script.py",
}

// PackageFiles are the remote paths a module-mode deploy of
// Project.Package ships.
var PackageFiles = []string{
	"/root/pkg_a/__init__.py",
	"/root/pkg_a/a.py",
	"/root/pkg_a/b/c.py",
	"/root/pkg_a/b/e.py",
	"/root/pkg_a/d.py",
	"/root/pkg_a/package.py",
	"/root/pkg_a/script.py",
	"/root/pkg_a/serialized_fn.py",
	"/root/pkg_b/__init__.py",
	"/root/pkg_b/f.py",
	"/root/pkg_b/g/h.py",
}

// SymlinkedFiles writes foo.txt and a symlink bar.txt pointing at it.
func SymlinkedFiles(dir string) error {
	src := filepath.Join(dir, "foo.txt")
	if err := os.WriteFile(src, []byte("Hello"), 0644); err != nil {
		return err
	}
	return os.Symlink(src, filepath.Join(dir, "bar.txt"))
}

// HiddenParent writes a package bar inside a dot-prefixed directory
// and returns bar's path.
func HiddenParent(dir string) (string, error) {
	err := MakeTree(filepath.Join(dir, ".parent"), map[string]string{
		"bar/__init__.py":           "",
		"bar/baz.py":                "",
		"bar/.hidden_dir/mod.py":    "",
		"bar/.hidden_mod.py":        "",
		"bar/__pycache__/baz.pyc":   "",
		"bar/__pycache__/x.cpython": "",
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".parent", "bar"), nil
}

// Installation is a fake interpreter installation.
type Installation struct {
	// Real is the installation prefix.
	Real string
	// Link is a symlink to Real, if requested.
	Link string
	Env  *pyenv.Environment
}

// WriteInstallation creates a minimal interpreter layout with a
// standard library (ast, os, json) and one site package (six). With
// viaLink, the environment reports every path through a symlink to
// the installation, the way some version managers do.
func WriteInstallation(dir string, viaLink bool) (*Installation, error) {
	real := filepath.Join(dir, "python-real")
	err := MakeTree(real, map[string]string{
		"bin/python3":                         "",
		"lib/python3.12/ast.py":               "import json\n",
		"lib/python3.12/os.py":                "",
		"lib/python3.12/json/__init__.py":     "from .decoder import x\n",
		"lib/python3.12/json/decoder.py":      "",
		"lib/python3.12/site-packages/six.py": "",
	})
	if err != nil {
		return nil, err
	}
	inst := &Installation{Real: real}
	prefix := real
	if viaLink {
		inst.Link = filepath.Join(dir, "python-install")
		if err := os.Symlink(real, inst.Link); err != nil {
			return nil, err
		}
		prefix = inst.Link
	}
	stdlib := filepath.Join(prefix, "lib", "python3.12")
	site := filepath.Join(stdlib, "site-packages")
	inst.Env = &pyenv.Environment{
		Executable:   filepath.Join(prefix, "bin", "python3"),
		Version:      "3.12.0",
		Prefix:       prefix,
		BasePrefix:   prefix,
		ExecPrefix:   prefix,
		Stdlib:       []string{stdlib},
		SitePackages: []string{site},
		SearchPath:   []string{stdlib, site},
	}
	return inst, nil
}
