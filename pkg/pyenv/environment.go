// Package pyenv describes a Python installation and decides whether a
// module's source file is local user code or part of that
// installation.
package pyenv

import (
	"os"
	"path/filepath"
	"strings"
)

// Environment is a snapshot of an interpreter's layout. Paths may be
// reported through symlinks; Resolver canonicalizes them.
type Environment struct {
	Executable   string   `json:"executable"`
	Version      string   `json:"version"`
	Prefix       string   `json:"prefix"`
	BasePrefix   string   `json:"base_prefix"`
	ExecPrefix   string   `json:"exec_prefix"`
	Stdlib       []string `json:"stdlib"`
	SitePackages []string `json:"site_packages"`
	SearchPath   []string `json:"path"`
	// Builtins are the modules compiled into the interpreter; they
	// have no file on any search path entry.
	Builtins []string `json:"builtin_modules,omitempty"`

	// ExternalPackages are directories of packages installed
	// non-editably outside the standard roots (e.g. a pdm cache).
	ExternalPackages []string `json:"external_packages,omitempty"`
}

// InstallationCandidates lists every directory that is considered
// pre-existing in the remote environment, unresolved.
func (e *Environment) InstallationCandidates() []string {
	var out []string
	add := func(p string) {
		if p != "" {
			out = append(out, p)
		}
	}
	add(e.Prefix)
	add(e.BasePrefix)
	add(e.ExecPrefix)
	for _, p := range e.Stdlib {
		add(p)
	}
	for _, p := range e.SitePackages {
		add(p)
	}
	return out
}

// FromEnv builds a best-effort Environment from VIRTUAL_ENV and
// PYTHONPATH without running an interpreter.
func FromEnv() *Environment {
	env := &Environment{}
	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		env.Prefix = venv
		matches, _ := filepath.Glob(
			filepath.Join(venv, "lib", "python3*", "site-packages"),
		)
		env.SitePackages = append(env.SitePackages, matches...)
		if cfg, err := readPyvenvHome(venv); err == nil && cfg != "" {
			env.BasePrefix = filepath.Dir(cfg)
		}
	}
	if pp := os.Getenv("PYTHONPATH"); pp != "" {
		env.SearchPath = append(
			env.SearchPath, filepath.SplitList(pp)...,
		)
	}
	env.SearchPath = append(env.SearchPath, env.SitePackages...)
	return env
}

// readPyvenvHome returns the "home" key of pyvenv.cfg, the bin
// directory of the base interpreter.
func readPyvenvHome(venv string) (string, error) {
	data, err := os.ReadFile(filepath.Join(venv, "pyvenv.cfg"))
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "home" {
			return strings.TrimSpace(val), nil
		}
	}
	return "", nil
}
