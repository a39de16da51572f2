package pyenv

import (
	"log/slog"
	"path/filepath"
	"slices"
	"sort"

	"github.com/tqbf/automount/pkg/paths"
)

// Overrides adjusts which top-level packages may be auto-mounted
// regardless of where they live. Deny wins unless the name is also
// allowed.
type Overrides struct {
	Allow []string
	Deny  []string
}

// Denied reports whether the top-level package name must not be
// auto-mounted.
func (o Overrides) Denied(name string) bool {
	if slices.Contains(o.Allow, name) {
		return false
	}
	return slices.Contains(o.Deny, name)
}

// Resolver answers locality questions against a fixed Environment.
// Roots are resolved once at construction.
type Resolver struct {
	env       *Environment
	roots     []string
	external  []string
	overrides Overrides
}

func NewResolver(env *Environment, overrides Overrides) *Resolver {
	if env == nil {
		env = &Environment{}
	}
	r := &Resolver{env: env, overrides: overrides}
	r.roots = resolveAll(env.InstallationCandidates())
	r.external = resolveAll(env.ExternalPackages)
	return r
}

func resolveAll(candidates []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		real, err := paths.Resolve(c)
		if err != nil {
			slog.Debug("skip unresolvable root", "path", c, "err", err)
			continue
		}
		// A root of "/" would make every path non-local.
		if real == filepath.Dir(real) {
			continue
		}
		if !seen[real] {
			seen[real] = true
			out = append(out, real)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) Environment() *Environment { return r.env }

func (r *Resolver) Overrides() Overrides { return r.overrides }

// Roots returns the resolved installation roots, sorted.
func (r *Resolver) Roots() []string {
	return slices.Clone(r.roots)
}

// IsLocal reports whether modulePath is user code: after symlink
// resolution it is under no installation root and no externally
// installed package directory.
func (r *Resolver) IsLocal(modulePath string) bool {
	real, err := paths.Resolve(modulePath)
	if err != nil {
		return false
	}
	if paths.IsWithinAny(r.roots, real) {
		return false
	}
	return !paths.IsWithinAny(r.external, real)
}
