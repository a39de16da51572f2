// Package app registers entrypoints and their mounts, and deploys
// them: closures are resolved, mounts built and deduplicated, and
// the survivors uploaded.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tqbf/automount/pkg/closure"
	"github.com/tqbf/automount/pkg/mount"
	"github.com/tqbf/automount/pkg/pack"
)

var (
	ErrDuplicateTag = errors.New("tag already registered")
	ErrUnknownTag   = errors.New("unknown tag")
	ErrInvalidTag   = errors.New("invalid tag")
)

type Options struct {
	// Automount resolves each entrypoint's closure. When false only
	// explicit mounts and the entrypoint's own mount are deployed.
	Automount bool
	// Workers bounds how many mounts are built or uploaded at once.
	// Zero means NumCPU.
	Workers int
	Pack    pack.Options
	// FailFast makes Deploy return an error, and stop starting new
	// work, as soon as any mount fails.
	FailFast bool
	Logger   *slog.Logger
}

// Function is one registered entrypoint.
type Function struct {
	Tag        string
	Entrypoint closure.Entrypoint
	Mounts     []*mount.Spec
}

// App collects registrations. Registering never touches the
// filesystem; all work happens in Deploy.
type App struct {
	Name string

	resolver *closure.Resolver
	opts     Options
	log      *slog.Logger

	mu        sync.Mutex
	functions []*Function
	byTag     map[string]*Function
}

func New(name string, resolver *closure.Resolver, opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &App{
		Name:     name,
		resolver: resolver,
		opts:     opts,
		log:      log.With("app", name),
		byTag:    make(map[string]*Function),
	}
}

// Tag derives a registration tag from a qualified name such as
// "module.Class.method". Nested-function markers are dropped.
func Tag(qualname string) (string, error) {
	q := strings.TrimSpace(qualname)
	q = strings.ReplaceAll(q, ".<locals>", "")
	if q == "" || strings.ContainsAny(q, " \t\n/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, qualname)
	}
	return q, nil
}

// Function registers an entrypoint and any explicit mounts under the
// tag derived from qualname.
func (a *App) Function(
	qualname string,
	ep closure.Entrypoint,
	explicit ...*mount.Spec,
) (string, error) {
	tag, err := Tag(qualname)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.byTag[tag]; dup {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
	}
	fn := &Function{Tag: tag, Entrypoint: ep}
	a.functions = append(a.functions, fn)
	a.byTag[tag] = fn
	for _, s := range explicit {
		fn.Mounts = append(fn.Mounts, a.claim(fn, s))
	}
	return tag, nil
}

// Mount associates an explicit mount with a registered tag.
func (a *App) Mount(tag string, spec *mount.Spec) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn, ok := a.byTag[tag]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	fn.Mounts = append(fn.Mounts, a.claim(fn, spec))
	return nil
}

// claim copies spec, filling in its tag and an ID when unset.
func (a *App) claim(fn *Function, spec *mount.Spec) *mount.Spec {
	s := *spec
	if s.Tag == "" {
		s.Tag = fn.Tag
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("explicit:%s:%d", fn.Tag, len(fn.Mounts))
	}
	if s.Origin == "" {
		s.Origin = mount.OriginExplicit
	}
	return &s
}

// Functions returns the registrations in order.
func (a *App) Functions() []*Function {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Function, len(a.functions))
	copy(out, a.functions)
	return out
}
