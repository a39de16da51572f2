package closure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tqbf/automount/pkg/mount"
)

func joinRemote(root, rel string) string {
	return path.Join("/", root, rel)
}

type group struct {
	dir     string
	sources map[string]mount.Source
}

// Mounts derives one auto mount per search path entry that
// contributed local modules. Each mount places its top-level
// packages (whole, classifier-filtered) and single-file modules
// under RemoteRoot. A script or serialized origin joins the mount of
// its own directory as a single file.
func (r *Resolver) Mounts(res *Result) []*mount.Spec {
	var (
		order  []string
		groups = make(map[string]*group)
	)
	add := func(dir, remote string, src mount.Source) {
		g, ok := groups[dir]
		if !ok {
			g = &group{dir: dir, sources: make(map[string]mount.Source)}
			groups[dir] = g
			order = append(order, dir)
		}
		if _, dup := g.sources[remote]; !dup {
			g.sources[remote] = src
		}
	}

	for _, m := range res.Modules {
		if m == res.Entry && res.Entrypoint.Kind != KindModule {
			if res.Entrypoint.Kind == KindSerialized &&
				r.opts.SerializedOrigin == OmitOrigin {
				continue
			}
			name := filepath.Base(m.Path)
			add(filepath.Dir(m.Path), name,
				&mount.File{Local: m.Path, Remote: name})
			continue
		}

		top := m.TopLevel()
		switch {
		case m.Kind == Namespace && !strings.Contains(m.Name, "."):
			for _, d := range m.Dirs {
				if !r.py.IsLocal(d) {
					continue
				}
				add(filepath.Dir(d), top, &mount.Dir{
					Local: d, Remote: top, Classifier: r.opts.Classifier,
				})
			}
		case m.Kind == Source && !strings.Contains(m.Name, "."):
			add(m.SearchDir(), top+".py",
				&mount.File{Local: m.Path, Remote: top + ".py"})
		default:
			add(m.SearchDir(), top, &mount.Dir{
				Local: m.TopLevelPath(), Remote: top,
				Classifier: r.opts.Classifier,
			})
		}
	}

	specs := make([]*mount.Spec, 0, len(order))
	for _, dir := range order {
		g := groups[dir]
		names := make([]string, 0, len(g.sources))
		for n := range g.sources {
			names = append(names, n)
		}
		sort.Strings(names)
		spec := &mount.Spec{
			ID:           "auto:" + dir + ":" + sourcesDigest(names, g.sources),
			Origin:       mount.OriginAuto,
			RemotePrefix: r.opts.RemoteRoot,
		}
		for _, n := range names {
			spec.Sources = append(spec.Sources, g.sources[n])
		}
		specs = append(specs, spec)
	}
	return specs
}

// sourcesDigest names a group by what it ships, so two closures
// rooted in one directory only share an ID when they share sources.
func sourcesDigest(names []string, sources map[string]mount.Source) string {
	h := sha256.New()
	for _, n := range names {
		fmt.Fprintf(h, "%s\x00%s\n", n, sources[n].LocalRoot())
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// EntrypointMount returns the entrypoint's own mount without
// scanning imports: a script's file at RemoteRoot, or the whole
// top-level package of a module. It returns nil when policy omits a
// serialized origin.
func (r *Resolver) EntrypointMount(ep Entrypoint) (*mount.Spec, error) {
	entry, _, err := r.resolveEntry(ep)
	if err != nil {
		return nil, err
	}
	spec := &mount.Spec{
		ID:           "entry:" + entry.Path,
		Origin:       mount.OriginEntrypoint,
		RemotePrefix: r.opts.RemoteRoot,
	}

	switch {
	case ep.Kind == KindSerialized && r.opts.SerializedOrigin == OmitOrigin:
		return nil, nil
	case ep.Kind != KindModule:
		name := filepath.Base(entry.Path)
		spec.Sources = []mount.Source{&mount.File{Local: entry.Path, Remote: name}}
	case entry.Kind == Source && !strings.Contains(entry.Name, "."):
		name := entry.TopLevel() + ".py"
		spec.Sources = []mount.Source{&mount.File{Local: entry.Path, Remote: name}}
	default:
		top := entry.TopLevelPath()
		spec.ID = "entry:" + top
		spec.Sources = []mount.Source{&mount.Dir{
			Local: top, Remote: entry.TopLevel(), Classifier: r.opts.Classifier,
		}}
	}
	r.log.Debug("entrypoint mount", "entrypoint", ep.String(), "mount", spec.String())
	return spec, nil
}

// Describe renders the result for humans.
func (res *Result) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entrypoint: %s -> %s\n", res.Entrypoint, res.Placement)
	for _, m := range res.Modules {
		fmt.Fprintf(&b, "  %-30s %-9s %s\n", m.Name, m.Kind, m.Path)
	}
	if len(res.Unresolved) > 0 {
		fmt.Fprintf(&b, "unresolved: %s\n", strings.Join(res.Unresolved, ", "))
	}
	return b.String()
}
