// Package dedupe collapses built mounts with identical contents.
package dedupe

import (
	"sort"

	"github.com/tqbf/automount/pkg/pack"
)

// Result holds one canonical mount per distinct manifest, sorted by
// ID, and maps every input ID to the ID of its canonical mount.
type Result struct {
	Canonical []*pack.Built
	Mapping   map[string]string
}

// Dedupe groups built mounts whose manifests are equal (same remote
// paths, same hashes). The lexicographically smallest ID in a group
// is canonical. A mount whose contents are a strict subset or
// superset of another is left alone. Inputs are not modified.
func Dedupe(built []*pack.Built) Result {
	sorted := append([]*pack.Built(nil), built...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID() < sorted[j].ID()
	})

	res := Result{Mapping: make(map[string]string, len(sorted))}
	// Digest narrows candidates; Equal decides.
	byDigest := make(map[string][]*pack.Built)
	for _, b := range sorted {
		if _, dup := res.Mapping[b.ID()]; dup {
			continue
		}
		d := b.Manifest.Digest()
		canon := b
		for _, c := range byDigest[d] {
			if c.Manifest.Equal(b.Manifest) {
				canon = c
				break
			}
		}
		if canon == b {
			byDigest[d] = append(byDigest[d], b)
			res.Canonical = append(res.Canonical, b)
		}
		res.Mapping[b.ID()] = canon.ID()
	}
	return res
}

// Groups inverts Mapping: canonical ID to every ID it stands for,
// each list sorted.
func (r Result) Groups() map[string][]string {
	out := make(map[string][]string, len(r.Canonical))
	for id, canon := range r.Mapping {
		out[canon] = append(out[canon], id)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}
