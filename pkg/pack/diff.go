package pack

import "sort"

// DiffResult plans bringing an uploaded mount up to date with a
// freshly built manifest.
type DiffResult struct {
	Uploads   []string
	Deletes   []string
	Unchanged int
}

// Empty reports whether nothing needs to change remotely.
func (d DiffResult) Empty() bool {
	return len(d.Uploads) == 0 && len(d.Deletes) == 0
}

func ComputeDiff(
	local, remote Manifest,
	deleteEnabled bool,
) DiffResult {
	var result DiffResult

	for path, le := range local {
		re, exists := remote[path]
		switch {
		case !exists || le.Hash != re.Hash:
			result.Uploads = append(result.Uploads, path)
		default:
			result.Unchanged++
		}
	}

	if deleteEnabled {
		for path := range remote {
			if _, exists := local[path]; !exists {
				result.Deletes = append(result.Deletes, path)
			}
		}
	}

	sort.Strings(result.Uploads)
	sort.Strings(result.Deletes)
	return result
}

// MissingBlobs lists the distinct hashes of m for which have reports
// false, sorted.
func MissingBlobs(m Manifest, have func(hash string) bool) []string {
	var out []string
	for _, h := range m.Hashes() {
		if !have(h) {
			out = append(out, h)
		}
	}
	return out
}
