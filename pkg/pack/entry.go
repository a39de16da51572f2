// Package pack hashes mount contents into manifests and moves file
// content around as tarballs of hash-named blobs.
package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/tqbf/automount/pkg/mount"
)

type ManifestEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Mode int    `json:"mode"`
	Size int64  `json:"size"`
}

// Manifest maps absolute remote paths to their content.
type Manifest map[string]ManifestEntry

// Equal reports whether both manifests hold the same paths with the
// same content hashes. Mode and size are not compared.
func (m Manifest) Equal(o Manifest) bool {
	if len(m) != len(o) {
		return false
	}
	for p, e := range m {
		oe, ok := o[p]
		if !ok || oe.Hash != e.Hash {
			return false
		}
	}
	return true
}

// Paths returns the manifest's remote paths, sorted.
func (m Manifest) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Hashes returns the distinct content hashes, sorted.
func (m Manifest) Hashes() []string {
	seen := make(map[string]bool, len(m))
	var out []string
	for _, e := range m {
		if !seen[e.Hash] {
			seen[e.Hash] = true
			out = append(out, e.Hash)
		}
	}
	sort.Strings(out)
	return out
}

// Digest is a stable identity for the path->hash mapping. Equal
// manifests have equal digests.
func (m Manifest) Digest() string {
	h := sha256.New()
	for _, p := range m.Paths() {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(m[p].Hash))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Built is a spec whose contents have been enumerated and hashed.
type Built struct {
	Spec     *mount.Spec
	Manifest Manifest
	// Entries carry their Fingerprint, in enumeration order.
	Entries  []mount.FileEntry
	Warnings []*mount.Warning
}

func (b *Built) ID() string { return b.Spec.ID }

// Blobs maps each content hash to one local file holding it.
func (b *Built) Blobs() map[string]string {
	out := make(map[string]string, len(b.Entries))
	for _, e := range b.Entries {
		if _, ok := out[e.Fingerprint]; !ok {
			out[e.Fingerprint] = e.LocalPath
		}
	}
	return out
}

// ValidHash reports whether h looks like a hex sha256 digest.
func ValidHash(h string) bool {
	if len(h) != sha256.Size*2 {
		return false
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
