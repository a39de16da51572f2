// Package mount describes bundles of local files placed under a
// remote path prefix, and enumerates their contents lazily.
package mount

import (
	"fmt"
	"iter"
	"path"
	"strings"

	"github.com/tqbf/automount/pkg/classify"
	"github.com/tqbf/automount/pkg/paths"
)

// DefaultRemotePrefix is where auto-mounted code lands remotely.
const DefaultRemotePrefix = "/root"

type Origin string

const (
	OriginExplicit   Origin = "explicit"
	OriginAuto       Origin = "auto"
	OriginEntrypoint Origin = "entrypoint"
)

// Spec is a named mount. Declaring one never touches the filesystem;
// entries are produced only when Enumerate's sequence is iterated.
type Spec struct {
	ID           string
	Tag          string
	Origin       Origin
	RemotePrefix string
	Sources      []Source
}

// NewDirMount mounts the included contents of local at remotePrefix.
func NewDirMount(
	local, remotePrefix string,
	c *classify.Classifier,
) *Spec {
	return &Spec{
		Origin:       OriginExplicit,
		RemotePrefix: cleanPrefix(remotePrefix),
		Sources:      []Source{&Dir{Local: local, Classifier: c}},
	}
}

// NewFileMount mounts a single file at the absolute remote path.
func NewFileMount(local, remotePath string) *Spec {
	remotePath = path.Clean("/" + remotePath)
	return &Spec{
		Origin:       OriginExplicit,
		RemotePrefix: path.Dir(remotePath),
		Sources: []Source{&File{
			Local: local, Remote: path.Base(remotePath),
		}},
	}
}

// NewPathMount places local at the absolute remote path: a directory's
// included contents land under it, a file lands as it. Which one local
// is gets decided each time the spec is enumerated.
func NewPathMount(
	local, remotePath string,
	c *classify.Classifier,
) *Spec {
	remotePath = path.Clean("/" + remotePath)
	prefix, name := path.Dir(remotePath), path.Base(remotePath)
	if remotePath == "/" {
		name = ""
	}
	return &Spec{
		Origin:       OriginExplicit,
		RemotePrefix: prefix,
		Sources: []Source{&Path{
			Local: local, Remote: name, Classifier: c,
		}},
	}
}

func cleanPrefix(p string) string {
	if p == "" {
		return DefaultRemotePrefix
	}
	return path.Clean("/" + p)
}

// Root is the local path of the first source, for diagnostics.
func (s *Spec) Root() string {
	if len(s.Sources) == 0 {
		return ""
	}
	return s.Sources[0].LocalRoot()
}

// RemotePath returns the absolute remote path of e within s.
func (s *Spec) RemotePath(e FileEntry) string {
	return paths.RemoteJoin(s.RemotePrefix, e.RemotePath)
}

func (s *Spec) String() string {
	roots := make([]string, 0, len(s.Sources))
	for _, src := range s.Sources {
		roots = append(roots, src.LocalRoot())
	}
	return fmt.Sprintf("%s[%s] %s -> %s",
		s.ID, s.Origin, strings.Join(roots, ","), s.RemotePrefix)
}

// Enumerate returns a lazy, restartable sequence over the spec's
// files. Non-fatal problems are yielded as *Warning and iteration
// continues; any other error is the last value yielded.
func (s *Spec) Enumerate() iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		seen := make(map[string]string)
		dedupe := func(e FileEntry, err error) bool {
			if err != nil {
				return yield(e, err)
			}
			if prev, ok := seen[e.RemotePath]; ok {
				return fail(yield, &ConfigError{
					Path: e.LocalPath,
					Err: fmt.Errorf("%w: %s (also from %s)",
						ErrDuplicatePath, s.RemotePath(e), prev),
				})
			}
			seen[e.RemotePath] = e.LocalPath
			return yield(e, nil)
		}
		for _, src := range s.Sources {
			if !src.walk(dedupe) {
				return
			}
		}
	}
}
