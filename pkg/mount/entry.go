package mount

import (
	"context"
	"errors"
	"io/fs"
	"iter"
)

// FileEntry is one file of a mount. RemotePath is slash-separated and
// relative to the owning Spec's RemotePrefix. For a symlink LocalPath
// is the link itself and RealPath its target; content and size come
// from the target.
type FileEntry struct {
	LocalPath   string
	RealPath    string
	RemotePath  string
	Size        int64
	Mode        fs.FileMode
	Fingerprint string
}

// Collect drains seq, splitting warnings from the first fatal error.
// It stops early when ctx is done.
func Collect(
	ctx context.Context,
	seq iter.Seq2[FileEntry, error],
) ([]FileEntry, []*Warning, error) {
	var (
		entries  []FileEntry
		warnings []*Warning
	)
	for e, err := range seq {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, warnings, ctxErr
		}
		if err != nil {
			var w *Warning
			if errors.As(err, &w) {
				warnings = append(warnings, w)
				continue
			}
			return nil, warnings, err
		}
		entries = append(entries, e)
	}
	return entries, warnings, nil
}
