package pack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tqbf/automount/pkg/mount"
	"github.com/tqbf/automount/pkg/paths"
)

const defaultBufferSize = 1 << 20

type Options struct {
	// Workers bounds concurrent file reads; zero means NumCPU.
	Workers    int
	BufferSize int
	Logger     *slog.Logger
}

func (o Options) workers(jobs int) int {
	n := o.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return min(n, jobs)
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Build enumerates spec and hashes every entry. Warnings from
// enumeration are kept on the result; a configuration error or any
// read failure while hashing fails the build.
func Build(
	ctx context.Context,
	spec *mount.Spec,
	opts Options,
) (*Built, error) {
	entries, warnings, err := mount.Collect(ctx, spec.Enumerate())
	if err != nil {
		return nil, err
	}
	log := opts.logger()
	for _, w := range warnings {
		log.Warn("skipped entry",
			"mount", spec.ID, "kind", w.Kind, "path", w.Path, "err", w.Err)
	}
	m, hashed, err := Hash(ctx, spec.RemotePrefix, entries, opts)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", spec.ID, err)
	}
	log.Debug("built manifest",
		"mount", spec.ID, "files", len(m), "digest", m.Digest())
	return &Built{
		Spec:     spec,
		Manifest: m,
		Entries:  hashed,
		Warnings: warnings,
	}, nil
}

// Hash streams each entry through sha256 on a bounded pool of
// workers. Results are merged only after every worker finished, so
// the returned manifest never reflects a partial build. Returned
// entries are copies with Fingerprint set.
func Hash(
	ctx context.Context,
	prefix string,
	entries []mount.FileEntry,
	opts Options,
) (Manifest, []mount.FileEntry, error) {
	workers := opts.workers(len(entries))
	if workers == 0 {
		return Manifest{}, nil, ctx.Err()
	}
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}

	results := make([]ManifestEntry, len(entries))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range entries {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for range workers {
		g.Go(func() error {
			buf := make([]byte, bufSize)
			for i := range jobs {
				e, err := hashFile(gctx, entries[i].LocalPath, buf)
				if err != nil {
					return err
				}
				e.Path = paths.RemoteJoin(prefix, entries[i].RemotePath)
				results[i] = e
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	manifest := make(Manifest, len(results))
	hashed := make([]mount.FileEntry, len(entries))
	for i, r := range results {
		if prev, ok := manifest[r.Path]; ok {
			return nil, nil, fmt.Errorf("%w: %s (%s)",
				mount.ErrDuplicatePath, r.Path, prev.Hash)
		}
		manifest[r.Path] = r
		hashed[i] = entries[i]
		hashed[i].Fingerprint = r.Hash
	}
	return manifest, hashed, nil
}

func hashFile(
	ctx context.Context,
	absPath string,
	buf []byte,
) (ManifestEntry, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return ManifestEntry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ManifestEntry{}, err
	}

	h := sha256.New()
	if _, err := io.CopyBuffer(h, ctxReader{ctx, f}, buf); err != nil {
		return ManifestEntry{}, fmt.Errorf("read %s: %w", absPath, err)
	}

	return ManifestEntry{
		Hash: hex.EncodeToString(h.Sum(nil)),
		Mode: int(info.Mode().Perm()),
		Size: info.Size(),
	}, nil
}

// HashReader returns the hex sha256 of everything read from r.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
