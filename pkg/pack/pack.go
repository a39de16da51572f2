package pack

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// OpenFunc opens the content stored under hash.
type OpenFunc func(hash string) (io.ReadCloser, error)

// PackBlobs writes a tarball with one flat entry per hash, read from
// the local file blobs maps it to. Entries are written in hash order.
func PackBlobs(
	w io.Writer,
	blobs map[string]string,
	hashes []string,
	compress bool,
) (int, error) {
	tw, finish := newTarWriter(w, compress)

	sorted := append([]string(nil), hashes...)
	sort.Strings(sorted)

	count := 0
	for _, h := range sorted {
		local, ok := blobs[h]
		if !ok {
			finish()
			return count, fmt.Errorf("no local source for blob %s", h)
		}
		if err := addFileToTar(tw, local, h); err != nil {
			finish()
			return count, err
		}
		count++
	}
	return count, finish()
}

// PackMount writes a tarball laying out m by remote path, with the
// leading slash dropped. Parent directories come first.
func PackMount(
	w io.Writer,
	m Manifest,
	open OpenFunc,
	compress bool,
) (int, error) {
	tw, finish := newTarWriter(w, compress)

	names := make([]string, 0, len(m))
	for _, p := range m.Paths() {
		names = append(names, strings.TrimPrefix(p, "/"))
	}
	for _, d := range collectDirs(names) {
		err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     d + "/",
			Mode:     0755,
			ModTime:  time.Time{},
		})
		if err != nil {
			finish()
			return 0, fmt.Errorf("write dir header: %w", err)
		}
	}

	count := 0
	for _, name := range names {
		e := m["/"+name]
		if err := addBlobToTar(tw, open, e, name); err != nil {
			finish()
			return count, err
		}
		count++
	}
	return count, finish()
}

func newTarWriter(w io.Writer, compress bool) (*tar.Writer, func() error) {
	if !compress {
		tw := tar.NewWriter(w)
		return tw, tw.Close
	}
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)
	return tw, func() error {
		if err := tw.Close(); err != nil {
			gw.Close()
			return err
		}
		return gw.Close()
	}
}

func addFileToTar(
	tw *tar.Writer,
	absPath, name string,
) error {
	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", absPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}

	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: time.Time{},
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	n, err := io.Copy(tw, f)
	if err != nil {
		return fmt.Errorf("write body %s: %w", name, err)
	}
	if n != info.Size() {
		return fmt.Errorf("%s changed while packing", absPath)
	}
	return nil
}

func addBlobToTar(
	tw *tar.Writer,
	open OpenFunc,
	e ManifestEntry,
	name string,
) error {
	rc, err := open(e.Hash)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", e.Hash, err)
	}
	defer rc.Close()

	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(e.Mode & 0777),
		Size:    e.Size,
		ModTime: time.Time{},
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := io.CopyN(tw, rc, e.Size); err != nil {
		return fmt.Errorf("write body %s: %w", name, err)
	}
	return nil
}

func collectDirs(filePaths []string) []string {
	seen := make(map[string]bool)
	var result []string

	for _, p := range filePaths {
		dir := path.Dir(p)
		if dir == "." || dir == "/" {
			continue
		}
		parts := strings.Split(dir, "/")
		for i := range parts {
			d := strings.Join(parts[:i+1], "/")
			if !seen[d] {
				seen[d] = true
				result = append(result, d)
			}
		}
	}
	return result
}
