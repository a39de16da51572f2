package pack

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tqbf/automount/pkg/paths"
)

var ErrHashMismatch = errors.New("blob content does not match its hash")

// PutFunc stores a verified blob. r yields exactly size bytes.
type PutFunc func(hash string, size int64, r io.Reader) error

func newTarReader(r io.Reader, compress bool) (*tar.Reader, func(), error) {
	if !compress {
		return tar.NewReader(r), func() {}, nil
	}
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("gzip reader: %w", err)
	}
	return tar.NewReader(gr), func() { gr.Close() }, nil
}

// UnpackBlobs reads a tarball written by PackBlobs. Each entry's
// content is checked against its name before put sees the result;
// put receives a reader over a buffered copy of the blob.
func UnpackBlobs(
	r io.Reader,
	compress bool,
	put PutFunc,
) (int, error) {
	tr, done, err := newTarReader(r, compress)
	if err != nil {
		return 0, err
	}
	defer done()

	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !ValidHash(hdr.Name) {
			return count, fmt.Errorf("invalid blob name %q", hdr.Name)
		}

		tmp, err := os.CreateTemp("", "blob-*")
		if err != nil {
			return count, err
		}
		err = verifyAndPut(tr, tmp, hdr, put)
		tmp.Close()
		os.Remove(tmp.Name())
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func verifyAndPut(
	tr *tar.Reader, tmp *os.File, hdr *tar.Header, put PutFunc,
) error {
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(h, tmp), tr)
	if err != nil {
		return fmt.Errorf("read blob %s: %w", hdr.Name, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != hdr.Name {
		return fmt.Errorf("%w: %s (got %s)", ErrHashMismatch, hdr.Name, got)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return put(hdr.Name, n, tmp)
}

// UnpackTar extracts a tarball written by PackMount into dir.
func UnpackTar(
	r io.Reader,
	dir string,
	compress bool,
) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}

	tr, done, err := newTarReader(r, compress)
	if err != nil {
		return 0, err
	}
	defer done()

	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		if err := validateTarPath(name); err != nil {
			return count, err
		}

		target := filepath.Join(dir, name)
		if !paths.IsWithinDir(dir, target) {
			return count, fmt.Errorf("path escapes dir: %s", name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return count, fmt.Errorf("mkdir %s: %w", name, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, hdr); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func extractFile(
	tr *tar.Reader, target string, hdr *tar.Header,
) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}

	f, err := os.OpenFile(
		target,
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC,
		os.FileMode(hdr.Mode&0777),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", hdr.Name, err)
	}

	_, copyErr := io.Copy(f, tr)
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("write %s: %w", hdr.Name, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", hdr.Name, closeErr)
	}
	return nil
}

func validateTarPath(name string) error {
	if name == "" || name == "." {
		return nil
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("absolute path in tar: %s", name)
	}
	for _, p := range strings.Split(filepath.ToSlash(name), "/") {
		if p == ".." {
			return fmt.Errorf("path traversal in tar: %s", name)
		}
	}
	return nil
}
