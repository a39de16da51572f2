package mountserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tqbf/automount/pkg/config"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobStore holds file content addressed by sha256 hex digest. Put is
// only called with content already checked against its hash.
type BlobStore interface {
	Has(ctx context.Context, hash string) (bool, error)
	Put(ctx context.Context, hash string, size int64, r io.Reader) error
	Open(ctx context.Context, hash string) (io.ReadCloser, error)
}

// OpenStore builds the store cfg names.
func OpenStore(ctx context.Context, cfg config.Store) (BlobStore, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "disk":
		return NewDiskStore(cfg.Dir)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Has(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[hash]
	return ok, nil
}

func (m *MemoryStore) Put(_ context.Context, hash string, size int64, r io.Reader) error {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, r); err != nil {
		return err
	}
	m.mu.Lock()
	m.blobs[hash] = buf.Bytes()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Open(_ context.Context, hash string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.blobs[hash]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, hash)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// DiskStore keeps blobs under Dir, fanned out by the first two hex
// digits of the hash.
type DiskStore struct {
	Dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("disk store: no directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("disk store: %w", err)
	}
	return &DiskStore{Dir: dir}, nil
}

func (d *DiskStore) path(hash string) string {
	return filepath.Join(d.Dir, hash[:2], hash)
}

func (d *DiskStore) Has(_ context.Context, hash string) (bool, error) {
	_, err := os.Stat(d.path(hash))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Put writes to a temp file in the fan-out dir and renames it into
// place, so a reader never sees a partial blob.
func (d *DiskStore) Put(_ context.Context, hash string, _ int64, r io.Reader) error {
	target := d.path(hash)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (d *DiskStore) Open(_ context.Context, hash string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, hash)
	}
	return f, err
}
