// Package mountserver receives mounts built by automount: a blob
// store for file content, and mount records naming which blob sits at
// which remote path.
package mountserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tqbf/automount/pkg/pack"
	"github.com/tqbf/automount/pkg/protocol"
)

var errStore = errors.New("store failed")

type Options struct {
	// Token, when set, is required as a bearer token on every
	// request except /metrics.
	Token  string
	Logger *slog.Logger
}

// Mount is a finalized mount.
type Mount struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Deployment string        `json:"deployment,omitempty"`
	Manifest   pack.Manifest `json:"-"`
}

// MountInfo is the wire form of a mount.
type MountInfo struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Deployment string               `json:"deployment,omitempty"`
	Files      []pack.ManifestEntry `json:"files"`
}

func (m *Mount) Info() MountInfo {
	info := MountInfo{ID: m.ID, Name: m.Name, Deployment: m.Deployment}
	for _, p := range m.Manifest.Paths() {
		info.Files = append(info.Files, m.Manifest[p])
	}
	return info
}

type Server struct {
	store  BlobStore
	token  string
	logger *slog.Logger

	mu     sync.Mutex
	mounts map[string]*Mount
	order  []string
	files  map[string]string
	blobs  int
}

func New(store BlobStore, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  store,
		token:  opts.Token,
		logger: logger,
		mounts: make(map[string]*Mount),
		files:  make(map[string]string),
	}
}

func (s *Server) Store() BlobStore { return s.store }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ping", s.handlePing)
	mux.HandleFunc("PUT /v1/blobs", s.handlePutBlobs)
	mux.HandleFunc("GET /v1/blobs/{hash}", s.handleGetBlob)
	mux.HandleFunc("GET /v1/mounts/{id}", s.handleGetMount)
	mux.HandleFunc("GET /v1/mounts/build", s.handleBuild)

	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", s.auth(mux))
	return instrument(root)
}

func (s *Server) auth(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || got != s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FilesNameToHash maps every remote path of every finalized mount to
// its content hash.
func (s *Server) FilesNameToHash() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.files))
	for k, v := range s.files {
		out[k] = v
	}
	return out
}

// Mounts returns finalized mounts in creation order.
func (s *Server) Mounts() []*Mount {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Mount, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.mounts[id])
	}
	return out
}

func (s *Server) Mount(id string) (*Mount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mounts[id]
	return m, ok
}

func (s *Server) MountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// BlobUploads counts blobs received over PUT /v1/blobs.
func (s *Server) BlobUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs
}

func (s *Server) addMount(name, deployment string, m pack.Manifest) *Mount {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("mo-%d", len(s.order)+1)
	mt := &Mount{ID: id, Name: name, Deployment: deployment, Manifest: m}
	s.mounts[id] = mt
	s.order = append(s.order, id)
	for p, e := range m {
		s.files[p] = e.Hash
	}
	return mt
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": protocol.Version,
		"mounts":  s.MountCount(),
	})
}

func (s *Server) handlePutBlobs(w http.ResponseWriter, r *http.Request) {
	compress := r.URL.Query().Get("compress") == "1"
	var bytes int64
	n, err := pack.UnpackBlobs(r.Body, compress, func(hash string, size int64, body io.Reader) error {
		if err := s.store.Put(r.Context(), hash, size, body); err != nil {
			return fmt.Errorf("%w: %s: %w", errStore, hash, err)
		}
		bytes += size
		return nil
	})
	blobsReceived.Add(float64(n))
	blobBytesReceived.Add(float64(bytes))
	s.mu.Lock()
	s.blobs += n
	s.mu.Unlock()

	if err != nil {
		status := http.StatusInternalServerError
		code := "store_failed"
		if errors.Is(err, pack.ErrHashMismatch) {
			status, code = http.StatusBadRequest, "hash_mismatch"
		} else if !errors.Is(err, errStore) {
			status, code = http.StatusBadRequest, "bad_archive"
		}
		s.logger.Warn("blob upload failed", "stored", n, "err", err)
		writeError(w, status, code, err.Error())
		return
	}
	s.logger.Debug("blobs stored", "count", n, "bytes", bytes)
	writeJSON(w, http.StatusOK, map[string]any{"count": n, "bytes": bytes})
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !pack.ValidHash(hash) {
		writeError(w, http.StatusBadRequest, "invalid_hash", "invalid hash")
		return
	}
	rc, err := s.store.Open(r.Context(), hash)
	if errors.Is(err, ErrBlobNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}

// handleGetMount returns the mount's file list, or with ?archive=1 a
// tar.gz laying the files out by remote path.
func (s *Server) handleGetMount(w http.ResponseWriter, r *http.Request) {
	m, ok := s.Mount(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such mount")
		return
	}
	if r.URL.Query().Get("archive") != "1" {
		writeJSON(w, http.StatusOK, m.Info())
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	open := func(hash string) (io.ReadCloser, error) {
		return s.store.Open(r.Context(), hash)
	}
	if _, err := pack.PackMount(w, m.Manifest, open, true); err != nil {
		// Headers are gone; the client sees a truncated archive.
		s.logger.Error("pack mount", "mount", m.ID, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
