package mountapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/automount/pkg/config"
	"github.com/tqbf/automount/pkg/logging"
	"github.com/tqbf/automount/pkg/mount"
	"github.com/tqbf/automount/pkg/mountserver"
	"github.com/tqbf/automount/pkg/pack"
	"github.com/tqbf/automount/pkg/protocol"
)

func makeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func newServer(t *testing.T, token string, wrap func(http.Handler) http.Handler) (*mountserver.Server, *httptest.Server) {
	t.Helper()
	s := mountserver.New(mountserver.NewMemoryStore(), mountserver.Options{
		Token:  token,
		Logger: logging.Discard(),
	})
	h := s.Handler()
	if wrap != nil {
		h = wrap(h)
	}
	hs := httptest.NewServer(h)
	t.Cleanup(hs.Close)
	return s, hs
}

func buildDir(t *testing.T, id string, files map[string]string) *pack.Built {
	t.Helper()
	dir := t.TempDir()
	makeTree(t, dir, files)
	spec := mount.NewDirMount(dir, "/root", nil)
	spec.ID = id
	b, err := pack.Build(context.Background(), spec, pack.Options{Logger: logging.Discard()})
	require.NoError(t, err)
	return b
}

func newUploader(url, token string, retries int) *Uploader {
	up := NewUploader(New(url, token), retries)
	up.InitialInterval = time.Millisecond
	up.Logger = logging.Discard()
	return up
}

func TestPing(t *testing.T) {
	_, hs := newServer(t, "", nil)
	info, err := New(hs.URL+"/", "").Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.Version, info.Version)
	assert.Zero(t, info.Mounts)
}

func TestAPIErrors(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/ping":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"nope","code":"forbidden"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down\n"))
		}
	}))
	defer hs.Close()
	c := New(hs.URL, "")

	_, err := c.Ping(context.Background())
	var api *APIError
	require.True(t, errors.As(err, &api))
	assert.Equal(t, http.StatusForbidden, api.StatusCode)
	assert.Equal(t, "forbidden", api.Code)
	assert.Equal(t, "api 403 (forbidden): nope", err.Error())
	assert.False(t, api.Temporary())

	_, err = c.GetMount(context.Background(), "mo-1")
	require.True(t, errors.As(err, &api))
	assert.Equal(t, "upstream down", api.Message)
	assert.True(t, api.Temporary())
}

func TestUpload(t *testing.T) {
	s, hs := newServer(t, "tok", nil)
	ctx := context.Background()
	up := newUploader(hs.URL, "tok", 0)

	b := buildDir(t, "auto:/src", map[string]string{
		"app.py":                "import pkg",
		"pkg/a.py":              "same",
		"pkg/b.py":              "same",
		"pkg/c.cpython-312.pyc": "bytecode",
	})
	id, err := up.Upload(ctx, "dep-1", b)
	require.NoError(t, err)
	assert.Equal(t, "mo-1", id)
	assert.Equal(t, 2, s.BlobUploads())

	names := s.FilesNameToHash()
	assert.Len(t, names, 3)
	assert.Equal(t, b.Manifest["/root/pkg/a.py"].Hash, names["/root/pkg/b.py"])

	// A second upload of the same content sends no blobs.
	id, err = up.Upload(ctx, "dep-2", b)
	require.NoError(t, err)
	assert.Equal(t, "mo-2", id)
	assert.Equal(t, 2, s.BlobUploads())

	info, err := up.Client.GetMount(ctx, "mo-2")
	require.NoError(t, err)
	assert.Equal(t, "auto:/src", info.Name)
	assert.Equal(t, "dep-2", info.Deployment)
	assert.True(t, info.Manifest().Equal(b.Manifest))

	dest := t.TempDir()
	n, err := up.Client.PullMount(ctx, "mo-1", dest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	data, err := os.ReadFile(filepath.Join(dest, "root", "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "import pkg", string(data))

	rc, err := up.Client.GetBlob(ctx, b.Manifest["/root/pkg/a.py"].Hash)
	require.NoError(t, err)
	rc.Close()
}

func TestUploadUnauthorized(t *testing.T) {
	_, hs := newServer(t, "tok", nil)
	up := newUploader(hs.URL, "wrong", 3)

	_, err := up.Upload(context.Background(), "d", buildDir(t, "x", map[string]string{"a.py": "a"}))
	var api *APIError
	require.True(t, errors.As(err, &api))
	assert.Equal(t, http.StatusUnauthorized, api.StatusCode)
}

// flakyBlobs fails the first n blob uploads with a 503.
func flakyBlobs(n int32, calls *atomic.Int32) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "PUT" && r.URL.Path == "/v1/blobs" {
				if calls.Add(1) <= n {
					w.WriteHeader(http.StatusServiceUnavailable)
					w.Write([]byte(`{"error":"busy","code":"unavailable"}`))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	s, hs := newServer(t, "", flakyBlobs(2, &calls))
	up := newUploader(hs.URL, "", 3)

	id, err := up.Upload(context.Background(), "d", buildDir(t, "x", map[string]string{"a.py": "a"}))
	require.NoError(t, err)
	assert.Equal(t, "mo-1", id)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 1, s.MountCount())
}

func TestUploadGivesUp(t *testing.T) {
	var calls atomic.Int32
	s, hs := newServer(t, "", flakyBlobs(100, &calls))
	up := newUploader(hs.URL, "", 2)

	_, err := up.Upload(context.Background(), "d", buildDir(t, "x", map[string]string{"a.py": "a"}))
	var api *APIError
	require.True(t, errors.As(err, &api))
	assert.Equal(t, http.StatusServiceUnavailable, api.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
	assert.Zero(t, s.MountCount())
}

func TestUploadDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	_, hs := newServer(t, "", func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "PUT" {
				calls.Add(1)
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"hash mismatch","code":"hash_mismatch"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	up := newUploader(hs.URL, "", 5)

	_, err := up.Upload(context.Background(), "d", buildDir(t, "x", map[string]string{"a.py": "a"}))
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestUploadCancelled(t *testing.T) {
	_, hs := newServer(t, "", nil)
	up := newUploader(hs.URL, "", 5)
	b := buildDir(t, "x", map[string]string{"a.py": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := up.Upload(ctx, "d", b)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveToken(t *testing.T) {
	ctx := context.Background()

	tok, err := ResolveToken(ctx, config.Server{Token: "direct", TokenCommand: "false"})
	require.NoError(t, err)
	assert.Equal(t, "direct", tok)

	tok, err = ResolveToken(ctx, config.Server{})
	require.NoError(t, err)
	assert.Empty(t, tok)

	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"bare", "echo abc123", "abc123"},
		{"json", `echo '{"token":"from-json"}'`, "from-json"},
		{"header", `printf 'GET /\nauthorization: Bearer hdr-tok\r\nhost: x\n'`, "hdr-tok"},
		{"last line", `printf 'fetching...\n\ntok-last\n\n'`, "tok-last"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := ResolveToken(ctx, config.Server{TokenCommand: tt.command})
			require.NoError(t, err)
			assert.Equal(t, tt.want, tok)
		})
	}

	_, err = ResolveToken(ctx, config.Server{TokenCommand: "true"})
	assert.ErrorContains(t, err, "no token")

	_, err = ResolveToken(ctx, config.Server{TokenCommand: "echo oops >&2; exit 3"})
	assert.ErrorContains(t, err, "oops")
}
